package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/photogen/internal/models"
)

type GenerationRepository struct {
	db Querier
}

func NewGenerationRepository(db Querier) *GenerationRepository {
	return &GenerationRepository{db: db}
}

func (r *GenerationRepository) WithTx(tx *sql.Tx) *GenerationRepository {
	return &GenerationRepository{db: tx}
}

const generationColumns = `id, person_id, user_id, COALESCE(context_id, ''), package_id, status, credit_source, credits_used, provider,
generated_keys, COALESCE(accepted_key, ''), max_regenerations, remaining_regenerations, generation_group_id, is_original, group_index,
style_settings, fingerprint, COALESCE(job_id, ''), COALESCE(error_message, ''), deleted, created_at, updated_at, completed_at, accepted_at`

func scanGeneration(row interface{ Scan(...any) error }) (*models.Generation, error) {
	var g models.Generation
	var keys, settings string
	var isOriginal, deleted int
	var created, updated int64
	var completed, accepted sql.NullInt64
	if err := row.Scan(&g.ID, &g.PersonID, &g.UserID, &g.ContextID, &g.PackageID, &g.Status, &g.CreditSource, &g.CreditsUsed, &g.Provider,
		&keys, &g.AcceptedKey, &g.MaxRegenerations, &g.RemainingRegenerations, &g.GroupID, &isOriginal, &g.GroupIndex,
		&settings, &g.Fingerprint, &g.JobID, &g.ErrorMessage, &deleted, &created, &updated, &completed, &accepted); err != nil {
		return nil, err
	}
	if keys != "" {
		if err := json.Unmarshal([]byte(keys), &g.GeneratedKeys); err != nil {
			return nil, fmt.Errorf("decode generated keys: %w", err)
		}
	}
	g.StyleSettings = []byte(settings)
	g.IsOriginal = isOriginal != 0
	g.Deleted = deleted != 0
	g.CreatedAt = fromMillis(created)
	g.UpdatedAt = fromMillis(updated)
	g.CompletedAt = fromNullMillis(completed)
	g.AcceptedAt = fromNullMillis(accepted)
	return &g, nil
}

func (r *GenerationRepository) Create(ctx context.Context, g *models.Generation) (*models.Generation, error) {
	const query = `
INSERT INTO generations (id, person_id, user_id, context_id, package_id, status, credit_source, credits_used, provider,
generated_keys, max_regenerations, remaining_regenerations, generation_group_id, is_original, group_index,
style_settings, fingerprint, job_id, deleted, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.GroupID == "" {
		g.GroupID = g.ID
	}
	if g.Status == "" {
		g.Status = models.StatusPending
	}
	keys := g.GeneratedKeys
	if keys == nil {
		keys = []string{}
	}
	encodedKeys, err := json.Marshal(keys)
	if err != nil {
		return nil, fmt.Errorf("encode generated keys: %w", err)
	}
	ms := nowMillis()
	_, err = r.db.ExecContext(ctx, query, g.ID, g.PersonID, g.UserID, nullable(g.ContextID), g.PackageID, g.Status, g.CreditSource, g.CreditsUsed, g.Provider,
		string(encodedKeys), g.MaxRegenerations, g.RemainingRegenerations, g.GroupID, boolToInt(g.IsOriginal), g.GroupIndex,
		string(g.StyleSettings), g.Fingerprint, nullable(g.JobID), ms, ms)
	if err != nil {
		return nil, fmt.Errorf("insert generation: %w", err)
	}
	g.CreatedAt = fromMillis(ms)
	g.UpdatedAt = g.CreatedAt
	return g, nil
}

// GetByID returns the generation including soft-deleted rows.
func (r *GenerationRepository) GetByID(ctx context.Context, id string) (*models.Generation, error) {
	query := `SELECT ` + generationColumns + ` FROM generations WHERE id = ?`
	g, err := scanGeneration(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get generation: %w", err)
	}
	return g, nil
}

// ListByPerson returns non-deleted generations, newest first.
func (r *GenerationRepository) ListByPerson(ctx context.Context, personID string, limit, offset int) ([]models.Generation, error) {
	query := `SELECT ` + generationColumns + ` FROM generations
WHERE person_id = ? AND deleted = 0
ORDER BY created_at DESC, id DESC
LIMIT ? OFFSET ?`
	return r.list(ctx, query, personID, limit, offset)
}

// ListStalePending returns pending generations with no job id created before cutoff.
func (r *GenerationRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Generation, error) {
	query := `SELECT ` + generationColumns + ` FROM generations
WHERE status = ? AND deleted = 0 AND job_id IS NULL AND created_at < ?
ORDER BY created_at ASC
LIMIT ?`
	return r.list(ctx, query, models.StatusPending, toMillis(cutoff), limit)
}

func (r *GenerationRepository) list(ctx context.Context, query string, args ...any) ([]models.Generation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	var out []models.Generation
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

// Delete removes a row that never had a reservation written against it.
func (r *GenerationRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM generations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete generation: %w", err)
	}
	return nil
}

// MarkFailed soft-deletes a generation that could not be started.
func (r *GenerationRepository) MarkFailed(ctx context.Context, id, message string) error {
	const query = `UPDATE generations SET status = ?, error_message = ?, deleted = 1, updated_at = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, models.StatusFailed, message, nowMillis(), id); err != nil {
		return fmt.Errorf("mark generation failed: %w", err)
	}
	return nil
}

// ClaimStale fails a generation that is still pending with no job. It reports
// false when the row was already queued, failed or deleted, so only one caller
// ever compensates it.
func (r *GenerationRepository) ClaimStale(ctx context.Context, id, message string) (bool, error) {
	const query = `
UPDATE generations SET status = ?, error_message = ?, deleted = 1, updated_at = ?
WHERE id = ? AND status = ? AND deleted = 0 AND job_id IS NULL`
	res, err := r.db.ExecContext(ctx, query, models.StatusFailed, message, nowMillis(), id, models.StatusPending)
	if err != nil {
		return false, fmt.Errorf("claim stale generation: %w", err)
	}
	n, err := affected(res, "stale generation claim")
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *GenerationRepository) SoftDelete(ctx context.Context, id string) (bool, error) {
	const query = `UPDATE generations SET deleted = 1, updated_at = ? WHERE id = ? AND deleted = 0`
	res, err := r.db.ExecContext(ctx, query, nowMillis(), id)
	if err != nil {
		return false, fmt.Errorf("soft delete generation: %w", err)
	}
	n, err := affected(res, "generation delete")
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ConsumeRegeneration takes one slot from the group counter held on the
// original row. It fails without side effects when no slot is left.
func (r *GenerationRepository) ConsumeRegeneration(ctx context.Context, groupID string) (bool, error) {
	const query = `
UPDATE generations SET remaining_regenerations = remaining_regenerations - 1, updated_at = ?
WHERE id = ? AND remaining_regenerations > 0`
	res, err := r.db.ExecContext(ctx, query, nowMillis(), groupID)
	if err != nil {
		return false, fmt.Errorf("consume regeneration: %w", err)
	}
	n, err := affected(res, "regeneration")
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RestoreRegeneration gives one slot back, never above the maximum.
func (r *GenerationRepository) RestoreRegeneration(ctx context.Context, groupID string) error {
	const query = `
UPDATE generations SET remaining_regenerations = remaining_regenerations + 1, updated_at = ?
WHERE id = ? AND remaining_regenerations < max_regenerations`
	if _, err := r.db.ExecContext(ctx, query, nowMillis(), groupID); err != nil {
		return fmt.Errorf("restore regeneration: %w", err)
	}
	return nil
}

// Regenerations reads the group counter.
func (r *GenerationRepository) Regenerations(ctx context.Context, groupID string) (remaining, maximum int, err error) {
	const query = `SELECT remaining_regenerations, max_regenerations FROM generations WHERE id = ?`
	if err := r.db.QueryRowContext(ctx, query, groupID).Scan(&remaining, &maximum); err != nil {
		return 0, 0, fmt.Errorf("read regenerations: %w", err)
	}
	return remaining, maximum, nil
}

// NextGroupIndex is one past the highest index used in a group, deleted rows included.
func (r *GenerationRepository) NextGroupIndex(ctx context.Context, groupID string) (int, error) {
	const query = `SELECT COALESCE(MAX(group_index), 0) + 1 FROM generations WHERE generation_group_id = ?`
	var next int
	if err := r.db.QueryRowContext(ctx, query, groupID).Scan(&next); err != nil {
		return 0, fmt.Errorf("next group index: %w", err)
	}
	return next, nil
}

func (r *GenerationRepository) SetJobID(ctx context.Context, id, jobID string) error {
	const query = `UPDATE generations SET job_id = ?, updated_at = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, jobID, nowMillis(), id); err != nil {
		return fmt.Errorf("set job id: %w", err)
	}
	return nil
}

// SetResolvedInputs stores the input fingerprint together with settings that
// now carry the resolved asset ids.
func (r *GenerationRepository) SetResolvedInputs(ctx context.Context, id, fingerprint string, settings []byte) error {
	const query = `UPDATE generations SET fingerprint = ?, style_settings = ?, updated_at = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, fingerprint, string(settings), nowMillis(), id); err != nil {
		return fmt.Errorf("set resolved inputs: %w", err)
	}
	return nil
}

// Accept stores the output key chosen by the owner.
func (r *GenerationRepository) Accept(ctx context.Context, id, key string) (time.Time, error) {
	const query = `UPDATE generations SET accepted_key = ?, accepted_at = ?, updated_at = ? WHERE id = ? AND deleted = 0`
	ms := nowMillis()
	if _, err := r.db.ExecContext(ctx, query, key, ms, ms, id); err != nil {
		return time.Time{}, fmt.Errorf("accept generation: %w", err)
	}
	return fromMillis(ms), nil
}
