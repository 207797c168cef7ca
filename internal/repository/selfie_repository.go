package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/digkill/photogen/internal/models"
)

type SelfieRepository struct {
	db *sql.DB
}

func NewSelfieRepository(db *sql.DB) *SelfieRepository {
	return &SelfieRepository{db: db}
}

func (r *SelfieRepository) Create(ctx context.Context, s *models.Selfie) (*models.Selfie, error) {
	const query = `INSERT INTO selfies (id, person_id, s3_key, asset_id, created_at) VALUES (?, ?, ?, ?, ?)`
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	ms := nowMillis()
	if _, err := r.db.ExecContext(ctx, query, s.ID, s.PersonID, s.Key, nullable(s.AssetID), ms); err != nil {
		return nil, fmt.Errorf("insert selfie: %w", err)
	}
	s.CreatedAt = fromMillis(ms)
	return s, nil
}

func (r *SelfieRepository) GetByID(ctx context.Context, id string) (*models.Selfie, error) {
	const query = `SELECT id, person_id, s3_key, COALESCE(asset_id, ''), created_at FROM selfies WHERE id = ?`
	var s models.Selfie
	var created int64
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&s.ID, &s.PersonID, &s.Key, &s.AssetID, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get selfie: %w", err)
	}
	s.CreatedAt = fromMillis(created)
	return &s, nil
}

// GetByIDs returns the selfies that exist among ids, in the order of ids.
func (r *SelfieRepository) GetByIDs(ctx context.Context, ids []string) ([]models.Selfie, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := `SELECT id, person_id, s3_key, COALESCE(asset_id, ''), created_at FROM selfies WHERE id IN (` + placeholders + `)`
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list selfies: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]models.Selfie, len(ids))
	for rows.Next() {
		var s models.Selfie
		var created int64
		if err := rows.Scan(&s.ID, &s.PersonID, &s.Key, &s.AssetID, &created); err != nil {
			return nil, fmt.Errorf("scan selfie: %w", err)
		}
		s.CreatedAt = fromMillis(created)
		byID[s.ID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]models.Selfie, 0, len(byID))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if s, ok := byID[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, s)
		}
	}
	return out, nil
}

// LinkAsset records the resolved asset on a selfie that has none yet.
func (r *SelfieRepository) LinkAsset(ctx context.Context, selfieID, assetID string) (bool, error) {
	const query = `UPDATE selfies SET asset_id = ? WHERE id = ? AND asset_id IS NULL`
	res, err := r.db.ExecContext(ctx, query, assetID, selfieID)
	if err != nil {
		return false, fmt.Errorf("link selfie asset: %w", err)
	}
	n, err := affected(res, "selfie asset")
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
