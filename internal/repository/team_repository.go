package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/digkill/photogen/internal/models"
)

type TeamRepository struct {
	db Querier
}

func NewTeamRepository(db Querier) *TeamRepository {
	return &TeamRepository{db: db}
}

func (r *TeamRepository) WithTx(tx *sql.Tx) *TeamRepository {
	return &TeamRepository{db: tx}
}

func (r *TeamRepository) GetByID(ctx context.Context, id string) (*models.Team, error) {
	const query = `SELECT id, name, admin_user_id, credits, created_at, updated_at FROM teams WHERE id = ?`
	var t models.Team
	var created, updated int64
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&t.ID, &t.Name, &t.AdminUserID, &t.Credits, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get team: %w", err)
	}
	t.CreatedAt = fromMillis(created)
	t.UpdatedAt = fromMillis(updated)
	return &t, nil
}

func (r *TeamRepository) Create(ctx context.Context, team *models.Team) (*models.Team, error) {
	const query = `
INSERT INTO teams (id, name, admin_user_id, credits, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)`
	if team.ID == "" {
		team.ID = uuid.NewString()
	}
	ms := nowMillis()
	if _, err := r.db.ExecContext(ctx, query, team.ID, team.Name, team.AdminUserID, team.Credits, ms, ms); err != nil {
		return nil, fmt.Errorf("insert team: %w", err)
	}
	team.CreatedAt = fromMillis(ms)
	team.UpdatedAt = team.CreatedAt
	return team, nil
}

func (r *TeamRepository) Credits(ctx context.Context, id string) (int, error) {
	const query = `SELECT credits FROM teams WHERE id = ?`
	var credits int
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&credits); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("read team credits: %w", err)
	}
	return credits, nil
}

// ConsumeCredits debits the team pool only if it covers amount.
func (r *TeamRepository) ConsumeCredits(ctx context.Context, id string, amount int) (bool, error) {
	const query = `
UPDATE teams SET credits = credits - ?, updated_at = ?
WHERE id = ? AND credits >= ?`
	res, err := r.db.ExecContext(ctx, query, amount, nowMillis(), id, amount)
	if err != nil {
		return false, fmt.Errorf("consume team credits: %w", err)
	}
	n, err := affected(res, "team credits")
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *TeamRepository) AddCredits(ctx context.Context, id string, amount int) error {
	const query = `UPDATE teams SET credits = credits + ?, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, amount, nowMillis(), id)
	if err != nil {
		return fmt.Errorf("add team credits: %w", err)
	}
	n, err := affected(res, "team credits")
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("add team credits: team %s not found", id)
	}
	return nil
}

func (r *TeamRepository) GetInvite(ctx context.Context, token string) (*models.TeamInvite, error) {
	const query = `SELECT token, team_id, COALESCE(context_id, ''), credit_allocation, created_at FROM team_invites WHERE token = ?`
	var inv models.TeamInvite
	var created int64
	if err := r.db.QueryRowContext(ctx, query, token).Scan(&inv.Token, &inv.TeamID, &inv.ContextID, &inv.CreditAllocation, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get invite: %w", err)
	}
	inv.CreatedAt = fromMillis(created)
	return &inv, nil
}

func (r *TeamRepository) CreateInvite(ctx context.Context, inv *models.TeamInvite) (*models.TeamInvite, error) {
	const query = `
INSERT INTO team_invites (token, team_id, context_id, credit_allocation, created_at)
VALUES (?, ?, ?, ?, ?)`
	if inv.Token == "" {
		inv.Token = uuid.NewString()
	}
	ms := nowMillis()
	if _, err := r.db.ExecContext(ctx, query, inv.Token, inv.TeamID, nullable(inv.ContextID), inv.CreditAllocation, ms); err != nil {
		return nil, fmt.Errorf("insert invite: %w", err)
	}
	inv.CreatedAt = fromMillis(ms)
	return inv, nil
}
