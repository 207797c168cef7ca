package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/photogen/internal/models"
)

type SecurityRepository struct {
	db *sql.DB
}

func NewSecurityRepository(db *sql.DB) *SecurityRepository {
	return &SecurityRepository{db: db}
}

func (r *SecurityRepository) Insert(ctx context.Context, ev *models.SecurityEvent) (*models.SecurityEvent, error) {
	const query = `INSERT INTO security_events (id, principal_id, kind, detail, created_at) VALUES (?, ?, ?, ?, ?)`
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ms := nowMillis()
	if _, err := r.db.ExecContext(ctx, query, ev.ID, ev.PrincipalID, ev.Kind, ev.Detail, ms); err != nil {
		return nil, fmt.Errorf("insert security event: %w", err)
	}
	ev.CreatedAt = fromMillis(ms)
	return ev, nil
}

// CountSince counts a principal's events at or after since.
func (r *SecurityRepository) CountSince(ctx context.Context, principalID string, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM security_events WHERE principal_id = ? AND created_at >= ?`
	var count int
	if err := r.db.QueryRowContext(ctx, query, principalID, toMillis(since)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count security events: %w", err)
	}
	return count, nil
}
