package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/digkill/photogen/internal/models"
)

// ContextRepository stores named style presets.
type ContextRepository struct {
	db *sql.DB
}

func NewContextRepository(db *sql.DB) *ContextRepository {
	return &ContextRepository{db: db}
}

func (r *ContextRepository) GetByID(ctx context.Context, id string) (*models.StyleContext, error) {
	const query = `SELECT id, COALESCE(user_id, ''), COALESCE(team_id, ''), name, settings, created_at FROM style_contexts WHERE id = ?`
	var c models.StyleContext
	var settings string
	var created int64
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.UserID, &c.TeamID, &c.Name, &settings, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get style context: %w", err)
	}
	c.Settings = []byte(settings)
	c.CreatedAt = fromMillis(created)
	return &c, nil
}

func (r *ContextRepository) Create(ctx context.Context, c *models.StyleContext) (*models.StyleContext, error) {
	const query = `
INSERT INTO style_contexts (id, user_id, team_id, name, settings, created_at)
VALUES (?, ?, ?, ?, ?, ?)`
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	settings := c.Settings
	if len(settings) == 0 {
		settings = []byte("{}")
	}
	ms := nowMillis()
	if _, err := r.db.ExecContext(ctx, query, c.ID, nullable(c.UserID), nullable(c.TeamID), c.Name, string(settings), ms); err != nil {
		return nil, fmt.Errorf("insert style context: %w", err)
	}
	c.CreatedAt = fromMillis(ms)
	return c, nil
}
