package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/photogen/internal/models"
)

// CostRepository reads the provider cost reported for a generation.
type CostRepository struct {
	db *sql.DB
}

func NewCostRepository(db *sql.DB) *CostRepository {
	return &CostRepository{db: db}
}

func (r *CostRepository) GetByGenerationID(ctx context.Context, generationID string) (*models.GenerationCost, error) {
	const query = `SELECT generation_id, provider, cost_micros, recorded_at FROM generation_costs WHERE generation_id = ?`
	var c models.GenerationCost
	var recorded int64
	if err := r.db.QueryRowContext(ctx, query, generationID).Scan(&c.GenerationID, &c.Provider, &c.CostMicros, &recorded); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get generation cost: %w", err)
	}
	c.RecordedAt = fromMillis(recorded)
	return &c, nil
}

// Record stores the actual provider cost once; later reports are ignored.
func (r *CostRepository) Record(ctx context.Context, c *models.GenerationCost) (*models.GenerationCost, error) {
	existing, err := r.GetByGenerationID(ctx, c.GenerationID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	const query = `INSERT INTO generation_costs (generation_id, provider, cost_micros, recorded_at) VALUES (?, ?, ?, ?)`
	ms := nowMillis()
	if _, err := r.db.ExecContext(ctx, query, c.GenerationID, c.Provider, c.CostMicros, ms); err != nil {
		return nil, fmt.Errorf("insert generation cost: %w", err)
	}
	c.RecordedAt = fromMillis(ms)
	return c, nil
}
