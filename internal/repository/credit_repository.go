package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/digkill/photogen/internal/models"
)

// CreditRepository is the append-only credit ledger.
type CreditRepository struct {
	db Querier
}

func NewCreditRepository(db Querier) *CreditRepository {
	return &CreditRepository{db: db}
}

func (r *CreditRepository) WithTx(tx *sql.Tx) *CreditRepository {
	return &CreditRepository{db: tx}
}

func (r *CreditRepository) Insert(ctx context.Context, tx *models.CreditTransaction) (*models.CreditTransaction, error) {
	const query = `
INSERT INTO credit_transactions (id, person_id, team_id, pool, generation_id, type, delta, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	ms := nowMillis()
	if _, err := r.db.ExecContext(ctx, query, tx.ID, tx.PersonID, nullable(tx.TeamID), tx.Pool, nullable(tx.GenerationID), tx.Type, tx.Delta, ms); err != nil {
		return nil, fmt.Errorf("insert credit transaction: %w", err)
	}
	tx.CreatedAt = fromMillis(ms)
	return tx, nil
}

// ListByPerson returns ledger entries newest first.
func (r *CreditRepository) ListByPerson(ctx context.Context, personID string, limit int) ([]models.CreditTransaction, error) {
	const query = `
SELECT id, person_id, COALESCE(team_id, ''), pool, COALESCE(generation_id, ''), type, delta, created_at
FROM credit_transactions
WHERE person_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?`
	return r.list(ctx, query, personID, limit)
}

func (r *CreditRepository) ListByGeneration(ctx context.Context, generationID string) ([]models.CreditTransaction, error) {
	const query = `
SELECT id, person_id, COALESCE(team_id, ''), pool, COALESCE(generation_id, ''), type, delta, created_at
FROM credit_transactions
WHERE generation_id = ?
ORDER BY created_at ASC, id ASC`
	return r.list(ctx, query, generationID)
}

func (r *CreditRepository) list(ctx context.Context, query string, args ...any) ([]models.CreditTransaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list credit transactions: %w", err)
	}
	defer rows.Close()

	var out []models.CreditTransaction
	for rows.Next() {
		var t models.CreditTransaction
		var created int64
		if err := rows.Scan(&t.ID, &t.PersonID, &t.TeamID, &t.Pool, &t.GenerationID, &t.Type, &t.Delta, &created); err != nil {
			return nil, fmt.Errorf("scan credit transaction: %w", err)
		}
		t.CreatedAt = fromMillis(created)
		out = append(out, t)
	}
	return out, rows.Err()
}

// NetForGeneration sums every ledger delta written against a generation.
func (r *CreditRepository) NetForGeneration(ctx context.Context, generationID string) (int, error) {
	const query = `SELECT COALESCE(SUM(delta), 0) FROM credit_transactions WHERE generation_id = ?`
	var net int
	if err := r.db.QueryRowContext(ctx, query, generationID).Scan(&net); err != nil {
		return 0, fmt.Errorf("sum generation ledger: %w", err)
	}
	return net, nil
}
