package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/photogen/internal/models"
)

type PersonRepository struct {
	db Querier
}

func NewPersonRepository(db Querier) *PersonRepository {
	return &PersonRepository{db: db}
}

// WithTx returns a copy bound to tx.
func (r *PersonRepository) WithTx(tx *sql.Tx) *PersonRepository {
	return &PersonRepository{db: tx}
}

const personColumns = `id, COALESCE(user_id, ''), name, COALESCE(team_id, ''), COALESCE(invite_token, ''), credits, credit_allocation, allocation_used, created_at, updated_at`

func scanPerson(row interface{ Scan(...any) error }) (*models.Person, error) {
	var p models.Person
	var created, updated int64
	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.TeamID, &p.InviteToken, &p.Credits, &p.CreditAllocation, &p.AllocationUsed, &created, &updated); err != nil {
		return nil, err
	}
	p.CreatedAt = fromMillis(created)
	p.UpdatedAt = fromMillis(updated)
	return &p, nil
}

func (r *PersonRepository) GetByID(ctx context.Context, id string) (*models.Person, error) {
	query := `SELECT ` + personColumns + ` FROM persons WHERE id = ?`
	p, err := scanPerson(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get person: %w", err)
	}
	return p, nil
}

// GetByUserID returns the person anchored to a login identity.
func (r *PersonRepository) GetByUserID(ctx context.Context, userID string) (*models.Person, error) {
	query := `SELECT ` + personColumns + ` FROM persons WHERE user_id = ? ORDER BY created_at ASC LIMIT 1`
	p, err := scanPerson(r.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get person by user: %w", err)
	}
	return p, nil
}

func (r *PersonRepository) Create(ctx context.Context, person *models.Person) (*models.Person, error) {
	const query = `
INSERT INTO persons (id, user_id, name, team_id, invite_token, credits, credit_allocation, allocation_used, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if person.ID == "" {
		person.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	ms := toMillis(now)
	if _, err := r.db.ExecContext(ctx, query, person.ID, nullable(person.UserID), person.Name, nullable(person.TeamID), nullable(person.InviteToken), person.Credits, person.CreditAllocation, person.AllocationUsed, ms, ms); err != nil {
		return nil, fmt.Errorf("insert person: %w", err)
	}
	person.CreatedAt = fromMillis(ms)
	person.UpdatedAt = person.CreatedAt
	return person, nil
}

// Credits reads the current individual balance.
func (r *PersonRepository) Credits(ctx context.Context, id string) (int, error) {
	const query = `SELECT credits FROM persons WHERE id = ?`
	var credits int
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&credits); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("read person credits: %w", err)
	}
	return credits, nil
}

// ConsumeCredits debits amount only if the balance covers it.
func (r *PersonRepository) ConsumeCredits(ctx context.Context, id string, amount int) (bool, error) {
	const query = `
UPDATE persons SET credits = credits - ?, updated_at = ?
WHERE id = ? AND credits >= ?`
	res, err := r.db.ExecContext(ctx, query, amount, nowMillis(), id, amount)
	if err != nil {
		return false, fmt.Errorf("consume person credits: %w", err)
	}
	n, err := affected(res, "person credits")
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PersonRepository) AddCredits(ctx context.Context, id string, amount int) error {
	const query = `UPDATE persons SET credits = credits + ?, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, amount, nowMillis(), id)
	if err != nil {
		return fmt.Errorf("add person credits: %w", err)
	}
	n, err := affected(res, "person credits")
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("add person credits: person %s not found", id)
	}
	return nil
}

// UseAllocation counts amount against an invited member's team allocation,
// failing when the allocation would be exceeded.
func (r *PersonRepository) UseAllocation(ctx context.Context, id string, amount int) (bool, error) {
	const query = `
UPDATE persons SET allocation_used = allocation_used + ?, updated_at = ?
WHERE id = ? AND allocation_used + ? <= credit_allocation`
	res, err := r.db.ExecContext(ctx, query, amount, nowMillis(), id, amount)
	if err != nil {
		return false, fmt.Errorf("use allocation: %w", err)
	}
	n, err := affected(res, "allocation")
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ReleaseAllocation gives amount back to the allocation, never below zero used.
func (r *PersonRepository) ReleaseAllocation(ctx context.Context, id string, amount int) error {
	const query = `
UPDATE persons SET allocation_used = CASE WHEN allocation_used >= ? THEN allocation_used - ? ELSE 0 END, updated_at = ?
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, amount, amount, nowMillis(), id); err != nil {
		return fmt.Errorf("release allocation: %w", err)
	}
	return nil
}

func (r *PersonRepository) ListByTeam(ctx context.Context, teamID string) ([]models.Person, error) {
	query := `SELECT ` + personColumns + ` FROM persons WHERE team_id = ? ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("list team persons: %w", err)
	}
	defer rows.Close()

	var persons []models.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		persons = append(persons, *p)
	}
	return persons, rows.Err()
}
