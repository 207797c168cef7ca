package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/photogen/internal/models"
)

type SubscriptionRepository struct {
	db *sql.DB
}

func NewSubscriptionRepository(db *sql.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) GetByUserID(ctx context.Context, userID string) (*models.Subscription, error) {
	const query = `SELECT user_id, tier, period, status, updated_at FROM subscriptions WHERE user_id = ?`
	var s models.Subscription
	var updated int64
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&s.UserID, &s.Tier, &s.Period, &s.Status, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	s.UpdatedAt = fromMillis(updated)
	return &s, nil
}

// Upsert replaces the subscription of sub.UserID.
func (r *SubscriptionRepository) Upsert(ctx context.Context, sub *models.Subscription) (*models.Subscription, error) {
	err := InTx(ctx, r.db, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscriptions WHERE user_id = ?`, sub.UserID).Scan(&count); err != nil {
			return fmt.Errorf("check subscription: %w", err)
		}
		ms := nowMillis()
		if count > 0 {
			const update = `UPDATE subscriptions SET tier = ?, period = ?, status = ?, updated_at = ? WHERE user_id = ?`
			if _, err := tx.ExecContext(ctx, update, sub.Tier, sub.Period, sub.Status, ms, sub.UserID); err != nil {
				return fmt.Errorf("update subscription: %w", err)
			}
		} else {
			const insert = `INSERT INTO subscriptions (user_id, tier, period, status, updated_at) VALUES (?, ?, ?, ?, ?)`
			if _, err := tx.ExecContext(ctx, insert, sub.UserID, sub.Tier, sub.Period, sub.Status, ms); err != nil {
				return fmt.Errorf("insert subscription: %w", err)
			}
		}
		sub.UpdatedAt = fromMillis(ms)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}
