package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Keys stored in app_settings.
const (
	SettingFreePackageStyle = "free_package_style"
)

type SettingsRepository struct {
	db *sql.DB
}

func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get returns the stored value, or nil when the key is unset.
func (r *SettingsRepository) Get(ctx context.Context, key string) ([]byte, error) {
	const query = `SELECT value FROM app_settings WHERE setting_key = ?`
	var value string
	if err := r.db.QueryRowContext(ctx, query, key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get setting %s: %w", key, err)
	}
	return []byte(value), nil
}

func (r *SettingsRepository) Put(ctx context.Context, key string, value []byte) error {
	return InTx(ctx, r.db, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM app_settings WHERE setting_key = ?`, key).Scan(&count); err != nil {
			return fmt.Errorf("check setting %s: %w", key, err)
		}
		ms := nowMillis()
		if count > 0 {
			if _, err := tx.ExecContext(ctx, `UPDATE app_settings SET value = ?, updated_at = ? WHERE setting_key = ?`, string(value), ms, key); err != nil {
				return fmt.Errorf("update setting %s: %w", key, err)
			}
			return nil
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO app_settings (setting_key, value, updated_at) VALUES (?, ?, ?)`, key, string(value), ms); err != nil {
			return fmt.Errorf("insert setting %s: %w", key, err)
		}
		return nil
	})
}
