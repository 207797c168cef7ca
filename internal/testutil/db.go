// Package testutil provides an in-memory database migrated like production.
package testutil

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/digkill/photogen/internal/database"
)

// NewDB opens a fresh in-memory sqlite database with the full schema.
func NewDB(t testing.TB) *sql.DB {
	t.Helper()
	db, err := database.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db))
	return db
}
