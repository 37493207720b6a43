package database

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rainman19121979/spoolsync/internal/config"
)

func openTestDB(t *testing.T) *SQLite {
	t.Helper()

	db, err := Open(config.DatabaseConfig{
		Path: filepath.Join(t.TempDir(), "spoolsync.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.RunMigrations())
	return db
}

func TestRunMigrationsIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.RunMigrations())
	require.NoError(t, db.Ping(context.Background()))
}

func TestWithTxCommitsOnSuccess(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO settings (key, value, updated_at) VALUES ('tx_key', 'v1', '2024-05-01T10:00:00Z')`)
		return err
	})
	require.NoError(t, err)

	var value string
	require.NoError(t, db.DB().QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = 'tx_key'`).Scan(&value))
	assert.Equal(t, "v1", value)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO settings (key, value, updated_at) VALUES ('tx_key', 'v1', '2024-05-01T10:00:00Z')`); err != nil {
			return err
		}
		return fmt.Errorf("boom")
	})
	require.EqualError(t, err, "boom")

	var count int
	require.NoError(t, db.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM settings WHERE key = 'tx_key'`).Scan(&count))
	assert.Zero(t, count)
}
