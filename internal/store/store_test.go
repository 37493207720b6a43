package store

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rainman19121979/spoolsync/internal/config"
	"github.com/rainman19121979/spoolsync/internal/database"
)

// testDB opens a fresh migrated database in a temp dir.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path: filepath.Join(t.TempDir(), "spoolsync.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.RunMigrations())
	return db.DB()
}
