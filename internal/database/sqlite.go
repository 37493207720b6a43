// Package database provides the embedded SQLite store used as the local
// cache and settings backend.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/rainman19121979/spoolsync/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLite wraps the embedded database handle.
type SQLite struct {
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) the database file at cfg.Path with
// write-ahead logging enabled so dashboard readers never block the sync
// writer.
func Open(cfg config.DatabaseConfig) (*SQLite, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)",
		cfg.Path,
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The sync loop is the single writer; one connection avoids SQLITE_BUSY
	// on concurrent write attempts from the settings handler.
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLite{db: db, path: cfg.Path}, nil
}

// DB returns the underlying handle.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RunMigrations applies all pending schema migrations.
func (s *SQLite) RunMigrations() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migrations source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, "sqlite://"+s.path)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic.
func (s *SQLite) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
