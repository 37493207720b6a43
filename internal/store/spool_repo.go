package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rainman19121979/spoolsync/internal/models"
)

// SpoolRepository mirrors physical spool state into the local cache.
type SpoolRepository interface {
	// Upsert inserts or updates the spool matching on lot_nr and returns the
	// local id.
	Upsert(ctx context.Context, s *models.Spool) (int64, error)
	GetByLotNr(ctx context.Context, lotNr string) (*models.Spool, error)
	DeleteByLotNr(ctx context.Context, lotNr string) error
	ListRecent(ctx context.Context, limit int) ([]*models.Spool, error)
}

type spoolRepo struct {
	db *sql.DB
}

// NewSpoolRepository creates a new spool repository.
func NewSpoolRepository(db *sql.DB) SpoolRepository {
	return &spoolRepo{db: db}
}

func (r *spoolRepo) Upsert(ctx context.Context, s *models.Spool) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	query := `
		INSERT INTO spool (filament_id, lot_nr, spool_weight_g, initial_weight_g, used_weight_g,
		                   price, archived, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (lot_nr) DO UPDATE SET
			filament_id      = excluded.filament_id,
			spool_weight_g   = excluded.spool_weight_g,
			initial_weight_g = excluded.initial_weight_g,
			used_weight_g    = excluded.used_weight_g,
			price            = excluded.price,
			archived         = excluded.archived,
			source           = excluded.source,
			updated_at       = excluded.updated_at
		RETURNING id`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		s.FilamentID,
		s.LotNr,
		s.SpoolWeightG,
		s.InitialWeight,
		s.UsedWeightG,
		s.Price,
		s.Archived,
		string(s.Source),
		now,
		now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert spool %q: %w", s.LotNr, err)
	}

	s.ID = id
	return id, nil
}

func (r *spoolRepo) GetByLotNr(ctx context.Context, lotNr string) (*models.Spool, error) {
	query := `
		SELECT id, filament_id, lot_nr, spool_weight_g, initial_weight_g, used_weight_g,
		       price, archived, source, created_at, updated_at
		FROM spool WHERE lot_nr = ?`

	row := r.db.QueryRowContext(ctx, query, lotNr)
	s, err := scanSpool(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get spool %q: %w", lotNr, err)
	}
	return s, nil
}

func (r *spoolRepo) DeleteByLotNr(ctx context.Context, lotNr string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM spool WHERE lot_nr = ?", lotNr); err != nil {
		return fmt.Errorf("failed to delete spool %q: %w", lotNr, err)
	}
	return nil
}

func (r *spoolRepo) ListRecent(ctx context.Context, limit int) ([]*models.Spool, error) {
	query := `
		SELECT id, filament_id, lot_nr, spool_weight_g, initial_weight_g, used_weight_g,
		       price, archived, source, created_at, updated_at
		FROM spool ORDER BY updated_at DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list spools: %w", err)
	}
	defer rows.Close()

	var spools []*models.Spool
	for rows.Next() {
		s, err := scanSpool(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan spool: %w", err)
		}
		spools = append(spools, s)
	}
	return spools, rows.Err()
}

func scanSpool(row rowScanner) (*models.Spool, error) {
	var s models.Spool
	var source, createdAt, updatedAt string

	err := row.Scan(
		&s.ID,
		&s.FilamentID,
		&s.LotNr,
		&s.SpoolWeightG,
		&s.InitialWeight,
		&s.UsedWeightG,
		&s.Price,
		&s.Archived,
		&source,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Source = models.SyncSource(source)
	s.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	s.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &s, nil
}
