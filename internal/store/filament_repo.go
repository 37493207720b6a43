package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rainman19121979/spoolsync/internal/models"
)

// FilamentRepository mirrors Cloud filament profiles into the local cache.
type FilamentRepository interface {
	// Upsert inserts or updates the profile matching on
	// (name, material, diameter_mm) and returns the local id.
	Upsert(ctx context.Context, f *models.Filament) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Filament, error)
	ListRecent(ctx context.Context, limit int) ([]*models.Filament, error)
}

type filamentRepo struct {
	db *sql.DB
}

// NewFilamentRepository creates a new filament repository.
func NewFilamentRepository(db *sql.DB) FilamentRepository {
	return &filamentRepo{db: db}
}

func (r *filamentRepo) Upsert(ctx context.Context, f *models.Filament) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	query := `
		INSERT INTO filament (name, brand, material, diameter_mm, density_g_cm3, color_hex,
		                      nominal_weight_g, nozzle_temp_c, bed_temp_c, price, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name, material, diameter_mm) DO UPDATE SET
			brand            = excluded.brand,
			density_g_cm3    = excluded.density_g_cm3,
			color_hex        = excluded.color_hex,
			nominal_weight_g = excluded.nominal_weight_g,
			nozzle_temp_c    = excluded.nozzle_temp_c,
			bed_temp_c       = excluded.bed_temp_c,
			price            = excluded.price,
			updated_at       = excluded.updated_at
		RETURNING id`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		f.Name,
		f.Brand,
		f.Material,
		f.DiameterMM,
		f.DensityGCM3,
		f.ColorHex,
		f.NominalWeight,
		f.NozzleTempC,
		f.BedTempC,
		f.Price,
		now,
		now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert filament %q: %w", f.Name, err)
	}

	f.ID = id
	return id, nil
}

func (r *filamentRepo) GetByID(ctx context.Context, id int64) (*models.Filament, error) {
	query := `
		SELECT id, name, brand, material, diameter_mm, density_g_cm3, color_hex,
		       nominal_weight_g, nozzle_temp_c, bed_temp_c, price, created_at, updated_at
		FROM filament WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	f, err := scanFilament(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get filament %d: %w", id, err)
	}
	return f, nil
}

func (r *filamentRepo) ListRecent(ctx context.Context, limit int) ([]*models.Filament, error) {
	query := `
		SELECT id, name, brand, material, diameter_mm, density_g_cm3, color_hex,
		       nominal_weight_g, nozzle_temp_c, bed_temp_c, price, created_at, updated_at
		FROM filament ORDER BY updated_at DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list filaments: %w", err)
	}
	defer rows.Close()

	var filaments []*models.Filament
	for rows.Next() {
		f, err := scanFilament(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan filament: %w", err)
		}
		filaments = append(filaments, f)
	}
	return filaments, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFilament(row rowScanner) (*models.Filament, error) {
	var f models.Filament
	var createdAt, updatedAt string

	err := row.Scan(
		&f.ID,
		&f.Name,
		&f.Brand,
		&f.Material,
		&f.DiameterMM,
		&f.DensityGCM3,
		&f.ColorHex,
		&f.NominalWeight,
		&f.NozzleTempC,
		&f.BedTempC,
		&f.Price,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	f.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	f.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &f, nil
}
