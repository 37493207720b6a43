package models

import "time"

// Filament is a material profile, not a physical spool. Two filaments with
// the same (Name, Material, DiameterMM) are the same profile regardless of
// which spools reference them; differing colors are distinct profiles.
type Filament struct {
	ID            int64     `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	Brand         string    `json:"brand" db:"brand"`
	Material      string    `json:"material" db:"material"`
	DiameterMM    float64   `json:"diameter_mm" db:"diameter_mm"`
	DensityGCM3   float64   `json:"density_g_cm3" db:"density_g_cm3"`
	ColorHex      string    `json:"color_hex,omitempty" db:"color_hex"`
	NominalWeight float64   `json:"nominal_weight_g,omitempty" db:"nominal_weight_g"`
	NozzleTempC   int       `json:"nozzle_temp_c,omitempty" db:"nozzle_temp_c"`
	BedTempC      int       `json:"bed_temp_c,omitempty" db:"bed_temp_c"`
	Price         float64   `json:"price,omitempty" db:"price"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}
