package models

import "time"

// SyncSource tags where a mirrored record originated.
type SyncSource string

const (
	SourceInv   SyncSource = "inv"
	SourceCloud SyncSource = "cloud"
)

// Spool is a physical spool instance owned by exactly one Inv-side spool
// record. LotNr carries the Cloud 4-character code and is unique.
type Spool struct {
	ID            int64      `json:"id" db:"id"`
	FilamentID    int64      `json:"filament_id" db:"filament_id"`
	LotNr         string     `json:"lot_nr" db:"lot_nr"`
	SpoolWeightG  float64    `json:"spool_weight_g" db:"spool_weight_g"`
	InitialWeight float64    `json:"initial_weight_g" db:"initial_weight_g"`
	UsedWeightG   float64    `json:"used_weight_g" db:"used_weight_g"`
	Price         float64    `json:"price" db:"price"`
	Archived      bool       `json:"archived" db:"archived"`
	Source        SyncSource `json:"source" db:"source"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// ExternalLink resolves stable cross-system identity. One local entity
// holds at most one link per system, an external id maps to at most one
// local entity, and losing a link never invalidates the local entity.
type ExternalLink struct {
	ID         int64     `json:"id" db:"id"`
	LocalType  string    `json:"local_type" db:"local_type"`
	LocalID    int64     `json:"local_id" db:"local_id"`
	System     string    `json:"system" db:"system"`
	ExternalID string    `json:"external_id" db:"external_id"`
	LastSeen   time.Time `json:"last_seen" db:"last_seen"`
}

// ChangeEntry is one append-only record of a field-level mutation applied
// during a sync run.
type ChangeEntry struct {
	ID       string     `json:"id" db:"id"`
	Entity   string     `json:"entity" db:"entity"`
	EntityID int64      `json:"entity_id" db:"entity_id"`
	Field    string     `json:"field" db:"field"`
	OldValue string     `json:"old_value" db:"old_value"`
	NewValue string     `json:"new_value" db:"new_value"`
	Source   SyncSource `json:"source" db:"source"`
	TS       time.Time  `json:"ts" db:"ts"`
}
