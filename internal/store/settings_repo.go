// Package store provides the data access layer over the embedded database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Recognized runtime settings keys.
const (
	KeyInvBase      = "INV_BASE"
	KeyCloudBase    = "CLOUD_BASE"
	KeyCloudOrgID   = "CLOUD_ORG_ID"
	KeyCloudToken   = "CLOUD_TOKEN" // secret
	KeySyncInterval = "SYNC_INTERVAL_SECONDS"
	KeyEpsilon      = "EPSILON_GRAMS"
	KeyDryRun       = "DRY_RUN"
	KeyLastSyncTime = "LAST_SYNC_TIME"
)

// Floor values for clamped settings.
const (
	MinSyncInterval = 30 * time.Second
	MinEpsilonGrams = 0.01
)

var settingsDefaults = map[string]string{
	KeyInvBase:      "http://127.0.0.1:7912/api/v1",
	KeyCloudBase:    "https://api.filamentcloud.io",
	KeyCloudOrgID:   "",
	KeySyncInterval: "300",
	KeyEpsilon:      "0.5",
	KeyDryRun:       "false",
	KeyLastSyncTime: "0",
}

// SettingsRepository is the durable key/value settings and secrets store.
// Typed accessors clamp and substitute defaults instead of failing; the sync
// loop must always be able to read a usable configuration.
type SettingsRepository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	GetSecret(ctx context.Context, key string) (string, error)
	SetSecret(ctx context.Context, key, value string) error
	HasSecret(ctx context.Context, key string) (bool, error)

	SyncInterval(ctx context.Context) time.Duration
	Epsilon(ctx context.Context) float64
	DryRun(ctx context.Context) bool
	LastSyncTime(ctx context.Context) time.Time
	SetLastSyncTime(ctx context.Context, t time.Time) error
}

type settingsRepo struct {
	db *sql.DB
}

// NewSettingsRepository creates a new settings repository.
func NewSettingsRepository(db *sql.DB) SettingsRepository {
	return &settingsRepo{db: db}
}

// Get returns the stored value for key, or its default when unset.
func (r *settingsRepo) Get(ctx context.Context, key string) (string, error) {
	return r.get(ctx, "settings", key)
}

// Set stores value under key.
func (r *settingsRepo) Set(ctx context.Context, key, value string) error {
	return r.set(ctx, "settings", key, value)
}

// GetSecret returns the stored secret for key, or "" when unset. Callers
// must never surface the returned plaintext into logs or responses.
func (r *settingsRepo) GetSecret(ctx context.Context, key string) (string, error) {
	v, err := r.get(ctx, "secrets", key)
	if err != nil {
		return "", err
	}
	return v, nil
}

// SetSecret stores a secret value under key.
func (r *settingsRepo) SetSecret(ctx context.Context, key, value string) error {
	return r.set(ctx, "secrets", key, value)
}

// HasSecret reports whether a non-empty secret is stored for key.
func (r *settingsRepo) HasSecret(ctx context.Context, key string) (bool, error) {
	v, err := r.GetSecret(ctx, key)
	if err != nil {
		return false, err
	}
	return v != "", nil
}

// SyncInterval returns the scheduler period, clamped to at least 30 seconds.
func (r *settingsRepo) SyncInterval(ctx context.Context) time.Duration {
	v, err := r.Get(ctx, KeySyncInterval)
	if err != nil {
		v = settingsDefaults[KeySyncInterval]
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		secs = 300
	}
	d := time.Duration(secs) * time.Second
	if d < MinSyncInterval {
		d = MinSyncInterval
	}
	return d
}

// Epsilon returns the minimum weight delta in grams that triggers an update,
// clamped to at least 0.01.
func (r *settingsRepo) Epsilon(ctx context.Context) float64 {
	v, err := r.Get(ctx, KeyEpsilon)
	if err != nil {
		v = settingsDefaults[KeyEpsilon]
	}
	eps, err := strconv.ParseFloat(v, 64)
	if err != nil {
		eps = 0.5
	}
	if eps < MinEpsilonGrams {
		eps = MinEpsilonGrams
	}
	return eps
}

// DryRun reports whether mutations should be logged instead of performed.
func (r *settingsRepo) DryRun(ctx context.Context) bool {
	v, err := r.Get(ctx, KeyDryRun)
	if err != nil {
		return false
	}
	return v == "true"
}

// LastSyncTime returns the start time of the last successful tick, or the
// zero time when no tick has completed yet.
func (r *settingsRepo) LastSyncTime(ctx context.Context) time.Time {
	v, err := r.Get(ctx, KeyLastSyncTime)
	if err != nil {
		return time.Time{}
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

// SetLastSyncTime records the start time of a successful tick.
func (r *settingsRepo) SetLastSyncTime(ctx context.Context, t time.Time) error {
	return r.Set(ctx, KeyLastSyncTime, strconv.FormatInt(t.Unix(), 10))
}

func (r *settingsRepo) get(ctx context.Context, table, key string) (string, error) {
	query := fmt.Sprintf("SELECT value FROM %s WHERE key = ?", table)

	var value string
	err := r.db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return settingsDefaults[key], nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s %q: %w", table, key, err)
	}
	return value, nil
}

func (r *settingsRepo) set(ctx context.Context, table, key, value string) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		table)

	if _, err := r.db.ExecContext(ctx, query, key, value, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to write %s %q: %w", table, key, err)
	}
	return nil
}
