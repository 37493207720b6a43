package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rainman19121979/spoolsync/internal/models"
	"github.com/rainman19121979/spoolsync/internal/pkg/ulid"
)

// ChangeLogRepository appends field-level mutation records. The log is
// append-only; nothing in the sync path ever updates or deletes entries.
type ChangeLogRepository interface {
	Append(ctx context.Context, entry *models.ChangeEntry) error
	ListByEntity(ctx context.Context, entity string, entityID int64, limit int) ([]*models.ChangeEntry, error)
}

type changeLogRepo struct {
	db *sql.DB
}

// NewChangeLogRepository creates a new change log repository.
func NewChangeLogRepository(db *sql.DB) ChangeLogRepository {
	return &changeLogRepo{db: db}
}

func (r *changeLogRepo) Append(ctx context.Context, entry *models.ChangeEntry) error {
	if entry.ID == "" {
		entry.ID = ulid.New()
	}
	if entry.TS.IsZero() {
		entry.TS = time.Now().UTC()
	}

	query := `
		INSERT INTO change_log (id, entity, entity_id, field, old_value, new_value, source, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	if _, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.Entity,
		entry.EntityID,
		entry.Field,
		entry.OldValue,
		entry.NewValue,
		string(entry.Source),
		entry.TS.Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("failed to append change log entry for %s/%d: %w", entry.Entity, entry.EntityID, err)
	}
	return nil
}

func (r *changeLogRepo) ListByEntity(ctx context.Context, entity string, entityID int64, limit int) ([]*models.ChangeEntry, error) {
	query := `
		SELECT id, entity, entity_id, field, old_value, new_value, source, ts
		FROM change_log WHERE entity = ? AND entity_id = ?
		ORDER BY ts DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, entity, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list change log: %w", err)
	}
	defer rows.Close()

	var entries []*models.ChangeEntry
	for rows.Next() {
		var e models.ChangeEntry
		var source, ts string
		if err := rows.Scan(&e.ID, &e.Entity, &e.EntityID, &e.Field, &e.OldValue, &e.NewValue, &source, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan change log entry: %w", err)
		}
		e.Source = models.SyncSource(source)
		e.TS, _ = time.Parse(time.RFC3339, ts)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
