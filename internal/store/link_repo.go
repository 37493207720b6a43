package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rainman19121979/spoolsync/internal/models"
)

// LinkRepository records weak references between local entities and their
// upstream identifiers.
type LinkRepository interface {
	Upsert(ctx context.Context, link *models.ExternalLink) error
	GetByExternal(ctx context.Context, system, externalID string) (*models.ExternalLink, error)
}

type linkRepo struct {
	db *sql.DB
}

// NewLinkRepository creates a new external link repository.
func NewLinkRepository(db *sql.DB) LinkRepository {
	return &linkRepo{db: db}
}

func (r *linkRepo) Upsert(ctx context.Context, link *models.ExternalLink) error {
	// An external id resolves to at most one local entity. A re-pointed id
	// would trip the (system, external_id) constraint on the upsert, so the
	// stale row goes first.
	clear := `
		DELETE FROM external_link
		WHERE system = ? AND external_id = ?
		  AND NOT (local_type = ? AND local_id = ?)`
	if _, err := r.db.ExecContext(ctx, clear,
		link.System, link.ExternalID, link.LocalType, link.LocalID,
	); err != nil {
		return fmt.Errorf("failed to clear stale link %s/%s: %w",
			link.System, link.ExternalID, err)
	}

	query := `
		INSERT INTO external_link (local_type, local_id, system, external_id, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (local_type, local_id, system) DO UPDATE SET
			external_id = excluded.external_id,
			last_seen   = excluded.last_seen`

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := r.db.ExecContext(ctx, query,
		link.LocalType, link.LocalID, link.System, link.ExternalID, now,
	); err != nil {
		return fmt.Errorf("failed to upsert link %s/%d -> %s/%s: %w",
			link.LocalType, link.LocalID, link.System, link.ExternalID, err)
	}
	return nil
}

func (r *linkRepo) GetByExternal(ctx context.Context, system, externalID string) (*models.ExternalLink, error) {
	query := `
		SELECT id, local_type, local_id, system, external_id, last_seen
		FROM external_link WHERE system = ? AND external_id = ?`

	var link models.ExternalLink
	var lastSeen string
	err := r.db.QueryRowContext(ctx, query, system, externalID).Scan(
		&link.ID, &link.LocalType, &link.LocalID, &link.System, &link.ExternalID, &lastSeen,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get link %s/%s: %w", system, externalID, err)
	}

	link.LastSeen, _ = time.Parse(time.RFC3339, lastSeen)
	return &link, nil
}
