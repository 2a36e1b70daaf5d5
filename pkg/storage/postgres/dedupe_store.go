package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mabumohsen/veggieshop-sub000/pkg/tenant"
)

// DedupeStore is the Postgres-backed dedupe.PrimaryStore: PK
// (tenant_id, event_id, version), with INSERT ... ON CONFLICT DO UPDATE
// bumping seen_count and last_seen_at on a repeat, as
// dedupe.PrimaryStore.InsertOrBump describes.
type DedupeStore struct {
	*BaseStore
}

// NewDedupeStore builds a DedupeStore over db.
func NewDedupeStore(db *sqlx.DB) *DedupeStore {
	return &DedupeStore{BaseStore: NewBaseStore(db, "event_dedupe")}
}

// InsertOrBump attempts to insert the triplet as a first occurrence. If
// a row already exists, it bumps seen_count and last_seen_at instead
// and reports inserted=false.
func (s *DedupeStore) InsertOrBump(ctx context.Context, tenantID tenant.ID, eventID string, version int64, now time.Time, ttl time.Duration) (bool, error) {
	expiresAt := now.Add(ttl)
	query := `
		INSERT INTO event_dedupe (tenant_id, event_id, version, seen_count, first_seen_at, last_seen_at, expires_at)
		VALUES ($1, $2, $3, 1, $4, $4, $5)
		ON CONFLICT (tenant_id, event_id, version) DO UPDATE
		SET seen_count = event_dedupe.seen_count + 1, last_seen_at = $4
		RETURNING (xmax = 0) AS inserted`
	var inserted bool
	if err := s.QueryRowContext(ctx, query, string(tenantID), eventID, version, now, expiresAt).Scan(&inserted); err != nil {
		return false, err
	}
	return inserted, nil
}
