// Package idempotency implements the idempotency-key store: a
// (tenantId, key) keyed record guaranteeing "same request -> same
// effect" for mutating HTTP endpoints.
package idempotency

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mabumohsen/veggieshop-sub000/pkg/problem"
	"github.com/mabumohsen/veggieshop-sub000/pkg/tenant"
)

// Record is a stored idempotency row. Primary key (TenantID, Key).
type Record struct {
	TenantID    tenant.ID
	Key         uuid.UUID
	RequestHash []byte
	HTTPMethod  string
	HTTPPath    string
	Response    []byte
	Status      int
	CreatedAt   time.Time
	ExpiresAt   time.Time
	RowVersion  int64
}

// Outcome distinguishes a first-seen insert (caller should execute the
// handler) from a replay (caller should return the stored response).
type Outcome int

const (
	// FirstSeen means no prior row existed; the caller must execute the
	// handler and then call Complete to store its response.
	FirstSeen Outcome = iota
	// Replay means a row already exists with a matching request hash; its
	// stored response should be returned verbatim.
	Replay
	// Conflict means a row already exists with a different request hash
	// for the same (tenantID, key).
	Conflict
)

// Store is the idempotency SPI. A durable implementation maps directly to
// the persistence shape: per-partition unique (tenant_id, key), monthly
// partitioned by created_at, indexed on expires_at.
type Store interface {
	// BeginOrReplay atomically inserts a placeholder row for (tenantID,
	// key) if absent (ON CONFLICT DO NOTHING semantics). If a row already
	// exists, it is returned with Replay if requestHash matches, or
	// Conflict otherwise.
	BeginOrReplay(ctx context.Context, tenantID tenant.ID, key uuid.UUID, requestHash []byte, method, path string, ttl time.Duration) (Record, Outcome, error)
	// Complete stores the handler's response against a FirstSeen row.
	Complete(ctx context.Context, tenantID tenant.ID, key uuid.UUID, response []byte, status int) error
	// Sweep deletes up to limit expired rows and returns the count removed.
	Sweep(ctx context.Context, now time.Time, limit int) (int, error)
}

// Begin performs BeginOrReplay and translates a Conflict outcome into the
// idempotency-key-conflict problem type, so callers only need to branch
// on FirstSeen vs Replay.
func Begin(ctx context.Context, store Store, tenantID tenant.ID, key uuid.UUID, requestHash []byte, method, path string, ttl time.Duration) (Record, Outcome, error) {
	rec, outcome, err := store.BeginOrReplay(ctx, tenantID, key, requestHash, method, path, ttl)
	if err != nil {
		return Record{}, 0, err
	}
	if outcome == Conflict {
		return Record{}, 0, problem.New(problem.IdempotencyKeyConflict, "idempotency key reused with a different request", map[string]interface{}{
			"tenantId": string(tenantID),
			"key":      key.String(),
		})
	}
	return rec, outcome, nil
}
