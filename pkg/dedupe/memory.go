package dedupe

import (
	"context"
	"sync"
	"time"

	"github.com/mabumohsen/veggieshop-sub000/pkg/tenant"
)

type tripletKey struct {
	tenant  tenant.ID
	eventID string
	version int64
}

type tripletRow struct {
	firstSeenAt time.Time
	lastSeenAt  time.Time
	expiresAt   time.Time
	seenCount   int
}

// MemoryPrimaryStore is an in-process PrimaryStore for tests and
// single-node deployments. Durable deployments supply a relational
// implementation keyed (tenant_id, event_id, version) per the
// persistence shape.
type MemoryPrimaryStore struct {
	mu   sync.Mutex
	rows map[tripletKey]*tripletRow
}

// NewMemoryPrimaryStore builds an empty MemoryPrimaryStore.
func NewMemoryPrimaryStore() *MemoryPrimaryStore {
	return &MemoryPrimaryStore{rows: make(map[tripletKey]*tripletRow)}
}

func (s *MemoryPrimaryStore) InsertOrBump(_ context.Context, tenantID tenant.ID, eventID string, version int64, now time.Time, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := tripletKey{tenant: tenantID, eventID: eventID, version: version}
	if row, ok := s.rows[k]; ok {
		row.lastSeenAt = now
		row.seenCount++
		return false, nil
	}
	s.rows[k] = &tripletRow{firstSeenAt: now, lastSeenAt: now, expiresAt: now.Add(ttl), seenCount: 1}
	return true, nil
}
