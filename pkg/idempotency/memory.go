package idempotency

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mabumohsen/veggieshop-sub000/pkg/tenant"
)

type recordKey struct {
	tenant tenant.ID
	key    uuid.UUID
}

// MemoryStore is an in-process Store for tests and single-node
// deployments. Durable deployments supply a Postgres implementation per
// the persistence shape (partitioned by created_at, per-partition unique
// (tenant_id, key)).
type MemoryStore struct {
	mu      sync.Mutex
	records map[recordKey]*Record
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[recordKey]*Record)}
}

func (s *MemoryStore) BeginOrReplay(_ context.Context, tenantID tenant.ID, key uuid.UUID, requestHash []byte, method, path string, ttl time.Duration) (Record, Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rk := recordKey{tenant: tenantID, key: key}
	if existing, ok := s.records[rk]; ok {
		if bytes.Equal(existing.RequestHash, requestHash) {
			return *existing, Replay, nil
		}
		return Record{}, Conflict, nil
	}

	now := time.Now()
	rec := &Record{
		TenantID:    tenantID,
		Key:         key,
		RequestHash: append([]byte(nil), requestHash...),
		HTTPMethod:  method,
		HTTPPath:    path,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		RowVersion:  1,
	}
	s.records[rk] = rec
	return *rec, FirstSeen, nil
}

func (s *MemoryStore) Complete(_ context.Context, tenantID tenant.ID, key uuid.UUID, response []byte, status int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rk := recordKey{tenant: tenantID, key: key}
	rec, ok := s.records[rk]
	if !ok {
		return nil
	}
	rec.Response = append([]byte(nil), response...)
	rec.Status = status
	rec.RowVersion++
	return nil
}

func (s *MemoryStore) Sweep(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, rec := range s.records {
		if removed >= limit {
			break
		}
		if rec.ExpiresAt.Before(now) {
			delete(s.records, k)
			removed++
		}
	}
	return removed, nil
}
