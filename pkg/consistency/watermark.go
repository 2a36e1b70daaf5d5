// Package consistency implements per-tenant watermarks and signed
// consistency tokens used to gate reads for read-your-writes semantics.
package consistency

import (
	"context"
	"sync"

	"github.com/mabumohsen/veggieshop-sub000/pkg/tenant"
)

// WatermarkStore tracks a per-tenant monotonic epoch-millisecond watermark.
// Implementations must never let current() decrease for a tenant.
type WatermarkStore interface {
	// Current returns the tenant's watermark, or 0 if unknown.
	Current(ctx context.Context, t tenant.ID) (int64, error)
	// AdvanceAtLeast sets the watermark to max(current, ms) and returns the
	// resulting value. Safe under concurrent callers (CAS semantics).
	AdvanceAtLeast(ctx context.Context, t tenant.ID, ms int64) (int64, error)
	// AdvanceToNow advances the watermark to the injected clock's current
	// time and returns the resulting value.
	AdvanceToNow(ctx context.Context, t tenant.ID) (int64, error)
}

// Clock is an injected time source so tests can control AdvanceToNow and
// the read-your-writes polling loop deterministically.
type Clock interface {
	NowMillis() int64
}

// MemoryWatermarkStore is an in-process SPI implementation for tests and
// single-node deployments. Durable deployments supply a relational
// implementation keyed (tenant_id) per the persistence shape.
type MemoryWatermarkStore struct {
	clock Clock

	mu         sync.Mutex
	watermarks map[tenant.ID]int64
}

// NewMemoryWatermarkStore builds a MemoryWatermarkStore backed by clock.
func NewMemoryWatermarkStore(clock Clock) *MemoryWatermarkStore {
	return &MemoryWatermarkStore{clock: clock, watermarks: make(map[tenant.ID]int64)}
}

func (s *MemoryWatermarkStore) Current(_ context.Context, t tenant.ID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermarks[t], nil
}

func (s *MemoryWatermarkStore) AdvanceAtLeast(_ context.Context, t tenant.ID, ms int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ms > s.watermarks[t] {
		s.watermarks[t] = ms
	}
	return s.watermarks[t], nil
}

func (s *MemoryWatermarkStore) AdvanceToNow(ctx context.Context, t tenant.ID) (int64, error) {
	return s.AdvanceAtLeast(ctx, t, s.clock.NowMillis())
}
