package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and local development.
// Claim is guarded by a mutex and pushes each claimed row's AvailableAt
// forward by a 30-second lease, standing in for SELECT ... FOR UPDATE
// SKIP LOCKED: a row is not returned to a second claimant until its
// lease lapses or MarkRetry reschedules it.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*Row
	now  Clock
}

// NewMemoryStore creates an empty MemoryStore. now defaults to time.Now.
func NewMemoryStore(now Clock) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{rows: make(map[uuid.UUID]*Row), now: now}
}

// Insert adds a new PENDING row, as if written in the same transaction
// as the business change it records.
func (s *MemoryStore) Insert(row Row) Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if row.Status == "" {
		row.Status = StatusPending
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = s.now()
	}
	if row.AvailableAt.IsZero() {
		row.AvailableAt = row.CreatedAt
	}
	cp := row
	s.rows[row.ID] = &cp
	return cp
}

func (s *MemoryStore) Claim(ctx context.Context, limit int) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var candidates []*Row
	for _, r := range s.rows {
		if r.Status == StatusPending && !r.AvailableAt.After(now) {
			candidates = append(candidates, r)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	const claimLease = 30 * time.Second
	out := make([]Row, 0, len(candidates))
	for _, r := range candidates {
		r.AvailableAt = now.Add(claimLease)
		out = append(out, *r)
	}
	return out, nil
}

func (s *MemoryStore) MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return nil
	}
	if r.Status == StatusPublished {
		return nil
	}
	r.Status = StatusPublished
	t := publishedAt
	r.PublishedAt = &t
	return nil
}

func (s *MemoryStore) MarkRetry(ctx context.Context, id uuid.UUID, attempts int, lastErr string, availableAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return nil
	}
	r.Attempts = attempts
	r.LastError = lastErr
	r.AvailableAt = availableAt
	return nil
}

func (s *MemoryStore) MarkQuarantined(ctx context.Context, id uuid.UUID, lastErr string, quarantinedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return nil
	}
	r.Status = StatusQuarantined
	r.LastError = lastErr
	t := quarantinedAt
	r.QuarantinedAt = &t
	return nil
}

func (s *MemoryStore) CountPending(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.rows {
		if r.Status == StatusPending {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.rows {
		if r.Status == StatusPublished && r.PublishedAt != nil && r.PublishedAt.Before(cutoff) {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

// Get returns a snapshot of a row by ID, for test assertions.
func (s *MemoryStore) Get(id uuid.UUID) (Row, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return Row{}, false
	}
	return *r, true
}
