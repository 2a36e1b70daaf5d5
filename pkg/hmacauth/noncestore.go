package hmacauth

import (
	"sync"
	"time"

	"github.com/mabumohsen/veggieshop-sub000/pkg/tenant"
)

type nonceKey struct {
	keyID  string
	tenant tenant.ID
	nonce  string
}

// MemoryNonceStore is an in-memory NonceStore, tracking seen nonces
// with their expiry, grounded on the same replay-cache shape as the
// HTTP-layer request-ID replay guard.
type MemoryNonceStore struct {
	mu   sync.Mutex
	seen map[nonceKey]time.Time // value is expiry
}

// NewMemoryNonceStore creates an empty MemoryNonceStore.
func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{seen: make(map[nonceKey]time.Time)}
}

func (s *MemoryNonceStore) Register(keyID string, t tenant.ID, nonce string, ttl time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := nonceKey{keyID, t, nonce}
	if expiry, ok := s.seen[k]; ok && now.Before(expiry) {
		return false
	}
	s.seen[k] = now.Add(ttl)
	s.sweep(now)
	return true
}

// sweep removes expired entries. Caller must hold s.mu.
func (s *MemoryNonceStore) sweep(now time.Time) {
	for k, expiry := range s.seen {
		if !now.Before(expiry) {
			delete(s.seen, k)
		}
	}
}
