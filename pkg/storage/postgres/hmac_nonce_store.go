package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mabumohsen/veggieshop-sub000/pkg/tenant"
)

// HMACNonceStore is the Postgres-backed hmacauth.NonceStore: a
// (key_id, tenant_id, nonce) replay guard with INSERT ... ON CONFLICT
// DO NOTHING semantics, matching NonceStore.Register's "false means
// already seen" contract. Sweep deletes rows past expires_at, as
// IdempotencyStore.Sweep does for idempotency_records.
type HMACNonceStore struct {
	*BaseStore
	ctxTimeout time.Duration
}

// NewHMACNonceStore builds an HMACNonceStore over db. ctxTimeout bounds
// how long Register waits for the database, since NonceStore.Register
// has no context parameter of its own to carry a deadline.
func NewHMACNonceStore(db *sqlx.DB, ctxTimeout time.Duration) *HMACNonceStore {
	if ctxTimeout <= 0 {
		ctxTimeout = 2 * time.Second
	}
	return &HMACNonceStore{BaseStore: NewBaseStore(db, "hmac_nonces"), ctxTimeout: ctxTimeout}
}

// Register inserts (keyID, tenant, nonce) and reports true if this is
// the first time it has been seen; false (including on any database
// error, fail-closed against replay) means it was already registered
// or the check could not be performed.
func (s *HMACNonceStore) Register(keyID string, t tenant.ID, nonce string, ttl time.Duration, now time.Time) bool {
	ctx, cancel := context.WithTimeout(context.Background(), s.ctxTimeout)
	defer cancel()

	query := `
		INSERT INTO hmac_nonces (key_id, tenant_id, nonce, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key_id, tenant_id, nonce) DO NOTHING`
	res, err := s.ExecContext(ctx, query, keyID, string(t), nonce, now, now.Add(ttl))
	if err != nil {
		return false
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false
	}
	return n == 1
}

// Sweep deletes expired nonce rows, for periodic housekeeping.
func (s *HMACNonceStore) Sweep(ctx context.Context, now time.Time, limit int) (int, error) {
	query := `
		DELETE FROM hmac_nonces
		WHERE ctid IN (
			SELECT ctid FROM hmac_nonces WHERE expires_at < $1 LIMIT $2
		)`
	res, err := s.ExecContext(ctx, query, now, limit)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
