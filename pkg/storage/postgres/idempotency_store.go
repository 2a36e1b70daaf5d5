package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	infracrypto "github.com/mabumohsen/veggieshop-sub000/infrastructure/crypto"
	"github.com/mabumohsen/veggieshop-sub000/pkg/idempotency"
	"github.com/mabumohsen/veggieshop-sub000/pkg/tenant"
)

// responseEnvelopeInfo is the envelope "info" label binding encrypted
// response blobs to their purpose, so a key leaked from another envelope
// use cannot be repurposed to decrypt idempotency responses.
const responseEnvelopeInfo = "idempotency-response"

// IdempotencyStore persists idempotency.Record in a Postgres
// "idempotency_records" table keyed by (tenant_id, key), the shape
// idempotency.Store's own doc comment calls for: per-partition unique
// (tenant_id, key), monthly partitioned by created_at, indexed on
// expires_at. The table created by migration 0003 has the (tenant_id,
// key) primary key and the expires_at index but is not partitioned.
//
// When responseKey is set, stored response bodies are encrypted at rest
// with infrastructure/crypto's envelope scheme, keyed per (tenant, key)
// pair — a replayed handler response (which may embed request-scoped
// secrets or PII) is unreadable from the raw column.
type IdempotencyStore struct {
	*BaseStore
	responseKey []byte
}

// NewIdempotencyStore builds an IdempotencyStore over db. responseKey, if
// non-nil, must be exactly 32 bytes and enables at-rest encryption of
// stored response bodies; pass nil to store responses in the clear.
func NewIdempotencyStore(db *sqlx.DB, responseKey []byte) *IdempotencyStore {
	return &IdempotencyStore{BaseStore: NewBaseStore(db, "idempotency_records"), responseKey: responseKey}
}

func (s *IdempotencyStore) envelopeSubject(tenantID tenant.ID, key uuid.UUID) []byte {
	return []byte(string(tenantID) + ":" + key.String())
}

// BeginOrReplay inserts a placeholder row with ON CONFLICT DO NOTHING;
// when the insert is skipped (a row already exists), it fetches the
// existing row and compares request hashes to distinguish Replay from
// Conflict.
func (s *IdempotencyStore) BeginOrReplay(ctx context.Context, tenantID tenant.ID, key uuid.UUID, requestHash []byte, method, path string, ttl time.Duration) (idempotency.Record, idempotency.Outcome, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)

	insert := `
		INSERT INTO idempotency_records
			(tenant_id, key, request_hash, http_method, http_path, created_at, expires_at, row_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1)
		ON CONFLICT (tenant_id, key) DO NOTHING`
	res, err := s.ExecContext(ctx, insert, string(tenantID), key, requestHash, method, path, now, expiresAt)
	if err != nil {
		return idempotency.Record{}, idempotency.Conflict, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return idempotency.Record{}, idempotency.Conflict, err
	} else if n == 1 {
		return idempotency.Record{
			TenantID:    tenantID,
			Key:         key,
			RequestHash: requestHash,
			HTTPMethod:  method,
			HTTPPath:    path,
			CreatedAt:   now,
			ExpiresAt:   expiresAt,
			RowVersion:  1,
		}, idempotency.FirstSeen, nil
	}

	existing, err := s.find(ctx, tenantID, key)
	if err != nil {
		return idempotency.Record{}, idempotency.Conflict, err
	}
	if bytes.Equal(existing.RequestHash, requestHash) {
		return existing, idempotency.Replay, nil
	}
	return idempotency.Record{}, idempotency.Conflict, nil
}

func (s *IdempotencyStore) find(ctx context.Context, tenantID tenant.ID, key uuid.UUID) (idempotency.Record, error) {
	query := `
		SELECT tenant_id, key, request_hash, http_method, http_path, response, status,
			created_at, expires_at, row_version
		FROM idempotency_records WHERE tenant_id = $1 AND key = $2`
	var rec idempotency.Record
	var tenantCol string
	var response sql.NullString
	var status sql.NullInt64
	err := s.QueryRowContext(ctx, query, string(tenantID), key).Scan(
		&tenantCol, &rec.Key, &rec.RequestHash, &rec.HTTPMethod, &rec.HTTPPath,
		&response, &status, &rec.CreatedAt, &rec.ExpiresAt, &rec.RowVersion,
	)
	if err != nil {
		return idempotency.Record{}, err
	}
	rec.TenantID = tenant.ID(tenantCol)
	rec.Response = []byte(response.String)
	rec.Status = int(status.Int64)

	if s.responseKey != nil && len(rec.Response) > 0 {
		plain, err := infracrypto.DecryptEnvelope(s.responseKey, s.envelopeSubject(rec.TenantID, key), responseEnvelopeInfo, rec.Response)
		if err != nil {
			return idempotency.Record{}, err
		}
		rec.Response = plain
	}
	return rec, nil
}

// Complete stores the handler's response against a FirstSeen row.
func (s *IdempotencyStore) Complete(ctx context.Context, tenantID tenant.ID, key uuid.UUID, response []byte, status int) error {
	stored := response
	if s.responseKey != nil {
		enc, err := infracrypto.EncryptEnvelope(s.responseKey, s.envelopeSubject(tenantID, key), responseEnvelopeInfo, response)
		if err != nil {
			return err
		}
		stored = enc
	}

	query := `
		UPDATE idempotency_records
		SET response = $1, status = $2, row_version = row_version + 1
		WHERE tenant_id = $3 AND key = $4`
	_, err := s.ExecContext(ctx, query, stored, status, string(tenantID), key)
	return err
}

// Sweep deletes up to limit expired rows.
func (s *IdempotencyStore) Sweep(ctx context.Context, now time.Time, limit int) (int, error) {
	query := `
		DELETE FROM idempotency_records
		WHERE ctid IN (
			SELECT ctid FROM idempotency_records WHERE expires_at < $1 LIMIT $2
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
