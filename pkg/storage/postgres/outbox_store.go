package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mabumohsen/veggieshop-sub000/pkg/headercodec"
	"github.com/mabumohsen/veggieshop-sub000/pkg/outbox"
	"github.com/mabumohsen/veggieshop-sub000/pkg/tenant"
)

// OutboxStore persists outbox.Row in a Postgres "outbox" table. Claim
// uses SELECT ... FOR UPDATE SKIP LOCKED inside a CTE, bumping
// available_at forward by leaseWindow in the same statement so a
// concurrent drainer does not immediately re-claim the same rows --
// there is no separate release step in the Store interface.
type OutboxStore struct {
	*BaseStore
	leaseWindow time.Duration
}

// NewOutboxStore builds an OutboxStore over db. leaseWindow bounds how
// long a claimed row is hidden from other drainers before it is
// considered abandoned and reclaimable.
func NewOutboxStore(db *sqlx.DB, leaseWindow time.Duration) *OutboxStore {
	if leaseWindow <= 0 {
		leaseWindow = 30 * time.Second
	}
	return &OutboxStore{BaseStore: NewBaseStore(db, "outbox"), leaseWindow: leaseWindow}
}

// Insert writes a new PENDING row, typically inside the same
// transaction as the business change it accompanies (see
// BaseStore.WithTx / ContextWithTx).
func (s *OutboxStore) Insert(ctx context.Context, row outbox.Row) error {
	extra, err := json.Marshal(row.Extra)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO outbox
			(id, tenant_id, topic, key, value, aggregate_id, event_family, extra,
			 status, attempts, last_error, available_at, created_at)
		VALUES (:id, :tenant_id, :topic, :key, :value, :aggregate_id, :event_family, :extra,
			:status, :attempts, :last_error, :available_at, :created_at)`
	_, err = s.NamedExecContext(ctx, query, map[string]any{
		"id":           row.ID,
		"tenant_id":    string(row.Tenant),
		"topic":        row.Topic,
		"key":          row.Key,
		"value":        row.Value,
		"aggregate_id": row.AggregateID,
		"event_family": row.EventFamily,
		"extra":        extra,
		"status":       outbox.StatusPending,
		"attempts":     0,
		"last_error":   "",
		"available_at": row.AvailableAt,
		"created_at":   row.CreatedAt,
	})
	return err
}

// Claim locks and returns up to limit PENDING rows whose available_at
// has elapsed, extending their available_at by leaseWindow so they are
// hidden from other drainers until this one finishes with them.
func (s *OutboxStore) Claim(ctx context.Context, limit int) ([]outbox.Row, error) {
	query := `
		WITH claimed AS (
			SELECT id FROM outbox
			WHERE status = 'PENDING' AND available_at <= now()
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbox
		SET available_at = now() + $2 * interval '1 second'
		FROM claimed
		WHERE outbox.id = claimed.id
		RETURNING outbox.id, outbox.tenant_id, outbox.topic, outbox.key, outbox.value,
			outbox.aggregate_id, outbox.event_family, outbox.extra, outbox.status,
			outbox.attempts, outbox.last_error, outbox.available_at, outbox.created_at,
			outbox.published_at, outbox.quarantined_at`
	rows, err := s.QueryContext(ctx, query, limit, s.leaseWindow.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []outbox.Row
	for rows.Next() {
		row, err := scanOutboxRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

type outboxScanner interface {
	Scan(dest ...any) error
}

func scanOutboxRow(r outboxScanner) (outbox.Row, error) {
	var row outbox.Row
	var tenantCol string
	var extra []byte
	var status string
	var publishedAt, quarantinedAt sql.NullTime
	if err := r.Scan(
		&row.ID, &tenantCol, &row.Topic, &row.Key, &row.Value,
		&row.AggregateID, &row.EventFamily, &extra, &status,
		&row.Attempts, &row.LastError, &row.AvailableAt, &row.CreatedAt,
		&publishedAt, &quarantinedAt,
	); err != nil {
		return outbox.Row{}, err
	}
	row.Tenant = tenant.ID(tenantCol)
	row.Status = outbox.Status(status)
	if len(extra) > 0 {
		var env headercodec.Envelope
		if err := json.Unmarshal(extra, &env); err != nil {
			return outbox.Row{}, err
		}
		row.Extra = env
	}
	row.PublishedAt = NullTimeToPtr(publishedAt)
	row.QuarantinedAt = NullTimeToPtr(quarantinedAt)
	return row, nil
}

// MarkPublished transitions a row to PUBLISHED.
func (s *OutboxStore) MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	_, err := s.ExecContext(ctx,
		`UPDATE outbox SET status = 'PUBLISHED', published_at = $1 WHERE id = $2`,
		publishedAt, id)
	return err
}

// MarkRetry bumps attempts, records lastErr, and reschedules available_at.
func (s *OutboxStore) MarkRetry(ctx context.Context, id uuid.UUID, attempts int, lastErr string, availableAt time.Time) error {
	_, err := s.ExecContext(ctx,
		`UPDATE outbox SET attempts = $1, last_error = $2, available_at = $3 WHERE id = $4`,
		attempts, lastErr, availableAt, id)
	return err
}

// MarkQuarantined transitions a row to QUARANTINED, terminal.
func (s *OutboxStore) MarkQuarantined(ctx context.Context, id uuid.UUID, lastErr string, quarantinedAt time.Time) error {
	_, err := s.ExecContext(ctx,
		`UPDATE outbox SET status = 'QUARANTINED', last_error = $1, quarantined_at = $2 WHERE id = $3`,
		lastErr, quarantinedAt, id)
	return err
}

// CountPending returns the current PENDING backlog size.
func (s *OutboxStore) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.QueryRowContext(ctx, `SELECT count(*) FROM outbox WHERE status = 'PENDING'`).Scan(&n)
	return n, err
}

// DeletePublishedBefore removes PUBLISHED rows older than cutoff.
func (s *OutboxStore) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.ExecContext(ctx,
		`DELETE FROM outbox WHERE status = 'PUBLISHED' AND published_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
