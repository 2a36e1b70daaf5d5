// Package outbox implements the transactional outbox: rows are written
// in the same database transaction as the business change, then drained
// asynchronously onto the event bus with SELECT ... FOR UPDATE SKIP
// LOCKED batching, retry/backoff, and quarantine after repeated failure.
package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/mabumohsen/veggieshop-sub000/pkg/eventbus"
	"github.com/mabumohsen/veggieshop-sub000/pkg/headercodec"
	"github.com/mabumohsen/veggieshop-sub000/pkg/tenant"
)

// Status is the outbox row lifecycle state. PUBLISHED and QUARANTINED
// are terminal; a row never leaves PUBLISHED once reached.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusPublished   Status = "PUBLISHED"
	StatusQuarantined Status = "QUARANTINED"
)

// Row is a single outbox record.
type Row struct {
	ID            uuid.UUID
	Tenant        tenant.ID
	Topic         string
	Key           []byte
	Value         []byte
	AggregateID   string
	EventFamily   string
	Extra         headercodec.Envelope
	Status        Status
	Attempts      int
	LastError     string
	AvailableAt   time.Time
	CreatedAt     time.Time
	PublishedAt   *time.Time
	QuarantinedAt *time.Time
}

// Store is the persistence SPI an outbox drain loop needs. Implementations
// must make Claim safe under concurrent drainers (SELECT ... FOR UPDATE
// SKIP LOCKED or equivalent).
type Store interface {
	// Claim locks and returns up to limit PENDING rows whose AvailableAt
	// has elapsed, atomically marking them as claimed so a concurrent
	// drainer does not also pick them up.
	Claim(ctx context.Context, limit int) ([]Row, error)
	// MarkPublished transitions a row to PUBLISHED.
	MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error
	// MarkRetry bumps Attempts, records lastErr, and reschedules AvailableAt.
	MarkRetry(ctx context.Context, id uuid.UUID, attempts int, lastErr string, availableAt time.Time) error
	// MarkQuarantined transitions a row to QUARANTINED, terminal.
	MarkQuarantined(ctx context.Context, id uuid.UUID, lastErr string, quarantinedAt time.Time) error
	// CountPending returns the current PENDING backlog size.
	CountPending(ctx context.Context) (int, error)
	// DeletePublishedBefore removes PUBLISHED rows older than cutoff, for housekeeping.
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Producer is the narrow send surface the drainer needs from the event bus.
type Producer interface {
	Publish(ctx context.Context, rec eventbus.Record) (eventbus.Result, error)
}

// Clock abstracts time for deterministic tests.
type Clock func() time.Time

// Options configures drain batching, backoff, and quarantine.
type Options struct {
	BatchSize int

	InitialBackoff    time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration

	// QuarantineThreshold is the attempt count at which a row is moved
	// to QUARANTINED instead of being retried again. Configurable per
	// deployment since tolerance for stuck rows varies by topic.
	QuarantineThreshold int

	// PublishedRetention is how long PUBLISHED rows are kept before
	// housekeeping deletes them.
	PublishedRetention time.Duration
}

// DefaultOptions returns conservative drain defaults.
func DefaultOptions() Options {
	return Options{
		BatchSize:           100,
		InitialBackoff:      time.Second,
		BackoffMultiplier:   2.0,
		MaxBackoff:          5 * time.Minute,
		QuarantineThreshold: 10,
		PublishedRetention:  7 * 24 * time.Hour,
	}
}

// Drainer periodically claims PENDING rows and publishes them.
type Drainer struct {
	Store    Store
	Producer Producer
	Opts     Options
	Now      Clock

	// OnDrain is invoked after each row's outcome, for metrics.
	OnDrain func(status Status, pendingAfter int)
}

// NewDrainer builds a Drainer. now defaults to time.Now.
func NewDrainer(store Store, producer Producer, opts Options, now Clock) *Drainer {
	if now == nil {
		now = time.Now
	}
	return &Drainer{Store: store, Producer: producer, Opts: opts, Now: now}
}

// backoff computes the retry delay for a row that has failed attempts
// times, via a fresh cenkalti/backoff/v4 exponential backoff advanced
// attempts times and its RandomizationFactor disabled — row retry
// scheduling needs a reproducible AvailableAt, not jitter.
func (d *Drainer) backoff(attempts int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.Opts.InitialBackoff
	bo.MaxInterval = d.Opts.MaxBackoff
	bo.Multiplier = d.Opts.BackoffMultiplier
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	// NewExponentialBackOff already reset to the library's default initial
	// interval; reset again so the configured InitialInterval applies.
	bo.Reset()

	var delay time.Duration
	for i := 0; i < attempts; i++ {
		delay = bo.NextBackOff()
	}
	return delay
}

// DrainOnce claims and attempts to publish one batch, returning the
// number of rows processed.
func (d *Drainer) DrainOnce(ctx context.Context) (int, error) {
	batchSize := d.Opts.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	rows, err := d.Store.Claim(ctx, batchSize)
	if err != nil {
		return 0, err
	}

	for _, row := range rows {
		d.processRow(ctx, row)
	}
	return len(rows), nil
}

func (d *Drainer) processRow(ctx context.Context, row Row) {
	_, err := d.Producer.Publish(ctx, eventbus.Record{
		Topic:       row.Topic,
		Key:         row.Key,
		Value:       row.Value,
		Tenant:      row.Tenant,
		EventID:     row.ID,
		AggregateID: row.AggregateID,
		EventFamily: row.EventFamily,
		Extra:       row.Extra,
	})

	now := d.Now()
	if err == nil {
		d.finish(ctx, StatusPublished, d.Store.MarkPublished(ctx, row.ID, now))
		return
	}

	attempts := row.Attempts + 1
	if attempts >= d.Opts.QuarantineThreshold {
		d.finish(ctx, StatusQuarantined, d.Store.MarkQuarantined(ctx, row.ID, err.Error(), now))
		return
	}

	availableAt := now.Add(d.backoff(attempts))
	d.finish(ctx, StatusPending, d.Store.MarkRetry(ctx, row.ID, attempts, err.Error(), availableAt))
}

func (d *Drainer) finish(ctx context.Context, status Status, storeErr error) {
	if storeErr != nil {
		return
	}
	if d.OnDrain == nil {
		return
	}
	pending, err := d.Store.CountPending(ctx)
	if err != nil {
		pending = -1
	}
	d.OnDrain(status, pending)
}

// Run drains on interval until ctx is cancelled.
func (d *Drainer) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := d.DrainOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				continue
			}
		}
	}
}

// Housekeeper deletes old PUBLISHED rows on a schedule.
type Housekeeper struct {
	Store Store
	Opts  Options
	Now   Clock
}

// NewHousekeeper builds a Housekeeper. now defaults to time.Now.
func NewHousekeeper(store Store, opts Options, now Clock) *Housekeeper {
	if now == nil {
		now = time.Now
	}
	return &Housekeeper{Store: store, Opts: opts, Now: now}
}

// RunOnce deletes PUBLISHED rows older than the configured retention.
func (h *Housekeeper) RunOnce(ctx context.Context) (int64, error) {
	retention := h.Opts.PublishedRetention
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	cutoff := h.Now().Add(-retention)
	return h.Store.DeletePublishedBefore(ctx, cutoff)
}
