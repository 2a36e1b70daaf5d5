package eventbus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mabumohsen/veggieshop-sub000/infrastructure/resilience"
	"github.com/mabumohsen/veggieshop-sub000/pkg/headercodec"
	"github.com/mabumohsen/veggieshop-sub000/pkg/tenant"
	"github.com/mabumohsen/veggieshop-sub000/pkg/tracing"
)

type transientErr struct{ msg string }

func (e *transientErr) Error() string   { return e.msg }
func (e *transientErr) Retriable() bool { return true }

type terminalErr struct{ msg string }

func (e *terminalErr) Error() string   { return e.msg }
func (e *terminalErr) Retriable() bool { return false }

type fakeSender struct {
	attempts      int32
	failUntil     int32
	failWith      error
	lastHeaders   headercodec.Envelope
	sendDurations []time.Duration
}

func (f *fakeSender) Send(ctx context.Context, topic string, key, value []byte, headers headercodec.Envelope) (Result, error) {
	n := atomic.AddInt32(&f.attempts, 1)
	f.lastHeaders = headers
	if n <= f.failUntil {
		return Result{}, f.failWith
	}
	return Result{Partition: 0, Offset: int64(n)}, nil
}

func newTestProducer(sender Sender, opts Options) *Producer {
	return NewProducer(sender, tracing.NoopTracer, opts)
}

func TestPublishSucceedsOnFirstAttempt(t *testing.T) {
	sender := &fakeSender{}
	p := newTestProducer(sender, DefaultOptions())

	result, err := p.Publish(context.Background(), Record{
		Topic:   "orders",
		Tenant:  tenant.ID("acme"),
		EventID: uuid.New(),
	})

	require.NoError(t, err)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, int32(1), sender.attempts)
}

func TestPublishRetriesRetriableErrorsThenSucceeds(t *testing.T) {
	sender := &fakeSender{failUntil: 2, failWith: &transientErr{"broker unavailable"}}
	opts := DefaultOptions()
	opts.InitialBackoff = time.Millisecond
	opts.MaxBackoff = 5 * time.Millisecond
	p := newTestProducer(sender, opts)

	result, err := p.Publish(context.Background(), Record{
		Topic:   "orders",
		Tenant:  tenant.ID("acme"),
		EventID: uuid.New(),
	})

	require.NoError(t, err)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, int32(3), sender.attempts)
}

func TestPublishStopsOnTerminalError(t *testing.T) {
	sender := &fakeSender{failUntil: 99, failWith: &terminalErr{"bad request"}}
	opts := DefaultOptions()
	opts.InitialBackoff = time.Millisecond
	p := newTestProducer(sender, opts)

	_, err := p.Publish(context.Background(), Record{
		Topic:   "orders",
		Tenant:  tenant.ID("acme"),
		EventID: uuid.New(),
	})

	require.Error(t, err)
	assert.Equal(t, int32(1), sender.attempts)
}

func TestPublishGivesUpAfterMaxAttempts(t *testing.T) {
	sender := &fakeSender{failUntil: 99, failWith: &transientErr{"broker unavailable"}}
	opts := DefaultOptions()
	opts.MaxAttempts = 3
	opts.InitialBackoff = time.Millisecond
	opts.MaxBackoff = 5 * time.Millisecond
	p := newTestProducer(sender, opts)

	_, err := p.Publish(context.Background(), Record{
		Topic:   "orders",
		Tenant:  tenant.ID("acme"),
		EventID: uuid.New(),
	})

	require.Error(t, err)
	assert.Equal(t, int32(3), sender.attempts)
}

func TestPublishWritesProducerAttemptHeaderPerAttempt(t *testing.T) {
	sender := &fakeSender{failUntil: 1, failWith: &transientErr{"timeout"}}
	opts := DefaultOptions()
	opts.InitialBackoff = time.Millisecond
	p := newTestProducer(sender, opts)

	_, err := p.Publish(context.Background(), Record{
		Topic:   "orders",
		Tenant:  tenant.ID("acme"),
		EventID: uuid.New(),
	})

	require.NoError(t, err)
	v, ok := sender.lastHeaders.GetInt32("x-producer-attempt")
	require.True(t, ok)
	assert.Equal(t, int32(2), v)
}

func TestPublishBuildsTenantAndEventIDHeaders(t *testing.T) {
	sender := &fakeSender{}
	p := newTestProducer(sender, DefaultOptions())
	eventID := uuid.New()

	_, err := p.Publish(context.Background(), Record{
		Topic:   "orders",
		Tenant:  tenant.ID("acme"),
		EventID: eventID,
	})
	require.NoError(t, err)

	tid, ok := sender.lastHeaders.GetString(headercodec.KeyTenantID)
	require.True(t, ok)
	assert.Equal(t, "acme", tid)

	gotID, ok := sender.lastHeaders.GetUUID(headercodec.KeyEventID)
	require.True(t, ok)
	assert.Equal(t, eventID, gotID)
}

func TestPublishPropagatesTraceContext(t *testing.T) {
	sender := &fakeSender{}
	p := newTestProducer(sender, DefaultOptions())

	_, err := p.Publish(context.Background(), Record{
		Topic:       "orders",
		Tenant:      tenant.ID("acme"),
		EventID:     uuid.New(),
		TraceParent: "00-trace-01",
		Baggage:     "k=v",
	})
	require.NoError(t, err)

	tp, ok := sender.lastHeaders.GetString(headercodec.KeyTraceparent)
	require.True(t, ok)
	assert.Equal(t, "00-trace-01", tp)
}

func TestPublishFiltersUnsafeExtraHeaders(t *testing.T) {
	sender := &fakeSender{}
	p := newTestProducer(sender, DefaultOptions())

	_, err := p.Publish(context.Background(), Record{
		Topic:   "orders",
		Tenant:  tenant.ID("acme"),
		EventID: uuid.New(),
		Extra: headercodec.Envelope{
			"x-caller-extra": []byte("ok"),
			"unsafe-field":   []byte("dropped"),
		},
	})
	require.NoError(t, err)

	_, ok := sender.lastHeaders.GetString("x-caller-extra")
	assert.True(t, ok)
	_, ok = sender.lastHeaders.GetString("unsafe-field")
	assert.False(t, ok)
}

func TestPublishRespectsContextCancellationDuringBackoff(t *testing.T) {
	sender := &fakeSender{failUntil: 99, failWith: &transientErr{"down"}}
	opts := DefaultOptions()
	opts.InitialBackoff = 50 * time.Millisecond
	opts.MaxBackoff = 200 * time.Millisecond
	p := newTestProducer(sender, opts)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.Publish(ctx, Record{
		Topic:   "orders",
		Tenant:  tenant.ID("acme"),
		EventID: uuid.New(),
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestBackoffRespectsMaxBackoffCap(t *testing.T) {
	p := newTestProducer(&fakeSender{}, Options{
		InitialBackoff:    100 * time.Millisecond,
		BackoffMultiplier: 10,
		MaxBackoff:        150 * time.Millisecond,
		JitterRatio:       0,
	})

	d := p.backoff(5)
	assert.Equal(t, 150*time.Millisecond, d)
}

func TestBackoffJitterClampedToNinetyPercent(t *testing.T) {
	p := newTestProducer(&fakeSender{}, Options{
		InitialBackoff:    100 * time.Millisecond,
		BackoffMultiplier: 1,
		MaxBackoff:        time.Second,
		JitterRatio:       5, // out of range, must clamp to 0.9
	})

	for i := 0; i < 20; i++ {
		d := p.backoff(1)
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.LessOrEqual(t, d, 190*time.Millisecond)
	}
}

func TestPublishAsyncDeliversResult(t *testing.T) {
	sender := &fakeSender{}
	p := newTestProducer(sender, DefaultOptions())

	ch := p.PublishAsync(context.Background(), Record{
		Topic:   "orders",
		Tenant:  tenant.ID("acme"),
		EventID: uuid.New(),
	})

	select {
	case got := <-ch:
		require.NoError(t, got.Err)
		assert.Equal(t, 1, got.Result.Attempts)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for async result")
	}
}

func TestPublishTripsCircuitBreakerAndFailsFast(t *testing.T) {
	sender := &fakeSender{failUntil: 99, failWith: &transientErr{"down"}}
	opts := DefaultOptions()
	opts.MaxAttempts = 1
	p := newTestProducer(sender, opts)
	p.Breaker = resilience.New(resilience.Config{MaxFailures: 2, Timeout: time.Minute, HalfOpenMax: 1})

	for i := 0; i < 2; i++ {
		_, err := p.Publish(context.Background(), Record{
			Topic:   "orders",
			Tenant:  tenant.ID("acme"),
			EventID: uuid.New(),
		})
		require.Error(t, err)
	}
	assert.Equal(t, resilience.StateOpen, p.Breaker.State())

	before := atomic.LoadInt32(&sender.attempts)
	_, err := p.Publish(context.Background(), Record{
		Topic:   "orders",
		Tenant:  tenant.ID("acme"),
		EventID: uuid.New(),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, resilience.ErrCircuitOpen))
	assert.Equal(t, before, atomic.LoadInt32(&sender.attempts), "sender should not be called while circuit is open")
}
