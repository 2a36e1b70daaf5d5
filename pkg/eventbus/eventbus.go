// Package eventbus implements the reliable producer: per-record retry
// with jittered exponential backoff, W3C trace-context propagation, and
// the envelope header set shared with the outbox and consumer.
package eventbus

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/mabumohsen/veggieshop-sub000/infrastructure/resilience"
	"github.com/mabumohsen/veggieshop-sub000/pkg/headercodec"
	"github.com/mabumohsen/veggieshop-sub000/pkg/tenant"
	"github.com/mabumohsen/veggieshop-sub000/pkg/tracing"
)

// Record is a single message to send.
type Record struct {
	Topic         string
	Key           []byte
	Value         []byte
	Tenant        tenant.ID
	EventID       uuid.UUID
	AggregateID   string
	EventFamily   string
	Extra         headercodec.Envelope // caller extras, filtered by IsSafeToPropagate
	TraceParent   string
	Baggage       string
}

// Result is returned by a successful send.
type Result struct {
	Partition int32
	Offset    int64
	Attempts  int
	Latency   time.Duration
}

// Sender is the underlying broker client. A real implementation wraps a
// Kafka/Rabbit/etc. producer; tests supply a fake.
type Sender interface {
	Send(ctx context.Context, topic string, key []byte, value []byte, headers headercodec.Envelope) (Result, error)
}

// ClassifiedError lets a Sender mark an error as retriable (transient
// broker error) or not.
type ClassifiedError interface {
	error
	Retriable() bool
}

// Options configures retry/backoff and per-send timeout.
type Options struct {
	MaxAttempts       int
	SendTimeout       time.Duration
	InitialBackoff    time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
	JitterRatio       float64 // clamped to [0, 0.9]
}

// DefaultOptions returns conservative retry defaults.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:       5,
		SendTimeout:       5 * time.Second,
		InitialBackoff:    100 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        5 * time.Second,
		JitterRatio:       0.2,
	}
}

// Producer sends records through a Sender with retry/backoff and builds
// the envelope header set.
type Producer struct {
	Sender  Sender
	Tracer  tracing.Tracer
	Opts    Options
	Breaker *resilience.CircuitBreaker // nil disables circuit breaking
}

// NewProducer builds a Producer. tracer may be tracing.NoopTracer.
func NewProducer(sender Sender, tracer tracing.Tracer, opts Options) *Producer {
	if tracer == nil {
		tracer = tracing.NoopTracer
	}
	return &Producer{Sender: sender, Tracer: tracer, Opts: opts}
}

func (p *Producer) buildHeaders(rec Record) headercodec.Envelope {
	env := headercodec.Envelope{}
	_ = env.PutString(headercodec.KeyTenantID, string(rec.Tenant), 0)
	_ = env.PutUUID(headercodec.KeyEventID, rec.EventID)
	if rec.AggregateID != "" {
		_ = env.Put("x-aggregate-id", []byte(rec.AggregateID), 0)
	}
	if rec.EventFamily != "" {
		_ = env.Put("x-event-family", []byte(rec.EventFamily), 0)
	}
	if rec.TraceParent != "" {
		_ = env.PutString(headercodec.KeyTraceparent, rec.TraceParent, 0)
	}
	if rec.Baggage != "" {
		_ = env.PutString(headercodec.KeyBaggage, rec.Baggage, 0)
	}
	for k, v := range rec.Extra {
		if headercodec.IsSafeToPropagate(k) {
			env[k] = v
		}
	}
	return env
}

// backoff returns the delay before the given attempt, via a fresh
// cenkalti/backoff/v4 exponential backoff advanced attempt times (the
// last value is the one actually used; the earlier ones reproduce the
// same per-attempt interval growth a stateful retry loop would see).
func (p *Producer) backoff(attempt int) time.Duration {
	ratio := p.Opts.JitterRatio
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 0.9 {
		ratio = 0.9
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.Opts.InitialBackoff
	bo.MaxInterval = p.Opts.MaxBackoff
	bo.Multiplier = p.Opts.BackoffMultiplier
	bo.RandomizationFactor = ratio
	bo.MaxElapsedTime = 0
	// NewExponentialBackOff already reset to the library's default initial
	// interval; reset again so the configured InitialInterval applies.
	bo.Reset()

	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = bo.NextBackOff()
	}
	return d
}

// Publish sends rec synchronously, retrying retriable errors up to
// MaxAttempts with jittered exponential backoff.
func (p *Producer) Publish(ctx context.Context, rec Record) (Result, error) {
	headers := p.buildHeaders(rec)
	maxAttempts := p.Opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		_ = headers.PutInt32("x-producer-attempt", int32(attempt))

		spanCtx, finish := p.Tracer.StartSpan(ctx, "producer.send", map[string]string{
			"topic":    rec.Topic,
			"attempt":  itoa(attempt),
			"tenantId": string(rec.Tenant),
		})

		sendCtx := spanCtx
		var cancel context.CancelFunc
		if p.Opts.SendTimeout > 0 {
			sendCtx, cancel = context.WithTimeout(spanCtx, p.Opts.SendTimeout)
		}
		start := time.Now()
		var result Result
		var err error
		if p.Breaker != nil {
			err = p.Breaker.Execute(sendCtx, func() error {
				var serr error
				result, serr = p.Sender.Send(sendCtx, rec.Topic, rec.Key, rec.Value, headers)
				return serr
			})
		} else {
			result, err = p.Sender.Send(sendCtx, rec.Topic, rec.Key, rec.Value, headers)
		}
		if cancel != nil {
			cancel()
		}
		result.Latency = time.Since(start)
		result.Attempts = attempt
		finish(err)

		if err == nil {
			return result, nil
		}
		lastErr = err

		retriable := true
		if ce, ok := err.(ClassifiedError); ok {
			retriable = ce.Retriable()
		}
		if err == resilience.ErrCircuitOpen || err == resilience.ErrTooManyRequests {
			retriable = false
		}
		if !retriable || attempt == maxAttempts {
			return Result{}, err
		}

		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(p.backoff(attempt)):
		}
	}
	return Result{}, lastErr
}

// PublishAsync runs Publish on a goroutine and returns a channel
// delivering its single result.
func (p *Producer) PublishAsync(ctx context.Context, rec Record) <-chan AsyncResult {
	out := make(chan AsyncResult, 1)
	go func() {
		result, err := p.Publish(ctx, rec)
		out <- AsyncResult{Result: result, Err: err}
		close(out)
	}()
	return out
}

// AsyncResult is the value delivered by PublishAsync's channel.
type AsyncResult struct {
	Result Result
	Err    error
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := [20]byte{}
	i := len(digits)
	for n > 0 {
		i--
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits[i:])
}
