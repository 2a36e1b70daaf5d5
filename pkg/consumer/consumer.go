// Package consumer classifies per-record consumption failures and routes
// exhausted or non-retryable records to a dead-letter topic, carrying
// enough context on the DLQ record to debug without replaying the
// original payload.
package consumer

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mabumohsen/veggieshop-sub000/infrastructure/resilience"
	"github.com/mabumohsen/veggieshop-sub000/pkg/cryptoutil"
	"github.com/mabumohsen/veggieshop-sub000/pkg/eventbus"
	"github.com/mabumohsen/veggieshop-sub000/pkg/headercodec"
)

// ErrorClass distinguishes the handling path for a consumption failure.
type ErrorClass string

const (
	ClassDeserialization    ErrorClass = "deserialization"
	ClassAuthorization      ErrorClass = "authorization"
	ClassUnsupportedVersion ErrorClass = "unsupported_version"
	ClassInvalidTopic       ErrorClass = "invalid_topic"
	ClassSchemaContract     ErrorClass = "schema_contract"
	ClassNetwork            ErrorClass = "network"
	ClassBrokerTransient    ErrorClass = "broker_transient"
	ClassUnknown            ErrorClass = "unknown"
)

var nonRetryableClasses = map[ErrorClass]bool{
	ClassDeserialization:    true,
	ClassAuthorization:      true,
	ClassUnsupportedVersion: true,
	ClassInvalidTopic:       true,
	ClassSchemaContract:     true,
}

// Retryable reports whether records failing with this class should be
// retried at all before landing on the DLQ.
func (c ErrorClass) Retryable() bool {
	return !nonRetryableClasses[c]
}

// ClassifiedError is implemented by consumer handler errors that know
// their own ErrorClass. Errors that don't implement it are treated as
// ClassUnknown (retryable).
type ClassifiedError interface {
	error
	Class() ErrorClass
}

const maxErrorMessageLen = 512

// Options configures retry/backoff and the DLQ topic naming.
type Options struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
	JitterRatio       float64

	// DLQSuffix is appended to the source topic to build the DLQ topic
	// name, e.g. "orders" + ".DLQ" = "orders.DLQ".
	DLQSuffix string
}

// DefaultOptions returns conservative retry/DLQ defaults.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:       5,
		InitialBackoff:    200 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        10 * time.Second,
		JitterRatio:       0.2,
		DLQSuffix:         ".DLQ",
	}
}

// DLQPublisher is the narrow send surface the handler needs to route a
// quarantined record.
type DLQPublisher interface {
	Publish(ctx context.Context, rec eventbus.Record) (eventbus.Result, error)
}

// Record is an inbound message along with the envelope headers it
// arrived with.
type Record struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers headercodec.Envelope
	Rec     eventbus.Record // original producer-side record fields, for re-publish to DLQ
}

// Handle processes a record through process, retrying ClassifiedError
// failures that are Retryable() with jittered exponential backoff, up
// to MaxAttempts. On retry exhaustion or a non-retryable classification
// it routes the record to the DLQ via publisher and returns nil (the
// original offset is safe to commit). A nil error from process is a
// successful, committable record.
type Handler struct {
	Opts      Options
	Publisher DLQPublisher
	Now       func() time.Time

	// Breaker, if set, wraps process so a consistently failing downstream
	// dependency fails fast to the DLQ path instead of retrying into it.
	Breaker *resilience.CircuitBreaker
}

// NewHandler builds a Handler. now defaults to time.Now.
func NewHandler(publisher DLQPublisher, opts Options, now func() time.Time) *Handler {
	if now == nil {
		now = time.Now
	}
	return &Handler{Opts: opts, Publisher: publisher, Now: now}
}

// backoff returns the delay before the given attempt, via a fresh
// cenkalti/backoff/v4 exponential backoff advanced attempt times.
func (h *Handler) backoff(attempt int) time.Duration {
	ratio := h.Opts.JitterRatio
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 0.9 {
		ratio = 0.9
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = h.Opts.InitialBackoff
	bo.MaxInterval = h.Opts.MaxBackoff
	bo.Multiplier = h.Opts.BackoffMultiplier
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

func classify(err error) ErrorClass {
	if ce, ok := err.(ClassifiedError); ok {
		return ce.Class()
	}
	return ClassUnknown
}

// Handle runs process against rec, retrying retryable failures and
// routing to the DLQ on exhaustion or a non-retryable classification.
// Returns nil once the record is either processed successfully or
// safely quarantined — the caller commits the offset either way.
func (h *Handler) Handle(ctx context.Context, rec Record, process func(context.Context, Record) error) error {
	maxAttempts := h.Opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	attempt := 0
	for attempt = 1; attempt <= maxAttempts; attempt++ {
		var err error
		if h.Breaker != nil {
			err = h.Breaker.Execute(ctx, func() error {
				return process(ctx, rec)
			})
		} else {
			err = process(ctx, rec)
		}
		if err == nil {
			return nil
		}
		lastErr = err

		class := classify(err)
		if err == resilience.ErrCircuitOpen || err == resilience.ErrTooManyRequests {
			class = ClassBrokerTransient
		}
		if !class.Retryable() || attempt == maxAttempts {
			return h.quarantine(ctx, rec, class, lastErr, attempt)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(h.backoff(attempt)):
		}
	}
	return h.quarantine(ctx, rec, classify(lastErr), lastErr, attempt)
}

func (h *Handler) quarantine(ctx context.Context, rec Record, class ErrorClass, cause error, attempt int) error {
	dlqTopic := rec.Topic + h.Opts.DLQSuffix

	headers := headercodec.Envelope{}
	headercodec.Copy(rec.Headers, headers, headercodec.IsSafeToPropagate)

	msg := cause.Error()
	if len(msg) > maxErrorMessageLen {
		msg = msg[:maxErrorMessageLen]
	}
	_ = headers.PutString("x-error-class", string(class), 0)
	_ = headers.PutString("x-error-root-class", string(classify(cause)), 0)
	_ = headers.PutString("x-error-message", msg, maxErrorMessageLen)
	_ = headers.PutString("x-error-stack-hash", stackHash(cause), 0)
	_ = headers.PutInt32("x-retry-attempt", int32(attempt))
	_ = headers.PutTimestampMillis("x-quarantined-at", h.Now().UnixMilli())

	dlqRec := rec.Rec
	dlqRec.Topic = dlqTopic
	dlqRec.Extra = headers

	_, err := h.Publisher.Publish(ctx, dlqRec)
	if err != nil {
		return fmt.Errorf("consumer: publish to dlq %s: %w", dlqTopic, err)
	}
	return nil
}

func stackHash(err error) string {
	sum, hashErr := cryptoutil.Digest("sha256", []byte(err.Error()))
	if hashErr != nil {
		return ""
	}
	if len(sum) > 8 {
		sum = sum[:8]
	}
	return hex.EncodeToString(sum)
}
