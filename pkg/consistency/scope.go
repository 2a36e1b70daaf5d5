package consistency

import (
	"context"
	"time"

	"github.com/mabumohsen/veggieshop-sub000/pkg/tenant"
)

// Options configures an Engine's TTL, clock skew tolerance, and the
// read-your-writes polling schedule.
type Options struct {
	TokenTTLMillis       int64
	ClockSkewMillis      int64
	RYWInitialPollMillis int64
	RYWMaxPollMillis     int64
	RYWMaxWaitMillis     int64
}

// DefaultOptions matches the concrete scenario in the testable properties:
// initial poll 20ms doubling to a 150ms cap, overall budget 2s.
func DefaultOptions() Options {
	return Options{
		TokenTTLMillis:       30_000,
		ClockSkewMillis:      5_000,
		RYWInitialPollMillis: 20,
		RYWMaxPollMillis:     150,
		RYWMaxWaitMillis:     2_000,
	}
}

// RequestScope is the per-request consistency state produced by
// Engine.OpenRequest: the required watermark floor for this request's
// reads, and whatever prior/current tokens were validated.
type RequestScope struct {
	Tenant            tenant.ID
	IfConsistentWith  *Token
	PriorToken        *Token
	requiredWatermark int64
}

// RequiredWatermarkOrZero returns ifConsistentWith's watermark, or 0 if
// no valid token was supplied.
func (s RequestScope) RequiredWatermarkOrZero() int64 {
	return s.requiredWatermark
}

// Engine ties a WatermarkStore, Signer, and Clock together to implement
// request-scoped consistency gating.
type Engine struct {
	Watermarks WatermarkStore
	Signer     Signer
	Clock      Clock
	Opts       Options
}

// NewEngine builds an Engine with the given collaborators and options.
func NewEngine(watermarks WatermarkStore, signer Signer, clock Clock, opts Options) *Engine {
	return &Engine{Watermarks: watermarks, Signer: signer, Clock: clock, Opts: opts}
}

// OpenRequest parses and verifies ifConsistentWith and priorToken (absent
// or invalid tokens are treated as not present, never as an error), seeds
// the watermark from priorToken to support read-your-writes across a
// write-then-read round trip by the same caller, and returns the scope.
func (e *Engine) OpenRequest(ctx context.Context, t tenant.ID, ifConsistentWith, priorToken string) (*RequestScope, error) {
	scope := &RequestScope{Tenant: t}
	now := e.Clock.NowMillis()

	if ifConsistentWith != "" {
		if tok, err := Verify(e.Signer, ifConsistentWith, t, now, e.Opts.TokenTTLMillis, e.Opts.ClockSkewMillis); err == nil {
			scope.IfConsistentWith = &tok
			scope.requiredWatermark = tok.WatermarkMillis
		}
	}

	if priorToken != "" {
		if tok, err := Verify(e.Signer, priorToken, t, now, e.Opts.TokenTTLMillis, e.Opts.ClockSkewMillis); err == nil {
			scope.PriorToken = &tok
			if _, err := e.Watermarks.AdvanceAtLeast(ctx, t, tok.WatermarkMillis); err != nil {
				return nil, err
			}
		}
	}

	return scope, nil
}

// AwaitReadYourWrites blocks until the tenant's watermark reaches
// scope.RequiredWatermarkOrZero(), using exponential backoff starting at
// RYWInitialPollMillis and doubling up to RYWMaxPollMillis, for at most
// RYWMaxWaitMillis. It returns stale=true if the deadline was reached
// with the watermark still short; callers decide whether that is an
// error (search-index-stale) or an accepted, flagged response.
func (e *Engine) AwaitReadYourWrites(ctx context.Context, scope *RequestScope) (stale bool, err error) {
	required := scope.RequiredWatermarkOrZero()
	if required == 0 {
		return false, nil
	}

	deadline := time.Now().Add(time.Duration(e.Opts.RYWMaxWaitMillis) * time.Millisecond)
	poll := e.Opts.RYWInitialPollMillis
	if poll <= 0 {
		poll = 20
	}

	for {
		current, err := e.Watermarks.Current(ctx, scope.Tenant)
		if err != nil {
			return false, err
		}
		if current >= required {
			return false, nil
		}
		if !time.Now().Before(deadline) {
			return true, nil
		}

		wait := poll
		remaining := time.Until(deadline).Milliseconds()
		if int64(wait) > remaining {
			wait = remaining
		}
		if wait <= 0 {
			return true, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(time.Duration(wait) * time.Millisecond):
		}

		poll *= 2
		if poll > e.Opts.RYWMaxPollMillis {
			poll = e.Opts.RYWMaxPollMillis
		}
	}
}

// EmitToken advances the tenant's watermark to now and returns a freshly
// signed token for it.
func (e *Engine) EmitToken(ctx context.Context, t tenant.ID, entityVersion *int64) (string, error) {
	wm, err := e.Watermarks.AdvanceToNow(ctx, t)
	if err != nil {
		return "", err
	}
	return Emit(e.Signer, t, e.Clock.NowMillis(), wm, entityVersion)
}
