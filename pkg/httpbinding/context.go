// Package httpbinding wires the platform-core components into an HTTP
// middleware chain with the fixed ordering: tenant -> rate-limit ->
// authN -> authZ -> consistency -> idempotency -> handler -> token
// emission. Each step is an independent chi-compatible
// func(http.Handler) http.Handler; Chain composes them in order.
package httpbinding

import (
	"context"

	"github.com/mabumohsen/veggieshop-sub000/pkg/abac"
	"github.com/mabumohsen/veggieshop-sub000/pkg/consistency"
)

type ctxKey int

const (
	ctxKeySubject ctxKey = iota
	ctxKeyScope
	ctxKeyEngine
)

// WithSubject binds the authenticated subject for downstream ABAC checks
// and handler use.
func WithSubject(ctx context.Context, s abac.Subject) context.Context {
	return context.WithValue(ctx, ctxKeySubject, s)
}

// SubjectFromContext returns the subject bound by the authN step, if any.
func SubjectFromContext(ctx context.Context) (abac.Subject, bool) {
	s, ok := ctx.Value(ctxKeySubject).(abac.Subject)
	return s, ok
}

func withScope(ctx context.Context, scope *consistency.RequestScope) context.Context {
	return context.WithValue(ctx, ctxKeyScope, scope)
}

// ScopeFromContext returns the consistency scope opened for this request,
// if the consistency step ran.
func ScopeFromContext(ctx context.Context) (*consistency.RequestScope, bool) {
	s, ok := ctx.Value(ctxKeyScope).(*consistency.RequestScope)
	return s, ok
}

func withEngine(ctx context.Context, e *consistency.Engine) context.Context {
	return context.WithValue(ctx, ctxKeyEngine, e)
}

// EngineFromContext returns the consistency Engine bound to the request,
// so a handler can call EmitToken itself once it has written its
// response, since token emission genuinely belongs to the handler's
// response-building step rather than to generic middleware (by the time
// a wrapping middleware regains control, the handler has usually already
// flushed headers).
func EngineFromContext(ctx context.Context) (*consistency.Engine, bool) {
	e, ok := ctx.Value(ctxKeyEngine).(*consistency.Engine)
	return e, ok
}
