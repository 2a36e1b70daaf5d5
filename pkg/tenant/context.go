package tenant

import (
	"context"

	"github.com/mabumohsen/veggieshop-sub000/infrastructure/logging"
	"github.com/mabumohsen/veggieshop-sub000/pkg/problem"
)

type ctxKey struct{}

// Scope is the handle returned by Open; Close is a no-op in this
// context.Context-based implementation because Go contexts are immutable —
// "restoring the previous tenant" simply means the caller resumes using the
// parent context once the scope ends. Close exists so callers can `defer
// scope.Close()` the way the spec's scope-based API expects, and so a future
// thread-local-backed binding has somewhere to put teardown logic.
type Scope struct {
	ctx context.Context
}

// Context returns the tenant-scoped context to use for the scope's duration.
func (s *Scope) Context() context.Context {
	return s.ctx
}

// Close is a no-op: the parent context the caller already held is still
// valid and carries no tenant value.
func (s *Scope) Close() {}

// Open binds id as the active tenant for ctx, mirroring it into the logging
// correlation sink under key tenant_id, and returns a Scope whose Context
// carries it.
func Open(ctx context.Context, id ID) *Scope {
	scoped := context.WithValue(ctx, ctxKey{}, id)
	scoped = logging.WithTenantID(scoped, id.String())
	return &Scope{ctx: scoped}
}

// Current returns the tenant bound to ctx, if any.
func Current(ctx context.Context) (ID, bool) {
	id, ok := ctx.Value(ctxKey{}).(ID)
	return id, ok
}

// Require returns the tenant bound to ctx or a TenantRequired problem.
func Require(ctx context.Context) (ID, error) {
	id, ok := Current(ctx)
	if !ok {
		return "", problem.New(problem.TenantRequired, "no tenant bound to context", nil)
	}
	return id, nil
}

// Wrap captures the tenant currently bound to ctx and returns a task that
// restores it into a fresh context before invoking fn — the pattern used
// when spawning work onto another goroutine (fan-out, background workers)
// that must not inherit the spawning goroutine's ctx (e.g. because it will
// outlive a request-scoped cancellation), but must still see the tenant.
func Wrap(ctx context.Context, fn func(context.Context)) func(context.Context) {
	id, ok := Current(ctx)
	if !ok {
		return fn
	}
	return func(workerCtx context.Context) {
		fn(Open(workerCtx, id).Context())
	}
}
