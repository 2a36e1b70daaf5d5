package httpbinding

import (
	"net/http"
	"time"

	"github.com/mabumohsen/veggieshop-sub000/pkg/abac"
	"github.com/mabumohsen/veggieshop-sub000/pkg/consistency"
	"github.com/mabumohsen/veggieshop-sub000/pkg/hmacauth"
	"github.com/mabumohsen/veggieshop-sub000/pkg/idempotency"
	"github.com/mabumohsen/veggieshop-sub000/pkg/ratelimit"
	"github.com/mabumohsen/veggieshop-sub000/pkg/tenant"
)

// Config bundles the collaborators the fixed middleware chain needs.
// Any field left nil skips that step entirely, so callers can compose a
// subset (e.g. a health endpoint that skips authZ).
type Config struct {
	TenantResolver    *tenant.Resolver
	RateLimiter       *ratelimit.Limiter
	HMACVerifier      *hmacauth.Verifier
	ABACEngine        *abac.Engine
	Subjects          SubjectResolver
	Specs             SpecResolver
	ConsistencyEngine *consistency.Engine
	IdempotencyStore  idempotency.Store
	IdempotencyTTL    time.Duration
}

// Chain composes the fixed ordering: tenant -> rate-limit -> authN ->
// authZ -> consistency -> idempotency -> handler. Token emission is the
// handler's own responsibility via EngineFromContext, since it happens
// after the handler has built its response.
func Chain(cfg Config) func(http.Handler) http.Handler {
	var steps []func(http.Handler) http.Handler

	if cfg.TenantResolver != nil {
		steps = append(steps, TenantMiddleware(cfg.TenantResolver))
	}
	if cfg.RateLimiter != nil {
		steps = append(steps, RateLimitMiddleware(cfg.RateLimiter))
	}
	if cfg.HMACVerifier != nil {
		steps = append(steps, HMACAuthMiddleware(cfg.HMACVerifier))
	}
	if cfg.ABACEngine != nil && cfg.Subjects != nil && cfg.Specs != nil {
		steps = append(steps, ABACMiddleware(cfg.ABACEngine, cfg.Subjects, cfg.Specs))
	}
	if cfg.ConsistencyEngine != nil {
		steps = append(steps, ConsistencyMiddleware(cfg.ConsistencyEngine))
	}
	if cfg.IdempotencyStore != nil {
		ttl := cfg.IdempotencyTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		steps = append(steps, IdempotencyMiddleware(cfg.IdempotencyStore, ttl, nil))
	}

	return func(next http.Handler) http.Handler {
		h := next
		for i := len(steps) - 1; i >= 0; i-- {
			h = steps[i](h)
		}
		return h
	}
}
