package httpbinding

import (
	"net/http"

	"github.com/mabumohsen/veggieshop-sub000/pkg/consistency"
	"github.com/mabumohsen/veggieshop-sub000/pkg/problem"
	"github.com/mabumohsen/veggieshop-sub000/pkg/tenant"
)

// Header names for the consistency token handshake.
const (
	HeaderIfConsistentWith = "If-Consistent-With"
	HeaderPriorToken       = "X-Prior-Consistency-Token"
	HeaderConsistencyStale = "Consistency-Stale"
)

// ConsistencyMiddleware opens a request-scoped consistency window: it
// verifies any supplied tokens, seeds the tenant watermark from a prior
// write's token, and for reads that named a required watermark, blocks
// (bounded by the engine's RYW budget) until the store catches up. The
// resulting scope and engine are bound into the context so the handler
// can call EngineFromContext(ctx) to emit a fresh token once it has
// produced its response.
func ConsistencyMiddleware(engine *consistency.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t, ok := tenant.Current(r.Context())
			if !ok {
				WriteProblem(w, r, problem.New(problem.TenantRequired, "tenant must be resolved before the consistency gate", nil))
				return
			}

			scope, err := engine.OpenRequest(r.Context(), t, r.Header.Get(HeaderIfConsistentWith), r.Header.Get(HeaderPriorToken))
			if err != nil {
				WriteProblem(w, r, err)
				return
			}

			if scope.RequiredWatermarkOrZero() > 0 {
				stale, err := engine.AwaitReadYourWrites(r.Context(), scope)
				if err != nil {
					WriteProblem(w, r, err)
					return
				}
				if stale {
					w.Header().Set(HeaderConsistencyStale, "true")
				}
			}

			ctx := withScope(r.Context(), scope)
			ctx = withEngine(ctx, engine)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
