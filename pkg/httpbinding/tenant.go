package httpbinding

import (
	"net/http"

	"github.com/mabumohsen/veggieshop-sub000/pkg/tenant"
)

// TenantMiddleware resolves the active tenant per the resolver's fixed
// carrier precedence and binds it into the request context. It must run
// first in the chain: every later step (rate limiting, authZ,
// consistency, idempotency) is tenant-scoped.
func TenantMiddleware(resolver *tenant.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := resolver.Resolve(tenant.Input{HTTPHeaders: r.Header})
			if err != nil {
				WriteProblem(w, r, err)
				return
			}
			scope := tenant.Open(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(scope.Context()))
		})
	}
}
