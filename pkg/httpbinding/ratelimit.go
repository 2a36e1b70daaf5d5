package httpbinding

import (
	"net/http"

	internalhttputil "github.com/mabumohsen/veggieshop-sub000/infrastructure/httputil"
	"github.com/mabumohsen/veggieshop-sub000/pkg/problem"
	"github.com/mabumohsen/veggieshop-sub000/pkg/ratelimit"
	"github.com/mabumohsen/veggieshop-sub000/pkg/tenant"
)

// RateLimitMiddleware enforces the per-route composite-key token bucket
// and always sets the RateLimit-* response headers, even on allow, so
// clients can self-throttle ahead of a 429.
func RateLimitMiddleware(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			in := ratelimit.KeyInput{
				IP:      internalhttputil.ClientIP(r),
				Path:    r.URL.Path,
				Headers: flattenHeaders(r.Header),
			}
			if t, ok := tenant.Current(r.Context()); ok {
				in.Tenant = string(t)
			}

			decision := limiter.Allow(in)
			for k, v := range ratelimit.Headers(decision) {
				w.Header().Set(k, v)
			}
			if !decision.Allowed {
				WriteProblem(w, r, problem.New(problem.RateLimited, "rate limit exceeded", nil))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
