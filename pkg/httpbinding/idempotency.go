package httpbinding

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mabumohsen/veggieshop-sub000/pkg/cryptoutil"
	"github.com/mabumohsen/veggieshop-sub000/pkg/idempotency"
	"github.com/mabumohsen/veggieshop-sub000/pkg/problem"
	"github.com/mabumohsen/veggieshop-sub000/pkg/tenant"
)

// HeaderIdempotencyKey is the header mutating requests supply a client
// generated idempotency key on.
const HeaderIdempotencyKey = "Idempotency-Key"

// IdempotencyMiddleware only runs for methods in mutatingMethods (by
// default POST/PUT/PATCH/DELETE); other methods pass through untouched.
// On FirstSeen it captures the handler's response and stores it; on
// Replay it returns the stored response verbatim without invoking the
// handler; on Conflict it fails the request without running the handler.
// The request hash stored with the key is the SHA-256 of the body alone;
// the method, path and headers are not part of it.
func IdempotencyMiddleware(store idempotency.Store, ttl time.Duration, mutatingMethods map[string]bool) func(http.Handler) http.Handler {
	if mutatingMethods == nil {
		mutatingMethods = map[string]bool{
			http.MethodPost: true, http.MethodPut: true,
			http.MethodPatch: true, http.MethodDelete: true,
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !mutatingMethods[r.Method] {
				next.ServeHTTP(w, r)
				return
			}

			t, ok := tenant.Current(r.Context())
			if !ok {
				WriteProblem(w, r, problem.New(problem.TenantRequired, "tenant must be resolved before the idempotency gate", nil))
				return
			}
			rawKey := r.Header.Get(HeaderIdempotencyKey)
			if rawKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			key, err := uuid.Parse(rawKey)
			if err != nil {
				WriteProblem(w, r, problem.New(problem.ValidationFailed, "idempotency key must be a UUID", nil))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				WriteProblem(w, r, problem.New(problem.ValidationFailed, "failed to read request body", nil))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			hash, err := cryptoutil.Digest(cryptoutil.AlgSHA256, body)
			if err != nil {
				WriteProblem(w, r, problem.New(problem.InternalError, "failed to hash request body", nil))
				return
			}

			rec, outcome, err := idempotency.Begin(r.Context(), store, t, key, hash, r.Method, r.URL.Path, ttl)
			if err != nil {
				WriteProblem(w, r, err)
				return
			}

			if outcome == idempotency.Replay {
				w.WriteHeader(rec.Status)
				_, _ = w.Write(rec.Response)
				return
			}

			rec2 := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec2, r)
			_ = store.Complete(r.Context(), t, key, rec2.buf.Bytes(), rec2.status)
		})
	}
}

// responseRecorder buffers a handler's response so it can be persisted
// against the idempotency key after the handler completes.
type responseRecorder struct {
	http.ResponseWriter
	buf    bytes.Buffer
	status int
	wrote  bool
}

func (r *responseRecorder) WriteHeader(code int) {
	if !r.wrote {
		r.status = code
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if !r.wrote {
		r.WriteHeader(http.StatusOK)
	}
	r.buf.Write(b)
	return r.ResponseWriter.Write(b)
}
