package httpbinding

import (
	"bytes"
	"io"
	"net/http"
	"strconv"

	"github.com/mabumohsen/veggieshop-sub000/pkg/hmacauth"
	"github.com/mabumohsen/veggieshop-sub000/pkg/problem"
	"github.com/mabumohsen/veggieshop-sub000/pkg/tenant"
)

// Header names for the HMAC signing scheme.
const (
	HeaderKeyID     = "X-Signature-KeyId"
	HeaderTimestamp = "X-Signature-Timestamp"
	HeaderNonce     = "X-Signature-Nonce"
	HeaderSignature = "X-Signature"
	HeaderDigest    = "X-Content-SHA256"
)

// HMACAuthMiddleware authenticates the request by verifying its HMAC
// signature. It reads and restores the body so downstream handlers see
// it unconsumed. Requires TenantMiddleware to have already run.
func HMACAuthMiddleware(verifier *hmacauth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t, ok := tenant.Current(r.Context())
			if !ok {
				WriteProblem(w, r, problem.New(problem.TenantRequired, "tenant must be resolved before authentication", nil))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				WriteProblem(w, r, problem.New(problem.AuthenticationFailed, "failed to read request body", nil))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			ts, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
			if err != nil {
				WriteProblem(w, r, problem.New(problem.AuthenticationFailed, "missing or malformed signature timestamp", nil))
				return
			}

			req := hmacauth.Request{
				Tenant:    t,
				Method:    r.Method,
				Path:      r.URL.Path,
				RawQuery:  r.URL.RawQuery,
				Body:      body,
				KeyID:     r.Header.Get(HeaderKeyID),
				Timestamp: ts,
				Nonce:     r.Header.Get(HeaderNonce),
				Signature: r.Header.Get(HeaderSignature),
				Digest:    r.Header.Get(HeaderDigest),
			}
			if err := verifier.Verify(req); err != nil {
				w.Header().Set("WWW-Authenticate", `HMAC error="invalid_token"`)
				WriteProblem(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
