// Package hmacauth implements the HMAC request-signing verifier:
// clock-skew checking, key resolution, replay-safe nonce tracking,
// optional body-digest enforcement, and the canonical string-to-sign
// construction used to compute and check the signature.
package hmacauth

import (
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mabumohsen/veggieshop-sub000/pkg/cryptoutil"
	"github.com/mabumohsen/veggieshop-sub000/pkg/problem"
	"github.com/mabumohsen/veggieshop-sub000/pkg/tenant"
)

const minNonceLen = 8

// Key is a resolved HMAC signing key.
type Key struct {
	ID             string
	Secret         []byte
	Algorithm      string // e.g. "sha256", passed to cryptoutil.HMACSign
	Disabled       bool
	AllowedTenants map[tenant.ID]bool // nil/empty means unrestricted
}

func (k Key) allowsTenant(t tenant.ID) bool {
	if len(k.AllowedTenants) == 0 {
		return true
	}
	return k.AllowedTenants[t]
}

// KeyResolver looks up a Key by ID.
type KeyResolver interface {
	Resolve(keyID string) (Key, bool)
}

// NonceStore registers (keyId, tenant, nonce) triplets with a TTL,
// rejecting duplicates within the window as replays.
type NonceStore interface {
	// Register returns true if this is the first time the triplet has
	// been seen within ttl; false if it's a replay.
	Register(keyID string, t tenant.ID, nonce string, ttl time.Duration, now time.Time) bool
}

// Request is the subset of an inbound HTTP request the verifier needs.
type Request struct {
	Tenant    tenant.ID
	Method    string
	Path      string // raw path, no query string
	RawQuery  string
	Body      []byte
	KeyID     string
	Timestamp int64 // unix seconds, from the signed header
	Nonce     string
	Signature string // base64-encoded
	Digest    string // optional caller-supplied "sha256=<base64>" header
}

// Options configures clock skew, body size, and digest enforcement.
type Options struct {
	ClockSkew         time.Duration
	MaxBodyBytes      int64
	EnforceBodySHA256 bool
	NonceTTL          time.Duration
	AlgLabel          string // e.g. "HMAC-SHA256", the first line of the string-to-sign
}

// DefaultOptions returns conservative verifier defaults.
func DefaultOptions() Options {
	return Options{
		ClockSkew:         5 * time.Minute,
		MaxBodyBytes:      1 << 20,
		EnforceBodySHA256: true,
		NonceTTL:          10 * time.Minute,
		AlgLabel:          "HMAC-SHA256",
	}
}

// Clock abstracts "now" for deterministic tests.
type Clock func() time.Time

// Verifier implements the 8-step HMAC verification algorithm.
type Verifier struct {
	Keys  KeyResolver
	Nonce NonceStore
	Opts  Options
	Now   Clock
}

// NewVerifier builds a Verifier. now defaults to time.Now.
func NewVerifier(keys KeyResolver, nonces NonceStore, opts Options, now Clock) *Verifier {
	if now == nil {
		now = time.Now
	}
	return &Verifier{Keys: keys, Nonce: nonces, Opts: opts, Now: now}
}

// Verify runs the full verification algorithm against req.
func (v *Verifier) Verify(req Request) error {
	// 1. Tenant resolution is the caller's responsibility (4.A); here we
	// only require req.Tenant to be populated.
	if req.Tenant == "" {
		return problem.New(problem.TenantRequired, "tenant is required for HMAC verification", nil)
	}

	// 2. keyId/timestamp/nonce/signature are carried on Request already;
	// validate nonce length here.
	if len(req.Nonce) < minNonceLen {
		return problem.New(problem.AuthenticationFailed, "nonce too short", nil)
	}

	// 3. Clock skew.
	now := v.Now()
	skew := now.Unix() - req.Timestamp
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > v.Opts.ClockSkew {
		return problem.New(problem.AuthenticationFailed, "timestamp outside allowed clock skew", nil)
	}

	// 4. Resolve key.
	key, ok := v.Keys.Resolve(req.KeyID)
	if !ok || key.Disabled {
		return problem.New(problem.AuthenticationFailed, "signing key not found or disabled", nil)
	}
	if !key.allowsTenant(req.Tenant) {
		return problem.New(problem.AuthenticationFailed, "key not permitted for tenant", nil)
	}

	// 5. Nonce replay.
	if !v.Nonce.Register(req.KeyID, req.Tenant, req.Nonce, v.Opts.NonceTTL, now) {
		return problem.New(problem.AuthenticationFailed, "nonce replay detected", nil)
	}

	// 6. Body size and digest.
	if v.Opts.MaxBodyBytes > 0 && int64(len(req.Body)) > v.Opts.MaxBodyBytes {
		return problem.New(problem.PayloadTooLarge, "request body exceeds maximum size", nil)
	}
	sum := sha256.Sum256(req.Body)
	digest := base64.StdEncoding.EncodeToString(sum[:])
	if v.Opts.EnforceBodySHA256 {
		want := "sha256=" + digest
		if !strings.EqualFold(req.Digest, want) {
			return problem.New(problem.AuthenticationFailed, "body digest mismatch", nil)
		}
	}

	// 7. Canonical string-to-sign.
	query, err := canonicalQuery(req.RawQuery)
	if err != nil {
		return problem.New(problem.AuthenticationFailed, "malformed query string", nil)
	}
	digestField := digest
	if !v.Opts.EnforceBodySHA256 {
		digestField = "-"
	}
	stringToSign := strings.Join([]string{
		v.Opts.AlgLabel,
		"ts:" + strconv.FormatInt(req.Timestamp, 10),
		"nonce:" + req.Nonce,
		"meth:" + strings.ToUpper(req.Method),
		"path:" + req.Path,
		"query:" + query,
		"digest:" + digestField,
		"tenant:" + string(req.Tenant),
	}, "\n")

	// 8. Compare signatures.
	expected, err := cryptoutil.HMACSign(key.Algorithm, key.Secret, []byte(stringToSign))
	if err != nil {
		return problem.New(problem.AuthenticationFailed, "failed to compute expected signature", nil)
	}
	got, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		return problem.New(problem.AuthenticationFailed, "signature is not valid base64", nil)
	}
	if !cryptoutil.ConstantTimeEqual(expected, got) {
		return problem.New(problem.AuthenticationFailed, "signature mismatch", nil)
	}
	return nil
}

// canonicalQuery splits raw by "&", URL-decodes each key/value, sorts by
// (key, value), and re-encodes with the unreserved-character allowlist.
func canonicalQuery(raw string) (string, error) {
	if raw == "" {
		return "-", nil
	}
	pairs := strings.Split(raw, "&")
	type kv struct{ k, v string }
	decoded := make([]kv, 0, len(pairs))
	for _, p := range pairs {
		if p == "" {
			continue
		}
		k, v, _ := strings.Cut(p, "=")
		dk, err := url.QueryUnescape(k)
		if err != nil {
			return "", err
		}
		dv, err := url.QueryUnescape(v)
		if err != nil {
			return "", err
		}
		decoded = append(decoded, kv{dk, dv})
	}
	sort.Slice(decoded, func(i, j int) bool {
		if decoded[i].k != decoded[j].k {
			return decoded[i].k < decoded[j].k
		}
		return decoded[i].v < decoded[j].v
	})
	parts := make([]string, 0, len(decoded))
	for _, e := range decoded {
		parts = append(parts, encodeUnreserved(e.k)+"="+encodeUnreserved(e.v))
	}
	if len(parts) == 0 {
		return "-", nil
	}
	return strings.Join(parts, "&"), nil
}

// encodeUnreserved percent-encodes everything except RFC 3986 unreserved
// characters (ALPHA / DIGIT / "-" / "." / "_" / "~").
func encodeUnreserved(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') ||
			c == '-' || c == '.' || c == '_' || c == '~' {
			b.WriteByte(c)
		} else {
			b.WriteString("%")
			const hex = "0123456789ABCDEF"
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0x0f])
		}
	}
	return b.String()
}
