package hmacauth

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mabumohsen/veggieshop-sub000/infrastructure/ratelimit"
	"github.com/mabumohsen/veggieshop-sub000/infrastructure/resilience"
)

func newTestKeyServer(t *testing.T, secret []byte, tenants []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/keys/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		rec := keyRecord{
			ID:             "k1",
			SecretB64:      base64.StdEncoding.EncodeToString(secret),
			Algorithm:      "sha256",
			AllowedTenants: tenants,
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(rec))
	}))
}

func TestHTTPKeyResolverResolvesKnownKey(t *testing.T) {
	srv := newTestKeyServer(t, []byte("s3cret"), []string{"tenant-a"})
	defer srv.Close()

	r, err := NewHTTPKeyResolver(HTTPKeyResolverConfig{
		BaseURL:   srv.URL,
		ServiceID: "hmacauth-test",
		RateLimit: ratelimit.RateLimitConfig{RequestsPerSecond: 50, Burst: 50},
		Breaker:   resilience.DefaultConfig(),
	})
	require.NoError(t, err)

	key, ok := r.Resolve("k1")
	require.True(t, ok)
	require.Equal(t, "k1", key.ID)
	require.Equal(t, []byte("s3cret"), key.Secret)
	require.True(t, key.allowsTenant("tenant-a"))
	require.False(t, key.allowsTenant("tenant-b"))
}

func TestHTTPKeyResolverMissingKeyReturnsFalse(t *testing.T) {
	srv := newTestKeyServer(t, []byte("s3cret"), nil)
	defer srv.Close()

	r, err := NewHTTPKeyResolver(HTTPKeyResolverConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, ok := r.Resolve("missing")
	require.False(t, ok)
}

func TestHTTPKeyResolverEmptyKeyIDReturnsFalse(t *testing.T) {
	r, err := NewHTTPKeyResolver(HTTPKeyResolverConfig{BaseURL: "http://example.com"})
	require.NoError(t, err)

	_, ok := r.Resolve("   ")
	require.False(t, ok)
}

func TestHTTPKeyResolverCachesResolvedKey(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		rec := keyRecord{ID: "k1", SecretB64: base64.StdEncoding.EncodeToString([]byte("s3cret")), Algorithm: "sha256"}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(rec))
	}))
	defer srv.Close()

	r, err := NewHTTPKeyResolver(HTTPKeyResolverConfig{
		BaseURL:   srv.URL,
		RateLimit: ratelimit.RateLimitConfig{RequestsPerSecond: 50, Burst: 50},
		Breaker:   resilience.DefaultConfig(),
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		key, ok := r.Resolve("k1")
		require.True(t, ok)
		require.Equal(t, "k1", key.ID)
	}
	require.EqualValues(t, 1, atomic.LoadInt64(&hits), "repeated resolves of the same key should hit the cache, not the upstream")

	r.InvalidateCache()
	_, ok := r.Resolve("k1")
	require.True(t, ok)
	require.EqualValues(t, 2, atomic.LoadInt64(&hits), "after InvalidateCache the next resolve must re-fetch upstream")
}

func TestHTTPKeyResolverCacheDisabledWithNegativeTTL(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		rec := keyRecord{ID: "k1", SecretB64: base64.StdEncoding.EncodeToString([]byte("s3cret")), Algorithm: "sha256"}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(rec))
	}))
	defer srv.Close()

	r, err := NewHTTPKeyResolver(HTTPKeyResolverConfig{
		BaseURL:     srv.URL,
		RateLimit:   ratelimit.RateLimitConfig{RequestsPerSecond: 50, Burst: 50},
		Breaker:     resilience.DefaultConfig(),
		KeyCacheTTL: -1,
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, ok := r.Resolve("k1")
		require.True(t, ok)
	}
	require.EqualValues(t, 3, atomic.LoadInt64(&hits), "negative KeyCacheTTL must disable caching")
}
