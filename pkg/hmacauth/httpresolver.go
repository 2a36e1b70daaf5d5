package hmacauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mabumohsen/veggieshop-sub000/infrastructure/cache"
	"github.com/mabumohsen/veggieshop-sub000/infrastructure/httputil"
	"github.com/mabumohsen/veggieshop-sub000/infrastructure/ratelimit"
	"github.com/mabumohsen/veggieshop-sub000/infrastructure/resilience"
	"github.com/mabumohsen/veggieshop-sub000/pkg/tenant"
)

// HTTPKeyResolverConfig configures an HTTPKeyResolver.
type HTTPKeyResolverConfig struct {
	// BaseURL points at the upstream key service, e.g. a KMS or secrets
	// broker fronting signing keys for HMAC clients.
	BaseURL string
	// ServiceID identifies this caller to the upstream service.
	ServiceID string
	// Timeout bounds each upstream round trip.
	Timeout time.Duration
	// MaxBodyBytes caps the upstream response body.
	MaxBodyBytes int64
	// HTTPClient optionally overrides the underlying client.
	HTTPClient *http.Client
	// RateLimit throttles outbound lookups so a burst of unknown key IDs
	// cannot hammer the upstream service.
	RateLimit ratelimit.RateLimitConfig
	// Breaker configures the circuit breaker wrapping each lookup.
	Breaker resilience.Config
	// KeyCacheTTL bounds how long a resolved key is reused before the next
	// Resolve call re-fetches it, so a burst of requests signed by the same
	// key doesn't hit the upstream service once per request. Negative
	// disables caching entirely; zero applies defaultKeyCacheTTL.
	KeyCacheTTL time.Duration
}

const defaultResolverTimeout = 5 * time.Second
const defaultResolverMaxBody = 1 << 16 // 64KiB, a key record is small
const defaultKeyCacheTTL = time.Minute

// keyRecord is the upstream JSON representation of a signing key.
type keyRecord struct {
	ID             string   `json:"id"`
	SecretB64      string   `json:"secret_b64"`
	Algorithm      string   `json:"algorithm"`
	Disabled       bool     `json:"disabled"`
	AllowedTenants []string `json:"allowed_tenants,omitempty"`
}

// HTTPKeyResolver implements KeyResolver by fetching keys from an upstream
// HTTP service, rate-limited and circuit-breaker-protected so a flaky or
// slow upstream degrades to "key not found" rather than stalling callers.
type HTTPKeyResolver struct {
	client       *ratelimit.RateLimitedClient
	breaker      *resilience.CircuitBreaker
	baseURL      string
	serviceID    string
	maxBodyBytes int64
	keyCacheTTL  time.Duration
	keys         *cache.TokenCache
}

// NewHTTPKeyResolver builds an HTTPKeyResolver from cfg.
func NewHTTPKeyResolver(cfg HTTPKeyResolverConfig) (*HTTPKeyResolver, error) {
	baseClient := cfg.HTTPClient
	if baseClient == nil {
		baseClient = &http.Client{Transport: httputil.DefaultTransportWithMinTLS12()}
	}

	httpClient, baseURL, err := httputil.NewClientWithBaseURL(httputil.ClientConfig{
		BaseURL:      cfg.BaseURL,
		ServiceID:    cfg.ServiceID,
		Timeout:      cfg.Timeout,
		HTTPClient:   baseClient,
		MaxBodyBytes: cfg.MaxBodyBytes,
	}, httputil.ClientDefaults{
		Timeout:          defaultResolverTimeout,
		MaxBodyBytes:     defaultResolverMaxBody,
		NormalizeBaseURL: true,
		RequireHTTPS:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("hmacauth: key resolver base URL: %w", err)
	}

	maxBodyBytes := httputil.ResolveMaxBodyBytes(cfg.MaxBodyBytes, defaultResolverMaxBody)

	rlCfg := cfg.RateLimit
	if rlCfg.RequestsPerSecond <= 0 {
		rlCfg = ratelimit.DefaultConfig()
	}

	keyCacheTTL := cfg.KeyCacheTTL
	if keyCacheTTL == 0 {
		keyCacheTTL = defaultKeyCacheTTL
	}

	return &HTTPKeyResolver{
		client:       ratelimit.NewRateLimitedClient(httpClient, rlCfg),
		breaker:      resilience.New(cfg.Breaker),
		baseURL:      baseURL,
		serviceID:    httputil.ResolveServiceID(cfg.ServiceID),
		maxBodyBytes: maxBodyBytes,
		keyCacheTTL:  keyCacheTTL,
		keys:         cache.NewTokenCache(cache.DefaultConfig()),
	}, nil
}

// Resolve fetches the key from the upstream service. A circuit-open,
// network, or decode error is treated as "key not found" — callers
// reject the signature rather than surfacing transport errors to the
// request path.
func (r *HTTPKeyResolver) Resolve(keyID string) (Key, bool) {
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		return Key{}, false
	}

	if r.keyCacheTTL >= 0 {
		if cached, ok := r.keys.GetToken(keyID); ok {
			return cached.(Key), true
		}
	}

	var rec keyRecord
	err := r.breaker.Execute(context.Background(), func() error {
		fetched, ferr := r.fetch(keyID)
		if ferr != nil {
			return ferr
		}
		rec = fetched
		return nil
	})
	if err != nil {
		return Key{}, false
	}

	secret, err := base64.StdEncoding.DecodeString(rec.SecretB64)
	if err != nil {
		return Key{}, false
	}

	var allowed map[tenant.ID]bool
	if len(rec.AllowedTenants) > 0 {
		allowed = make(map[tenant.ID]bool, len(rec.AllowedTenants))
		for _, t := range rec.AllowedTenants {
			allowed[tenant.ID(t)] = true
		}
	}

	key := Key{
		ID:             rec.ID,
		Secret:         secret,
		Algorithm:      rec.Algorithm,
		Disabled:       rec.Disabled,
		AllowedTenants: allowed,
	}

	if r.keyCacheTTL >= 0 {
		r.keys.SetToken(keyID, key, r.keyCacheTTL)
	}

	return key, true
}

// InvalidateCache drops every cached key, forcing the next Resolve call
// for each key ID to re-fetch from the upstream service. Callers wire
// this to a key-rotation notification so a rotated or revoked key takes
// effect immediately instead of waiting out KeyCacheTTL.
func (r *HTTPKeyResolver) InvalidateCache() {
	r.keys.OnKeyRotation()
}

func (r *HTTPKeyResolver) fetch(keyID string) (keyRecord, error) {
	req, err := http.NewRequest(http.MethodGet, r.baseURL+"/keys/"+keyID, nil)
	if err != nil {
		return keyRecord{}, err
	}
	if r.serviceID != "" {
		req.Header.Set("X-Service-ID", r.serviceID)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return keyRecord{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return keyRecord{}, fmt.Errorf("hmacauth: key lookup returned status %d", resp.StatusCode)
	}

	body, err := httputil.ReadAllStrict(resp.Body, r.maxBodyBytes)
	if err != nil {
		return keyRecord{}, err
	}

	var rec keyRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return keyRecord{}, err
	}
	return rec, nil
}
