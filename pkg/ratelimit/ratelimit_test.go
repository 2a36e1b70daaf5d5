package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t *time.Time) Clock {
	return func() time.Time { return *t }
}

func TestBuildKeyDefaultsToTenantAndIP(t *testing.T) {
	key := BuildKey(nil, KeyInput{IP: "1.2.3.4", Tenant: "acme"})
	assert.Equal(t, "tenant:acme|ip:1.2.3.4", key)
}

func TestBuildKeyIncludesHeaderPart(t *testing.T) {
	key := BuildKey([]KeyPart{{Kind: "header", HeaderName: "x-api-key"}}, KeyInput{Headers: map[string]string{"x-api-key": "secret"}})
	assert.Equal(t, "header:x-api-key=secret", key)
}

func TestPolicyTableResolvesLongestPrefixMatch(t *testing.T) {
	table := NewPolicyTable(Policy{Capacity: 10, RefillTokens: 1, RefillPeriod: time.Second})
	table.AddRoute("/v1/*", Policy{Capacity: 100, RefillTokens: 10, RefillPeriod: time.Second})
	table.AddRoute("/v1/orders/*", Policy{Capacity: 5, RefillTokens: 1, RefillPeriod: time.Second})

	assert.Equal(t, 5, table.Resolve("/v1/orders/123").Capacity)
	assert.Equal(t, 100, table.Resolve("/v1/products").Capacity)
	assert.Equal(t, 10, table.Resolve("/other").Capacity)
}

func TestAllowDecrementsTokenOnEachRequest(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	table := NewPolicyTable(Policy{Capacity: 3, RefillTokens: 1, RefillPeriod: time.Second})
	l := NewLimiter(table, nil, 0, 0, fixedClock(&now))

	d1 := l.Allow(KeyInput{IP: "1.1.1.1", Tenant: "acme", Path: "/v1"})
	require.True(t, d1.Allowed)
	assert.Equal(t, 2, d1.Remaining)

	d2 := l.Allow(KeyInput{IP: "1.1.1.1", Tenant: "acme", Path: "/v1"})
	assert.True(t, d2.Allowed)
	assert.Equal(t, 1, d2.Remaining)
}

func TestAllowDeniesWhenBucketExhausted(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	table := NewPolicyTable(Policy{Capacity: 1, RefillTokens: 1, RefillPeriod: time.Second})
	l := NewLimiter(table, nil, 0, 0, fixedClock(&now))

	in := KeyInput{IP: "1.1.1.1", Tenant: "acme", Path: "/v1"}
	first := l.Allow(in)
	require.True(t, first.Allowed)

	second := l.Allow(in)
	assert.False(t, second.Allowed)
	assert.Equal(t, 0, second.Remaining)
	assert.Greater(t, second.ResetSeconds, -1)
}

func TestAllowRefillsAfterElapsedPeriods(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	table := NewPolicyTable(Policy{Capacity: 2, RefillTokens: 1, RefillPeriod: time.Second})
	l := NewLimiter(table, nil, 0, 0, fixedClock(&now))

	in := KeyInput{IP: "1.1.1.1", Tenant: "acme", Path: "/v1"}
	l.Allow(in)
	second := l.Allow(in)
	require.True(t, second.Allowed)
	assert.Equal(t, 0, second.Remaining)

	third := l.Allow(in)
	assert.False(t, third.Allowed)

	now = now.Add(3 * time.Second)
	refilled := l.Allow(in)
	assert.True(t, refilled.Allowed)
}

func TestAllowKeysAreIndependentPerTenant(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	table := NewPolicyTable(Policy{Capacity: 1, RefillTokens: 1, RefillPeriod: time.Second})
	l := NewLimiter(table, nil, 0, 0, fixedClock(&now))

	d1 := l.Allow(KeyInput{IP: "1.1.1.1", Tenant: "acme", Path: "/v1"})
	d2 := l.Allow(KeyInput{IP: "1.1.1.1", Tenant: "other", Path: "/v1"})
	assert.True(t, d1.Allowed)
	assert.True(t, d2.Allowed)
}

func TestMaxBucketsEvictsIdleEntries(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	table := NewPolicyTable(Policy{Capacity: 5, RefillTokens: 1, RefillPeriod: time.Second})
	l := NewLimiter(table, nil, 10, time.Minute, fixedClock(&now))

	for i := 0; i < 10; i++ {
		l.Allow(KeyInput{IP: "1.1.1.1", Tenant: "t" + string(rune('a'+i)), Path: "/v1"})
	}
	now = now.Add(2 * time.Minute)
	l.Allow(KeyInput{IP: "1.1.1.1", Tenant: "trigger", Path: "/v1"})

	assert.LessOrEqual(t, len(l.buckets), 11)
}

func TestHeadersIncludeRetryAfterOnlyWhenDenied(t *testing.T) {
	allowed := Decision{Allowed: true, Limit: 10, WindowSeconds: 1, Remaining: 5, ResetSeconds: 0}
	h := Headers(allowed)
	assert.Equal(t, "10;w=1", h["RateLimit-Limit"])
	assert.Equal(t, "5", h["RateLimit-Remaining"])
	_, hasRetry := h["Retry-After"]
	assert.False(t, hasRetry)

	denied := Decision{Allowed: false, Limit: 10, WindowSeconds: 1, Remaining: 0, ResetSeconds: 3}
	h2 := Headers(denied)
	assert.Equal(t, "3", h2["Retry-After"])
}
