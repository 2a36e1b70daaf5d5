// Package ratelimit implements the composite-key token bucket limiter:
// per-route policies matched by longest-prefix path, RateLimit-* header
// math, and a bounded in-memory bucket map with idle eviction.
package ratelimit

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// KeyPart names one component of the composite rate-limit key.
type KeyPart struct {
	// Kind is one of "ip", "tenant", "header", "path".
	Kind string
	// HeaderName is set when Kind == "header".
	HeaderName string
}

// DefaultKeyParts is the fallback composite key: tenant|ip.
func DefaultKeyParts() []KeyPart {
	return []KeyPart{{Kind: "tenant"}, {Kind: "ip"}}
}

// KeyInput supplies the values a composite key is built from.
type KeyInput struct {
	IP      string
	Tenant  string
	Path    string
	Headers map[string]string // case-normalized by caller
}

// BuildKey renders the composite key for a request given parts.
func BuildKey(parts []KeyPart, in KeyInput) string {
	if len(parts) == 0 {
		parts = DefaultKeyParts()
	}
	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		switch p.Kind {
		case "ip":
			segments = append(segments, "ip:"+in.IP)
		case "tenant":
			segments = append(segments, "tenant:"+in.Tenant)
		case "path":
			segments = append(segments, "path:"+in.Path)
		case "header":
			segments = append(segments, "header:"+p.HeaderName+"="+in.Headers[p.HeaderName])
		}
	}
	return strings.Join(segments, "|")
}

// Policy is the token-bucket configuration for a route.
type Policy struct {
	Capacity     int
	RefillTokens int
	RefillPeriod time.Duration
}

// routePolicy pairs a path-matching prefix/glob with its Policy.
type routePolicy struct {
	pattern string
	policy  Policy
}

// PolicyTable resolves a path to a Policy by longest-prefix/glob match.
type PolicyTable struct {
	mu      sync.RWMutex
	routes  []routePolicy
	Default Policy
}

// NewPolicyTable builds a table with the given default policy.
func NewPolicyTable(def Policy) *PolicyTable {
	return &PolicyTable{Default: def}
}

// AddRoute registers a policy for a path pattern. A pattern ending in
// "*" matches by prefix; an exact pattern matches only that path.
// Longer (more specific) patterns win over shorter ones.
func (t *PolicyTable) AddRoute(pattern string, policy Policy) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes = append(t.routes, routePolicy{pattern: pattern, policy: policy})
	sort.SliceStable(t.routes, func(i, j int) bool {
		return len(strings.TrimSuffix(t.routes[i].pattern, "*")) > len(strings.TrimSuffix(t.routes[j].pattern, "*"))
	})
}

// Resolve returns the most specific policy matching path, or Default.
func (t *PolicyTable) Resolve(path string) Policy {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, r := range t.routes {
		if strings.HasSuffix(r.pattern, "*") {
			prefix := strings.TrimSuffix(r.pattern, "*")
			if strings.HasPrefix(path, prefix) {
				return r.policy
			}
		} else if r.pattern == path {
			return r.policy
		}
	}
	return t.Default
}

type bucket struct {
	tokens     float64
	capacity   float64
	lastRefill time.Time
	lastSeen   time.Time
	policy     Policy
}

// Decision is the outcome of evaluating a request against its bucket.
type Decision struct {
	Allowed       bool
	Limit         int
	WindowSeconds int
	Remaining     int
	ResetSeconds  int
}

// Clock abstracts "now" (monotonic time, per the spec's algorithm) for
// deterministic tests.
type Clock func() time.Time

// Limiter is the bounded in-memory composite-key token bucket limiter.
type Limiter struct {
	Policies *PolicyTable
	KeyParts []KeyPart
	Now      Clock

	MaxBuckets     int
	IdleEvictAfter time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewLimiter builds a Limiter. now defaults to time.Now.
func NewLimiter(policies *PolicyTable, keyParts []KeyPart, maxBuckets int, idleEvictAfter time.Duration, now Clock) *Limiter {
	if now == nil {
		now = time.Now
	}
	if len(keyParts) == 0 {
		keyParts = DefaultKeyParts()
	}
	return &Limiter{
		Policies:       policies,
		KeyParts:       keyParts,
		Now:            now,
		MaxBuckets:     maxBuckets,
		IdleEvictAfter: idleEvictAfter,
		buckets:        make(map[string]*bucket),
	}
}

// Allow evaluates one request against its composite-key bucket,
// following the 4-step refill/decrement algorithm.
func (l *Limiter) Allow(in KeyInput) Decision {
	key := BuildKey(l.KeyParts, in)
	policy := l.Policies.Resolve(in.Path)
	now := l.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{
			tokens:     float64(policy.Capacity),
			capacity:   float64(policy.Capacity),
			lastRefill: now,
			policy:     policy,
		}
		l.buckets[key] = b
		l.maybeEvict(now)
	}
	b.lastSeen = now

	// 1-2: refill.
	if b.policy.RefillPeriod > 0 {
		elapsed := now.Sub(b.lastRefill)
		steps := int64(elapsed / b.policy.RefillPeriod)
		if steps > 0 {
			b.tokens = minFloat(b.capacity, b.tokens+float64(steps*int64(b.policy.RefillTokens)))
			b.lastRefill = b.lastRefill.Add(time.Duration(steps) * b.policy.RefillPeriod)
		}
	}

	windowSeconds := int(b.policy.RefillPeriod / time.Second)
	if windowSeconds <= 0 {
		windowSeconds = 1
	}

	// 3-4: decrement or deny.
	if b.tokens > 0 {
		b.tokens--
		resetSeconds := 0
		if b.policy.RefillTokens > 0 {
			resetSeconds = int((b.capacity - b.tokens) * float64(b.policy.RefillPeriod) / float64(b.policy.RefillTokens) / float64(time.Second))
		}
		return Decision{
			Allowed:       true,
			Limit:         int(b.capacity),
			WindowSeconds: windowSeconds,
			Remaining:     int(b.tokens),
			ResetSeconds:  resetSeconds,
		}
	}

	resetSeconds := int((b.policy.RefillPeriod - now.Sub(b.lastRefill)) / time.Second)
	if resetSeconds < 0 {
		resetSeconds = 0
	}
	return Decision{
		Allowed:       false,
		Limit:         int(b.capacity),
		WindowSeconds: windowSeconds,
		Remaining:     0,
		ResetSeconds:  resetSeconds,
	}
}

// maybeEvict prunes 10% of entries older than IdleEvictAfter once the
// bucket map exceeds MaxBuckets. Caller must hold l.mu.
func (l *Limiter) maybeEvict(now time.Time) {
	if l.MaxBuckets <= 0 || len(l.buckets) <= l.MaxBuckets {
		return
	}
	type candidate struct {
		key      string
		lastSeen time.Time
	}
	var candidates []candidate
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.IdleEvictAfter {
			candidates = append(candidates, candidate{k, b.lastSeen})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].lastSeen.Before(candidates[j].lastSeen) })

	toEvict := len(l.buckets) / 10
	if toEvict > len(candidates) {
		toEvict = len(candidates)
	}
	for i := 0; i < toEvict; i++ {
		delete(l.buckets, candidates[i].key)
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// Headers renders the RateLimit-* (and, on denial, Retry-After) header
// set for a Decision.
func Headers(d Decision) map[string]string {
	h := map[string]string{
		"RateLimit-Limit":     fmt.Sprintf("%d;w=%d", d.Limit, d.WindowSeconds),
		"RateLimit-Remaining": fmt.Sprintf("%d", d.Remaining),
		"RateLimit-Reset":     fmt.Sprintf("%d", d.ResetSeconds),
	}
	if !d.Allowed {
		h["Retry-After"] = fmt.Sprintf("%d", d.ResetSeconds)
	}
	return h
}
