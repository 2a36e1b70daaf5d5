// Package dedupe implements the event dedupe service: a (tenant, eventId,
// version) triplet store guarding the reliable event pipeline against
// double-processing, with fail-closed semantics on store errors.
package dedupe

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/mabumohsen/veggieshop-sub000/infrastructure/logging"
	"github.com/mabumohsen/veggieshop-sub000/pkg/tenant"
)

// Result is the outcome of CheckAndMark.
type Result int

const (
	AcceptFirstSeen Result = iota
	Duplicate
	QuarantineTooOldVersion
	QuarantineOutsideReplayWindow
	QuarantineFutureSkew
	QuarantineStoreError
)

func (r Result) String() string {
	switch r {
	case AcceptFirstSeen:
		return "ACCEPT_FIRST_SEEN"
	case Duplicate:
		return "DUPLICATE"
	case QuarantineTooOldVersion:
		return "QUARANTINE_TOO_OLD_VERSION"
	case QuarantineOutsideReplayWindow:
		return "QUARANTINE_OUTSIDE_REPLAY_WINDOW"
	case QuarantineFutureSkew:
		return "QUARANTINE_FUTURE_SKEW"
	case QuarantineStoreError:
		return "QUARANTINE_STORE_ERROR"
	default:
		return "UNKNOWN"
	}
}

// MinDedupeTTL is the minimum retention the spec requires; configuring
// below this should emit a warning rather than silently truncating.
const MinDedupeTTL = 7 * 24 * time.Hour

// ReplayPolicy bounds what an event's version and timestamp must satisfy
// to be accepted, optionally overridden per (tenant, family).
type ReplayPolicy struct {
	MinAcceptedVersion int64
	ReplayWindow       time.Duration
	MaxFutureSkew      time.Duration
}

// PolicyProvider resolves the effective ReplayPolicy for a (tenant,
// family) pair.
type PolicyProvider interface {
	Resolve(tenantID tenant.ID, family string) ReplayPolicy
}

// StaticPolicyProvider returns a fixed default policy, optionally
// overridden per (tenant, family) key "tenant/family".
type StaticPolicyProvider struct {
	Default   ReplayPolicy
	Overrides map[string]ReplayPolicy
}

func (p StaticPolicyProvider) Resolve(tenantID tenant.ID, family string) ReplayPolicy {
	if p.Overrides != nil {
		if pol, ok := p.Overrides[string(tenantID)+"/"+family]; ok {
			return pol
		}
	}
	return p.Default
}

// PrimaryStore is the durable event_dedupe SPI: PK (tenant_id, event_id,
// version), insert-or-bump semantics.
type PrimaryStore interface {
	// InsertOrBump attempts to insert the triplet as a first occurrence.
	// If a row already exists, it bumps seenCount and lastSeenAt instead
	// and reports inserted=false.
	InsertOrBump(ctx context.Context, tenantID tenant.ID, eventID string, version int64, now time.Time, ttl time.Duration) (inserted bool, err error)
}

// Cache is an optional hot-path short-circuit in front of PrimaryStore.
// Errors from Cache are always best-effort: CheckAndMark never fails
// because the cache failed, only because the PrimaryStore failed.
type Cache interface {
	// SetNX sets key if absent and reports whether it was newly set.
	SetNX(ctx context.Context, key string, ttl time.Duration) (set bool, err error)
}

// Service ties a PolicyProvider, PrimaryStore, optional Cache, and Clock
// together.
type Service struct {
	Policies PolicyProvider
	Primary  PrimaryStore
	Cache    Cache // may be nil
	Now      func() time.Time
	TTL      time.Duration
}

// NewService builds a Service. now defaults to time.Now when nil. A ttl
// below MinDedupeTTL is kept as given and logged as a warning.
func NewService(policies PolicyProvider, primary PrimaryStore, cache Cache, ttl time.Duration, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	if ttl < MinDedupeTTL {
		logging.WarnDefault(context.Background(), fmt.Sprintf("dedupe: TTL %s is below the %s minimum retention", ttl, MinDedupeTTL))
	}
	return &Service{Policies: policies, Primary: primary, Cache: cache, Now: now, TTL: ttl}
}

// CheckAndMark evaluates fences in order (too-old-version, future-skew,
// outside-replay-window), then consults the optional cache, then the
// primary store. Any primary store error fails closed as
// QuarantineStoreError -- it is never treated as an accept.
func (s *Service) CheckAndMark(ctx context.Context, tenantID tenant.ID, eventID string, version int64, eventTs time.Time, family string, operatorReplay bool) Result {
	policy := s.Policies.Resolve(tenantID, family)
	now := s.Now()

	if version < policy.MinAcceptedVersion {
		return QuarantineTooOldVersion
	}
	if !eventTs.IsZero() && eventTs.After(now.Add(policy.MaxFutureSkew)) {
		return QuarantineFutureSkew
	}
	if !operatorReplay && !eventTs.IsZero() && eventTs.Before(now.Add(-policy.ReplayWindow)) {
		return QuarantineOutsideReplayWindow
	}

	if s.Cache != nil {
		cacheKey := string(tenantID) + "|" + eventID + "|" + strconv.FormatInt(version, 10)
		set, err := s.Cache.SetNX(ctx, cacheKey, s.TTL)
		if err == nil && !set {
			// Best-effort bump of the primary store; its outcome does not
			// change the DUPLICATE verdict already reached via the cache.
			_, _ = s.Primary.InsertOrBump(ctx, tenantID, eventID, version, now, s.TTL)
			return Duplicate
		}
		// Cache miss or cache error: fall through to the primary store,
		// which is authoritative.
	}

	inserted, err := s.Primary.InsertOrBump(ctx, tenantID, eventID, version, now, s.TTL)
	if err != nil {
		return QuarantineStoreError
	}
	if inserted {
		return AcceptFirstSeen
	}
	return Duplicate
}
