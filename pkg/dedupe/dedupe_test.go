package dedupe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mabumohsen/veggieshop-sub000/pkg/tenant"
)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestCheckAndMarkAcceptsFirstSeenThenDuplicate(t *testing.T) {
	now := time.Now()
	policy := StaticPolicyProvider{Default: ReplayPolicy{ReplayWindow: 10 * 24 * time.Hour, MaxFutureSkew: 5 * time.Minute}}
	svc := NewService(policy, NewMemoryPrimaryStore(), nil, MinDedupeTTL, fixedNow(now))

	r1 := svc.CheckAndMark(context.Background(), tenant.ID("acme"), "E1", 3, now, "orders", false)
	assert.Equal(t, AcceptFirstSeen, r1)

	r2 := svc.CheckAndMark(context.Background(), tenant.ID("acme"), "E1", 3, now, "orders", false)
	assert.Equal(t, Duplicate, r2)
}

func TestCheckAndMarkTooOldVersion(t *testing.T) {
	now := time.Now()
	policy := StaticPolicyProvider{Default: ReplayPolicy{MinAcceptedVersion: 5, ReplayWindow: 10 * 24 * time.Hour, MaxFutureSkew: 5 * time.Minute}}
	svc := NewService(policy, NewMemoryPrimaryStore(), nil, MinDedupeTTL, fixedNow(now))

	r := svc.CheckAndMark(context.Background(), tenant.ID("acme"), "E1", 3, now, "orders", false)
	assert.Equal(t, QuarantineTooOldVersion, r)
}

func TestCheckAndMarkFutureSkew(t *testing.T) {
	now := time.Now()
	policy := StaticPolicyProvider{Default: ReplayPolicy{ReplayWindow: 10 * 24 * time.Hour, MaxFutureSkew: 5 * time.Minute}}
	svc := NewService(policy, NewMemoryPrimaryStore(), nil, MinDedupeTTL, fixedNow(now))

	r := svc.CheckAndMark(context.Background(), tenant.ID("acme"), "E1", 3, now.Add(time.Hour), "orders", false)
	assert.Equal(t, QuarantineFutureSkew, r)
}

func TestCheckAndMarkOutsideReplayWindow(t *testing.T) {
	now := time.Now()
	policy := StaticPolicyProvider{Default: ReplayPolicy{ReplayWindow: 10 * 24 * time.Hour, MaxFutureSkew: 5 * time.Minute}}
	svc := NewService(policy, NewMemoryPrimaryStore(), nil, MinDedupeTTL, fixedNow(now))

	old := now.Add(-14 * 24 * time.Hour)
	r := svc.CheckAndMark(context.Background(), tenant.ID("acme"), "E1", 3, old, "orders", false)
	assert.Equal(t, QuarantineOutsideReplayWindow, r)
}

func TestCheckAndMarkOperatorReplayBypassesWindow(t *testing.T) {
	now := time.Now()
	policy := StaticPolicyProvider{Default: ReplayPolicy{ReplayWindow: 10 * 24 * time.Hour, MaxFutureSkew: 5 * time.Minute}}
	svc := NewService(policy, NewMemoryPrimaryStore(), nil, MinDedupeTTL, fixedNow(now))

	old := now.Add(-14 * 24 * time.Hour)
	r1 := svc.CheckAndMark(context.Background(), tenant.ID("acme"), "E1", 3, old, "orders", true)
	assert.Equal(t, AcceptFirstSeen, r1)

	r2 := svc.CheckAndMark(context.Background(), tenant.ID("acme"), "E1", 3, old, "orders", true)
	assert.Equal(t, Duplicate, r2)
}

type failingStore struct{}

func (failingStore) InsertOrBump(context.Context, tenant.ID, string, int64, time.Time, time.Duration) (bool, error) {
	return false, errors.New("connection refused")
}

func TestCheckAndMarkFailsClosedOnStoreError(t *testing.T) {
	now := time.Now()
	policy := StaticPolicyProvider{Default: ReplayPolicy{ReplayWindow: 10 * 24 * time.Hour, MaxFutureSkew: 5 * time.Minute}}
	svc := NewService(policy, failingStore{}, nil, MinDedupeTTL, fixedNow(now))

	r := svc.CheckAndMark(context.Background(), tenant.ID("acme"), "E1", 3, now, "orders", false)
	assert.Equal(t, QuarantineStoreError, r)
}

func TestPolicyOverridePerTenantAndFamily(t *testing.T) {
	provider := StaticPolicyProvider{
		Default: ReplayPolicy{MinAcceptedVersion: 0},
		Overrides: map[string]ReplayPolicy{
			"acme/orders": {MinAcceptedVersion: 10},
		},
	}
	assert.Equal(t, int64(10), provider.Resolve(tenant.ID("acme"), "orders").MinAcceptedVersion)
	assert.Equal(t, int64(0), provider.Resolve(tenant.ID("acme"), "invoices").MinAcceptedVersion)
}

type fakeHitCache struct{ hit bool }

func (c *fakeHitCache) SetNX(context.Context, string, time.Duration) (bool, error) {
	return !c.hit, nil
}

func TestCheckAndMarkUsesCacheShortCircuit(t *testing.T) {
	now := time.Now()
	policy := StaticPolicyProvider{Default: ReplayPolicy{ReplayWindow: 10 * 24 * time.Hour, MaxFutureSkew: 5 * time.Minute}}
	cache := &fakeHitCache{hit: true}
	svc := NewService(policy, NewMemoryPrimaryStore(), cache, MinDedupeTTL, fixedNow(now))

	r := svc.CheckAndMark(context.Background(), tenant.ID("acme"), "E1", 3, now, "orders", false)
	assert.Equal(t, Duplicate, r)
}

func TestResultStringValues(t *testing.T) {
	require.Equal(t, "ACCEPT_FIRST_SEEN", AcceptFirstSeen.String())
	require.Equal(t, "QUARANTINE_STORE_ERROR", QuarantineStoreError.String())
}
