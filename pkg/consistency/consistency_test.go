package consistency

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mabumohsen/veggieshop-sub000/pkg/tenant"
)

type fakeClock struct {
	now int64
}

func (c *fakeClock) NowMillis() int64 { return atomic.LoadInt64(&c.now) }
func (c *fakeClock) Set(ms int64)     { atomic.StoreInt64(&c.now, ms) }

func TestWatermarkCurrentDefaultsToZero(t *testing.T) {
	store := NewMemoryWatermarkStore(&fakeClock{})
	got, err := store.Current(context.Background(), tenant.ID("acme"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), got)
}

func TestWatermarkAdvanceAtLeastNeverDecreases(t *testing.T) {
	store := NewMemoryWatermarkStore(&fakeClock{})
	ctx := context.Background()
	tn := tenant.ID("acme")

	got, err := store.AdvanceAtLeast(ctx, tn, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got)

	got, err = store.AdvanceAtLeast(ctx, tn, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got, "watermark must not decrease")

	got, err = store.AdvanceAtLeast(ctx, tn, 200)
	require.NoError(t, err)
	assert.Equal(t, int64(200), got)
}

func TestWatermarkAdvanceToNowUsesClock(t *testing.T) {
	clock := &fakeClock{now: 12345}
	store := NewMemoryWatermarkStore(clock)
	got, err := store.AdvanceToNow(context.Background(), tenant.ID("acme"))
	require.NoError(t, err)
	assert.Equal(t, int64(12345), got)
}

func TestTokenRoundTrip(t *testing.T) {
	signer := NewHMACSigner("kid-1", []byte("secret"))
	raw, err := Emit(signer, tenant.ID("acme"), 1000, 2000, nil)
	require.NoError(t, err)

	tok, err := Verify(signer, raw, tenant.ID("acme"), 1000, 30_000, 5_000)
	require.NoError(t, err)
	assert.Equal(t, tenant.ID("acme"), tok.Tenant)
	assert.Equal(t, int64(2000), tok.WatermarkMillis)
}

func TestTokenVerifyFailsOnTenantMismatch(t *testing.T) {
	signer := NewHMACSigner("kid-1", []byte("secret"))
	raw, err := Emit(signer, tenant.ID("acme"), 1000, 2000, nil)
	require.NoError(t, err)

	_, err = Verify(signer, raw, tenant.ID("other"), 1000, 30_000, 5_000)
	require.Error(t, err)
}

func TestTokenVerifyFailsAfterTTLAndSkew(t *testing.T) {
	signer := NewHMACSigner("kid-1", []byte("secret"))
	raw, err := Emit(signer, tenant.ID("acme"), 1000, 2000, nil)
	require.NoError(t, err)

	_, err = Verify(signer, raw, tenant.ID("acme"), 1000+30_000+5_000+1, 30_000, 5_000)
	require.Error(t, err)
}

func TestTokenVerifyFailsOnTamperedSignature(t *testing.T) {
	signer := NewHMACSigner("kid-1", []byte("secret"))
	other := NewHMACSigner("kid-1", []byte("different-secret"))
	raw, err := Emit(signer, tenant.ID("acme"), 1000, 2000, nil)
	require.NoError(t, err)

	_, err = Verify(other, raw, tenant.ID("acme"), 1000, 30_000, 5_000)
	require.Error(t, err)
}

func TestOpenRequestSeedsWatermarkFromPriorToken(t *testing.T) {
	clock := &fakeClock{now: 1000}
	signer := NewHMACSigner("kid-1", []byte("secret"))
	store := NewMemoryWatermarkStore(clock)
	engine := NewEngine(store, signer, clock, DefaultOptions())
	tn := tenant.ID("acme")

	prior, err := Emit(signer, tn, 1000, 5000, nil)
	require.NoError(t, err)

	scope, err := engine.OpenRequest(context.Background(), tn, "", prior)
	require.NoError(t, err)
	assert.Equal(t, int64(0), scope.RequiredWatermarkOrZero())

	current, err := store.Current(context.Background(), tn)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), current)
}

func TestOpenRequestRequiredWatermarkFromIfConsistentWith(t *testing.T) {
	clock := &fakeClock{now: 1000}
	signer := NewHMACSigner("kid-1", []byte("secret"))
	store := NewMemoryWatermarkStore(clock)
	engine := NewEngine(store, signer, clock, DefaultOptions())
	tn := tenant.ID("acme")

	tok, err := Emit(signer, tn, 1000, 9000, nil)
	require.NoError(t, err)

	scope, err := engine.OpenRequest(context.Background(), tn, tok, "")
	require.NoError(t, err)
	assert.Equal(t, int64(9000), scope.RequiredWatermarkOrZero())
}

func TestOpenRequestTreatsInvalidTokenAsAbsent(t *testing.T) {
	clock := &fakeClock{now: 1000}
	signer := NewHMACSigner("kid-1", []byte("secret"))
	store := NewMemoryWatermarkStore(clock)
	engine := NewEngine(store, signer, clock, DefaultOptions())

	scope, err := engine.OpenRequest(context.Background(), tenant.ID("acme"), "not-a-real-token", "")
	require.NoError(t, err)
	assert.Equal(t, int64(0), scope.RequiredWatermarkOrZero())
	assert.Nil(t, scope.IfConsistentWith)
}

func TestAwaitReadYourWritesReturnsImmediatelyWhenSatisfied(t *testing.T) {
	clock := &fakeClock{}
	store := NewMemoryWatermarkStore(clock)
	tn := tenant.ID("acme")
	_, _ = store.AdvanceAtLeast(context.Background(), tn, 5000)

	engine := NewEngine(store, NewHMACSigner("kid", []byte("s")), clock, DefaultOptions())
	scope := &RequestScope{Tenant: tn, requiredWatermark: 5000}

	start := time.Now()
	stale, err := engine.AwaitReadYourWrites(context.Background(), scope)
	require.NoError(t, err)
	assert.False(t, stale)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestAwaitReadYourWritesPollsUntilWatermarkAdvances(t *testing.T) {
	clock := &fakeClock{}
	store := NewMemoryWatermarkStore(clock)
	tn := tenant.ID("acme")

	engine := NewEngine(store, NewHMACSigner("kid", []byte("s")), clock, Options{
		RYWInitialPollMillis: 5,
		RYWMaxPollMillis:     20,
		RYWMaxWaitMillis:     500,
	})
	scope := &RequestScope{Tenant: tn, requiredWatermark: 100}

	go func() {
		time.Sleep(15 * time.Millisecond)
		_, _ = store.AdvanceAtLeast(context.Background(), tn, 100)
	}()

	stale, err := engine.AwaitReadYourWrites(context.Background(), scope)
	require.NoError(t, err)
	assert.False(t, stale)
}

func TestAwaitReadYourWritesMarksStaleAfterDeadline(t *testing.T) {
	clock := &fakeClock{}
	store := NewMemoryWatermarkStore(clock)
	tn := tenant.ID("acme")

	engine := NewEngine(store, NewHMACSigner("kid", []byte("s")), clock, Options{
		RYWInitialPollMillis: 5,
		RYWMaxPollMillis:     10,
		RYWMaxWaitMillis:     30,
	})
	scope := &RequestScope{Tenant: tn, requiredWatermark: 999999}

	stale, err := engine.AwaitReadYourWrites(context.Background(), scope)
	require.NoError(t, err)
	assert.True(t, stale)
}

func TestEmitTokenAdvancesWatermarkAndSigns(t *testing.T) {
	clock := &fakeClock{now: 42}
	signer := NewHMACSigner("kid", []byte("s"))
	store := NewMemoryWatermarkStore(clock)
	engine := NewEngine(store, signer, clock, DefaultOptions())
	tn := tenant.ID("acme")

	raw, err := engine.EmitToken(context.Background(), tn, nil)
	require.NoError(t, err)

	tok, err := Verify(signer, raw, tn, 42, DefaultOptions().TokenTTLMillis, DefaultOptions().ClockSkewMillis)
	require.NoError(t, err)
	assert.Equal(t, int64(42), tok.WatermarkMillis)
}
