package tenant

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mabumohsen/veggieshop-sub000/pkg/problem"
)

func TestParseValid(t *testing.T) {
	id, err := Parse("acme-corp")
	require.NoError(t, err)
	assert.Equal(t, ID("acme-corp"), id)
}

func TestParseNormalizesCase(t *testing.T) {
	id, err := Parse("  ACME-Corp  ")
	require.NoError(t, err)
	assert.Equal(t, ID("acme-corp"), id)
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := []string{
		"",
		"ab",             // too short
		"-acme",          // leading hyphen
		"acme-",          // trailing hyphen
		"ac--me",         // double hyphen
		"acme_corp",      // underscore not allowed
		strings.Repeat("a", 64), // too long
	}
	for _, c := range cases {
		_, err := Parse(c)
		assert.Error(t, err, "expected %q to be invalid", c)
		var pe *problem.Error
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, problem.ValidationFailed, pe.Type)
	}
}

func TestIsValidMatchesParseNormalizedInvariant(t *testing.T) {
	assert.True(t, IsValid("acme-corp"))
	assert.False(t, IsValid("ACME-Corp"), "valid after normalization but not before")
	assert.False(t, IsValid("ab"))
}

func TestObfuscated(t *testing.T) {
	assert.Equal(t, "acm…rp", ID("acme-corp").Obfuscated())
	assert.Equal(t, "ab", ID("ab").Obfuscated())
}

func TestScopeOpenCurrentRequire(t *testing.T) {
	ctx := context.Background()
	_, ok := Current(ctx)
	assert.False(t, ok)

	_, err := Require(ctx)
	require.Error(t, err)

	scope := Open(ctx, ID("acme"))
	defer scope.Close()

	got, ok := Current(scope.Context())
	require.True(t, ok)
	assert.Equal(t, ID("acme"), got)

	got2, err := Require(scope.Context())
	require.NoError(t, err)
	assert.Equal(t, ID("acme"), got2)
}

func TestWrapCapturesAndRestoresTenant(t *testing.T) {
	ctx := Open(context.Background(), ID("acme")).Context()

	var observed ID
	task := Wrap(ctx, func(workerCtx context.Context) {
		observed, _ = Current(workerCtx)
	})

	// Simulate running on a fresh worker context with no tenant of its own.
	task(context.Background())
	assert.Equal(t, ID("acme"), observed)
}

func TestResolverPrecedenceExplicitWins(t *testing.T) {
	r := NewResolver()
	// Precedence only decides between disagreeing carriers when the
	// consistency check is off; with it on they fail with TenantMismatch.
	r.EnforceConsistency = false
	explicit := ID("explicit-tenant")
	headers := http.Header{}
	headers.Set("X-Tenant-Id", "header-tenant")

	got, err := r.Resolve(Input{Explicit: &explicit, HTTPHeaders: headers})
	require.NoError(t, err)
	assert.Equal(t, explicit, got)
}

func TestResolverConsistencyEnforced(t *testing.T) {
	r := NewResolver()
	headers := http.Header{}
	headers.Set("X-Tenant-Id", "acme")
	claims := map[string]interface{}{"tenant_id": "other-tenant"}

	_, err := r.Resolve(Input{HTTPHeaders: headers, JWTClaims: claims})
	require.Error(t, err)
	var pe *problem.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, problem.TenantMismatch, pe.Type)
}

func TestResolverConsistencyDisabledPicksStrongest(t *testing.T) {
	r := NewResolver()
	r.EnforceConsistency = false
	headers := http.Header{}
	headers.Set("X-Tenant-Id", "header-tenant")
	claims := map[string]interface{}{"tenant_id": "claim-tenant"}

	got, err := r.Resolve(Input{HTTPHeaders: headers, JWTClaims: claims})
	require.NoError(t, err)
	assert.Equal(t, ID("header-tenant"), got)
}

func TestResolverNoCarrierFailsRequired(t *testing.T) {
	r := NewResolver()
	_, err := r.Resolve(Input{})
	require.Error(t, err)
	var pe *problem.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, problem.TenantRequired, pe.Type)
}

func TestResolverMessageHeaderCarrier(t *testing.T) {
	r := NewResolver()
	got, err := r.Resolve(Input{MessageHeaders: map[string]string{"x-tenant-id": "acme"}})
	require.NoError(t, err)
	assert.Equal(t, ID("acme"), got)
}
