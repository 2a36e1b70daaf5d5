package problem

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLookup(t *testing.T) {
	got, ok := Default.Lookup("tenant-required")
	require.True(t, ok)
	assert.Equal(t, TenantRequired, got)

	_, ok = Default.Lookup("not-a-real-slug")
	assert.False(t, ok)
}

func TestTypeURI(t *testing.T) {
	assert.Equal(t, "https://problems.veggieshop.example/tenant-required", TenantRequired.URI("veggieshop.example"))
}

func TestCapturesStack(t *testing.T) {
	assert.False(t, TenantRequired.CapturesStack(), "4xx kinds suppress stack capture")
	assert.True(t, InternalError.CapturesStack(), "5xx kinds capture a stack")
}

func TestNewTruncatesLongExtensions(t *testing.T) {
	long := strings.Repeat("x", 1000)
	e := New(ValidationFailed, "too long", map[string]interface{}{"field": long})
	assert.Less(t, len(e.Extensions["field"].(string)), 1000)
}

func TestErrorWrapAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	e := New(DependencyUnavailable, "db down", nil).Wrap(cause)
	assert.ErrorIs(t, e, cause)
}

func TestIsMatchesSameType(t *testing.T) {
	a := New(IdempotencyKeyConflict, "", nil)
	b := New(IdempotencyKeyConflict, "different detail", nil)
	c := New(Conflict, "", nil)

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestOfAndAsFollowChain(t *testing.T) {
	inner := New(RateLimited, "too many requests", nil)
	outer := New(InternalError, "wrapping", nil).Wrap(inner)

	assert.True(t, Of(outer, InternalError))
	assert.True(t, Of(outer, RateLimited))
	assert.False(t, Of(outer, Conflict))

	found, ok := As(outer)
	require.True(t, ok)
	assert.Equal(t, InternalError, found.Type)
}

func TestWithExtensionDoesNotMutateOriginal(t *testing.T) {
	base := New(ValidationFailed, "bad field", map[string]interface{}{"field": "name"})
	derived := base.WithExtension("reason", "too short")

	assert.NotContains(t, base.Extensions, "reason")
	assert.Equal(t, "too short", derived.Extensions["reason"])
	assert.Equal(t, "name", derived.Extensions["field"])
}

func TestRenderProducesRFC7807Shape(t *testing.T) {
	e := New(IdempotencyKeyConflict, "key reused with different body", map[string]interface{}{"idempotencyKey": "11111111-1111-4111-8111-111111111111"})
	doc := e.Render(DocumentOptions{
		Host:          "veggieshop.example",
		Instance:      "/v1/orders",
		TenantID:      "acme",
		CorrelationID: "corr-1",
		TraceID:       "trace-1",
	})

	assert.Equal(t, 409, doc.Status)
	assert.Equal(t, "https://problems.veggieshop.example/idempotency-key-conflict", doc.Type)

	b, err := json.Marshal(doc)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, "acme", out["tenantId"])
	assert.Equal(t, "11111111-1111-4111-8111-111111111111", out["idempotencyKey"])
}
