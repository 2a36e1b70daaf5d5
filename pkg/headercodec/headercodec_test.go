package headercodec

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutRejectsBadName(t *testing.T) {
	e := Envelope{}
	err := e.Put("X-Bad-Name", []byte("v"), 0)
	require.Error(t, err)
}

func TestPutRejectsOversizedValue(t *testing.T) {
	e := Envelope{}
	err := e.Put("x-custom", []byte(strings.Repeat("a", MaxValueBytes+1)), 0)
	require.Error(t, err)
}

func TestPutIfAbsentIsIdempotent(t *testing.T) {
	e := Envelope{}
	require.NoError(t, e.PutString(KeyTenantID, "acme", 0))
	require.NoError(t, e.PutIfAbsent(KeyTenantID, []byte("other"), 0))

	v, ok := e.GetString(KeyTenantID)
	require.True(t, ok)
	assert.Equal(t, "acme", v)
}

func TestUUIDRoundTrip(t *testing.T) {
	id := uuid.New()
	e := Envelope{}
	require.NoError(t, e.PutUUID(KeyEventID, id))

	got, ok := e.GetUUID(KeyEventID)
	require.True(t, ok)
	assert.Equal(t, id, got)
}

func TestInt32AndInt64RoundTrip(t *testing.T) {
	e := Envelope{}
	require.NoError(t, e.PutInt32("x-entity-version-32", 7))
	v32, ok := e.GetInt32("x-entity-version-32")
	require.True(t, ok)
	assert.Equal(t, int32(7), v32)

	require.NoError(t, e.PutInt64(KeyEntityVersion, 1700000000000))
	v64, ok := e.GetInt64(KeyEntityVersion)
	require.True(t, ok)
	assert.Equal(t, int64(1700000000000), v64)
}

func TestIsSafeToPropagate(t *testing.T) {
	assert.True(t, IsSafeToPropagate("x-tenant-id"))
	assert.True(t, IsSafeToPropagate(KeyTraceparent))
	assert.True(t, IsSafeToPropagate(KeyBaggage))
	assert.False(t, IsSafeToPropagate("authorization"))
}

func TestPropagateW3CTraceContext(t *testing.T) {
	src := Envelope{}
	require.NoError(t, src.PutString(KeyTraceparent, "00-trace-01", 0))
	require.NoError(t, src.PutString(KeyBaggage, "k=v", 0))
	require.NoError(t, src.PutString(KeyTenantID, "acme", 0))

	dst := Envelope{}
	PropagateW3CTraceContext(src, dst)

	_, hasTenant := dst.GetString(KeyTenantID)
	assert.False(t, hasTenant)
	v, ok := dst.GetString(KeyTraceparent)
	require.True(t, ok)
	assert.Equal(t, "00-trace-01", v)
}

func TestCopyEnforcesPredicate(t *testing.T) {
	src := Envelope{}
	require.NoError(t, src.PutString("x-safe", "yes", 0))
	require.NoError(t, src.PutString("authorization", "secret", 0))

	dst := Envelope{}
	Copy(src, dst, IsSafeToPropagate)

	_, ok := dst.GetString("authorization")
	assert.False(t, ok)
	v, ok := dst.GetString("x-safe")
	require.True(t, ok)
	assert.Equal(t, "yes", v)
}
