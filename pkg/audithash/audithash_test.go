package audithash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNonChainedAndChainedDiffer(t *testing.T) {
	payload := []byte("entry-1")
	nc, err := NonChained(payload)
	require.NoError(t, err)
	c, err := Chained(nil, payload)
	require.NoError(t, err)
	assert.NotEqual(t, nc.Bytes, c.Bytes, "tag byte must separate chained from non-chained digests")
}

func TestChainedBindsPreviousHash(t *testing.T) {
	first, err := NonChained([]byte("entry-1"))
	require.NoError(t, err)

	second, err := Chained(&first, []byte("entry-2"))
	require.NoError(t, err)

	tampered := first
	tampered.Bytes = append([]byte(nil), first.Bytes...)
	tampered.Bytes[0] ^= 0xFF

	secondFromTampered, err := Chained(&tampered, []byte("entry-2"))
	require.NoError(t, err)
	assert.NotEqual(t, second.Bytes, secondFromTampered.Bytes)
}

func TestVerifyChain(t *testing.T) {
	first, err := NonChained([]byte("entry-1"))
	require.NoError(t, err)
	second, err := Chained(&first, []byte("entry-2"))
	require.NoError(t, err)

	assert.True(t, VerifyChain(&first, []byte("entry-2"), second))
	assert.False(t, VerifyChain(&first, []byte("entry-2-tampered"), second))
	assert.False(t, VerifyChain(nil, []byte("entry-2"), second))
}

func TestHashStringRoundTrip(t *testing.T) {
	h, err := NonChained([]byte("payload"))
	require.NoError(t, err)

	s := h.String()
	parsed, err := Parse(s)
	require.NoError(t, err)
	assert.Equal(t, h.Algorithm, parsed.Algorithm)
	assert.Equal(t, h.Bytes, parsed.Bytes)
}

func TestParseRejectsMalformed(t *testing.T) {
	_, err := Parse("no-colon-here")
	require.Error(t, err)

	_, err = Parse("sha256:not valid encoding!!")
	require.Error(t, err)
}

func TestMetadataCanonicalizeFixedOrder(t *testing.T) {
	version := int64(3)
	m := Metadata{
		Schema:        "order.v1",
		Tenant:        "acme-corp",
		Action:        "order.create",
		ResourceType:  "order",
		ResourceID:    "ord-123",
		Actor:         "user-42",
		OccurredAtMS:  1700000000000,
		EntityVersion: &version,
		Roles:         []string{"writer", "admin"},
		Risk:          "low",
		TraceID:       "trace-abc",
		CorrelationID: "corr-xyz",
		Client:        "web",
		Reason:        "customer request",
		Attributes:    map[string]string{"channel": "web", "region": "eu"},
	}

	got := string(m.Canonicalize())
	want := "order.v1\n" +
		"acme-corp\n" +
		"order.create\n" +
		"order\n" +
		"ord-123\n" +
		"user-42\n" +
		"1700000000000\n" +
		"3\n" +
		"admin,writer\n" +
		"low\n" +
		"trace-abc\n" +
		"corr-xyz\n" +
		"web\n" +
		"customer request\n" +
		"channel=web;region=eu"
	assert.Equal(t, want, got)
}

func TestMetadataCanonicalizeAbsentFieldsRenderDash(t *testing.T) {
	m := Metadata{
		Schema:       "order.v1",
		Tenant:       "acme-corp",
		Action:       "order.create",
		ResourceType: "order",
		ResourceID:   "ord-123",
		Actor:        "user-42",
		OccurredAtMS: 1700000000000,
		Risk:         "low",
	}

	got := string(m.Canonicalize())
	want := "order.v1\n" +
		"acme-corp\n" +
		"order.create\n" +
		"order\n" +
		"ord-123\n" +
		"user-42\n" +
		"1700000000000\n" +
		"-\n" +
		"-\n" +
		"low\n" +
		"-\n" +
		"-\n" +
		"-\n" +
		"-\n" +
		"-"
	assert.Equal(t, want, got)
}

func TestMetadataCanonicalizeSortsAttributesAndRoles(t *testing.T) {
	m := Metadata{
		Action: "order.create",
		Risk:   "low",
		Roles:  []string{"zeta", "alpha", "mid"},
		Attributes: map[string]string{
			"zzz": "1",
			"aaa": "2",
			"mmm": "3",
		},
	}
	got := string(m.Canonicalize())
	assert.Contains(t, got, "alpha,mid,zeta")
	assert.Contains(t, got, "aaa=2;mmm=3;zzz=1")
}

func TestMetadataValidateRejectsBadActionCode(t *testing.T) {
	m := Metadata{Action: "x", Risk: "low"}
	err := m.Validate()
	require.Error(t, err)
}

func TestMetadataValidateRejectsBadAttributeKey(t *testing.T) {
	m := Metadata{
		Action:     "order.create",
		Risk:       "low",
		Attributes: map[string]string{"Bad_Key": "v"},
	}
	err := m.Validate()
	require.Error(t, err)
}

func TestMetadataValidateRejectsNonASCIIAttributeValue(t *testing.T) {
	m := Metadata{
		Action:     "order.create",
		Risk:       "low",
		Attributes: map[string]string{"region": "eu-é"},
	}
	err := m.Validate()
	require.Error(t, err)
}

func TestMetadataValidateAcceptsWellFormed(t *testing.T) {
	m := Metadata{
		Action:     "order.create",
		Risk:       "low",
		Attributes: map[string]string{"region": "eu"},
	}
	assert.NoError(t, m.Validate())
}

func TestAuditEntryEndToEnd(t *testing.T) {
	first := Metadata{Schema: "order.v1", Tenant: "acme", Action: "order.create", Risk: "low", OccurredAtMS: 1}
	require.NoError(t, first.Validate())
	firstHash, err := NonChained(first.Canonicalize())
	require.NoError(t, err)

	second := Metadata{Schema: "order.v1", Tenant: "acme", Action: "order.update", Risk: "low", OccurredAtMS: 2}
	require.NoError(t, second.Validate())
	secondHash, err := Chained(&firstHash, second.Canonicalize())
	require.NoError(t, err)

	assert.True(t, VerifyChain(&firstHash, second.Canonicalize(), secondHash))
}
