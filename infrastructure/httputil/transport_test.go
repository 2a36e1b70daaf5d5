package httputil

import (
	"crypto/tls"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTransportWithMinTLS12EnforcesMinVersion(t *testing.T) {
	rt := DefaultTransportWithMinTLS12()
	transport, ok := rt.(*http.Transport)
	require.True(t, ok)
	assert.GreaterOrEqual(t, transport.TLSClientConfig.MinVersion, uint16(tls.VersionTLS12))
}

func TestDefaultTransportWithMinTLS12DoesNotMutateDefault(t *testing.T) {
	_ = DefaultTransportWithMinTLS12()
	base, ok := http.DefaultTransport.(*http.Transport)
	require.True(t, ok)
	assert.Nil(t, base.TLSClientConfig, "cloning must not mutate the shared http.DefaultTransport")
}
