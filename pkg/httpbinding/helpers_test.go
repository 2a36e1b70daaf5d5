package httpbinding

import (
	"bytes"
	"encoding/base64"
	"io"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mabumohsen/veggieshop-sub000/pkg/cryptoutil"
	"github.com/mabumohsen/veggieshop-sub000/pkg/hmacauth"
)

func bytesReader(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}

func readAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(r)
}

func b64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// signForTest replicates the canonical string-to-sign construction so
// tests can produce a valid signature without exporting hmacauth
// internals.
func signForTest(t *testing.T, opts hmacauth.Options, req hmacauth.Request, secret []byte) string {
	t.Helper()
	sum, err := cryptoutil.Digest("sha256", req.Body)
	require.NoError(t, err)
	digest := b64(sum)

	query := "-"
	sts := strings.Join([]string{
		opts.AlgLabel,
		"ts:" + strconv.FormatInt(req.Timestamp, 10),
		"nonce:" + req.Nonce,
		"meth:" + strings.ToUpper(req.Method),
		"path:" + req.Path,
		"query:" + query,
		"digest:" + digest,
		"tenant:" + string(req.Tenant),
	}, "\n")
	sig, err := cryptoutil.HMACSign("sha256", secret, []byte(sts))
	require.NoError(t, err)
	return b64(sig)
}
