// Package cryptoutil provides the pure digest, HMAC, canonical-JSON and
// constant-time primitives shared by the audit hash, consistency tokens,
// HMAC verifier, and idempotency request-hashing.
package cryptoutil

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"sort"
	"strings"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
	"golang.org/x/text/unicode/norm"
)

// Algorithm names accepted by Digest/HMACSign.
const (
	AlgSHA256 = "sha256"
	AlgSHA512 = "sha512"
	AlgSHA3   = "sha3-256"
)

func newHash(alg string) (hash.Hash, error) {
	switch alg {
	case AlgSHA256, "":
		return sha256.New(), nil
	case AlgSHA512:
		return sha512.New(), nil
	case AlgSHA3:
		return sha3.New256(), nil
	default:
		return nil, fmt.Errorf("cryptoutil: unknown algorithm %q", alg)
	}
}

// Digest hashes b with the named algorithm.
func Digest(alg string, b []byte) ([]byte, error) {
	h, err := newHash(alg)
	if err != nil {
		return nil, err
	}
	h.Write(b)
	return h.Sum(nil), nil
}

// DigestString NFKC-normalizes s before hashing, so that equivalent Unicode
// representations of the same text always produce the same digest.
func DigestString(alg string, s string) ([]byte, error) {
	return Digest(alg, []byte(norm.NFKC.String(s)))
}

// DigestStream hashes r without buffering the full payload in memory.
func DigestStream(alg string, r io.Reader) ([]byte, error) {
	h, err := newHash(alg)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(h, r); err != nil {
		return nil, fmt.Errorf("cryptoutil: digest stream: %w", err)
	}
	return h.Sum(nil), nil
}

// HMACSign computes HMAC(alg, key, data).
func HMACSign(alg string, key, data []byte) ([]byte, error) {
	if _, err := newHash(alg); err != nil {
		return nil, err
	}
	mac := hmac.New(func() hash.Hash { h, _ := newHash(alg); return h }, key)
	mac.Write(data)
	return mac.Sum(nil), nil
}

// ConstantTimeEqual reports whether a and b are byte-for-byte identical,
// in time independent of where they first differ.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// CanonicalJSONDigest hashes v after re-encoding it with deterministic key
// order, so structurally identical values always digest the same regardless
// of map iteration order.
func CanonicalJSONDigest(alg string, v interface{}) ([]byte, error) {
	canon, err := canonicalize(v)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(canon)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: marshal canonical json: %w", err)
	}
	return Digest(alg, b)
}

// canonicalize round-trips v through JSON into generic maps and slices
// (numbers kept as json.Number) and copies them recursively; the standard
// library's map encoding (sorted by key since Go 1.12) then supplies the
// deterministic key order.
func canonicalize(v interface{}) (interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: marshal: %w", err)
	}
	var generic interface{}
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("cryptoutil: decode: %w", err)
	}
	return sortedCopy(generic), nil
}

func sortedCopy(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]interface{}, len(val))
		for _, k := range keys {
			out[k] = sortedCopy(val[k])
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = sortedCopy(item)
		}
		return out
	default:
		return val
	}
}

// FramedFields builds the length-prefixed framing `[len(x)][x]...` that
// RequestHashInput applies to [method, path, sorted-headers-json, body].
func FramedFields(fields ...[]byte) []byte {
	total := 0
	for _, f := range fields {
		total += 4 + len(f)
	}
	buf := make([]byte, 0, total)
	for _, f := range fields {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(f)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, f...)
	}
	return buf
}

// RequestHashInput builds the canonical framed byte sequence for a request
// fingerprint: method, path, a JSON object of lower-cased, sorted headers,
// and the raw body.
func RequestHashInput(method, path string, headers map[string]string, body []byte) ([]byte, error) {
	sortedHeaders := make(map[string]string, len(headers))
	for k, v := range headers {
		sortedHeaders[strings.ToLower(k)] = v
	}
	headerJSON, err := CanonicalJSONDigestBytes(sortedHeaders)
	if err != nil {
		return nil, err
	}
	return FramedFields([]byte(method), []byte(path), headerJSON, body), nil
}

// CanonicalJSONDigestBytes returns the canonical JSON encoding of v (not its
// digest) — used when the canonical bytes themselves, not a hash, are needed
// as a framing field.
func CanonicalJSONDigestBytes(v interface{}) ([]byte, error) {
	canon, err := canonicalize(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(canon)
}

// Fingerprint is a parsed `scheme:hex` value, e.g. a schema fingerprint
// carried in the `x-schema-fingerprint` header.
type Fingerprint struct {
	Scheme string
	Hex    string
}

var allowedFingerprintSchemes = map[string]bool{
	"sha256": true,
	"sha512": true,
	"crc32":  true,
}

// ParseFingerprint parses and validates a `scheme:hex` fingerprint string.
func ParseFingerprint(s string) (Fingerprint, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return Fingerprint{}, fmt.Errorf("cryptoutil: malformed fingerprint %q", s)
	}
	scheme, hexPart := strings.ToLower(parts[0]), parts[1]
	if !allowedFingerprintSchemes[scheme] {
		return Fingerprint{}, fmt.Errorf("cryptoutil: unknown fingerprint scheme %q", scheme)
	}
	if hexPart == "" {
		return Fingerprint{}, fmt.Errorf("cryptoutil: empty fingerprint value")
	}
	for _, r := range hexPart {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return Fingerprint{}, fmt.Errorf("cryptoutil: non-hex fingerprint value %q", s)
		}
	}
	return Fingerprint{Scheme: scheme, Hex: hexPart}, nil
}

func (f Fingerprint) String() string {
	return f.Scheme + ":" + f.Hex
}

// DeriveKey expands secret into a keyLen-byte subkey via HKDF-SHA256,
// salted and bound to info. It is the primitive behind per-subject
// envelope-encryption keys (salt is the subject, info the usage label),
// so a compromise of one subject's derived key does not expose another's.
func DeriveKey(secret, salt, info []byte, keyLen int) ([]byte, error) {
	if keyLen <= 0 {
		return nil, fmt.Errorf("cryptoutil: key length must be positive")
	}
	reader := hkdf.New(sha256.New, secret, salt, info)
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("cryptoutil: hkdf expand: %w", err)
	}
	return key, nil
}
