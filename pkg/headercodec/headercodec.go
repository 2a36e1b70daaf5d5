// Package headercodec implements the typed, binary-safe message-header
// codec used by the reliable producer, outbox, and consumer: canonical
// lower-kebab-case names, length-bounded values, and typed encodings for
// UUIDs, integers, and timestamps.
package headercodec

import (
	"encoding/binary"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// MaxValueBytes is the default length bound for a header value.
const MaxValueBytes = 8 * 1024

var namePattern = regexp.MustCompile(`^[a-z0-9.\-]+$`)

// Envelope is a set of binary-safe header values keyed by canonical name.
type Envelope map[string][]byte

// Reserved envelope keys carrying tenant, trace, schema, and version metadata.
const (
	KeyTenantID          = "x-tenant-id"
	KeyTraceID           = "x-trace-id"
	KeySchemaFingerprint = "x-schema-fingerprint"
	KeyEntityVersion     = "x-entity-version"
	KeyEventID           = "x-event-id"
	KeyRequestID         = "x-request-id"
	KeyTraceparent       = "traceparent"
	KeyBaggage           = "baggage"
)

var reservedKeys = map[string]bool{
	KeyTenantID: true, KeyTraceID: true, KeySchemaFingerprint: true,
	KeyEntityVersion: true, KeyEventID: true, KeyRequestID: true,
	KeyTraceparent: true, KeyBaggage: true,
}

// ValidateName reports whether name is a well-formed canonical header name:
// ASCII lowercase kebab-case matching [a-z0-9.\-]+.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("headercodec: invalid header name %q", name)
	}
	return nil
}

// Put sets name=value, enforcing the name pattern and a maxLen byte bound
// (MaxValueBytes when maxLen <= 0).
func (e Envelope) Put(name string, value []byte, maxLen int) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if maxLen <= 0 {
		maxLen = MaxValueBytes
	}
	if len(value) > maxLen {
		return fmt.Errorf("headercodec: value for %q exceeds %d bytes", name, maxLen)
	}
	e[name] = value
	return nil
}

// PutIfAbsent is the idempotent variant of Put: attachEnvelope semantics —
// it is a no-op when name is already set.
func (e Envelope) PutIfAbsent(name string, value []byte, maxLen int) error {
	if _, exists := e[name]; exists {
		return nil
	}
	return e.Put(name, value, maxLen)
}

// PutString encodes value as UTF-8 bytes.
func (e Envelope) PutString(name, value string, maxLen int) error {
	return e.Put(name, []byte(value), maxLen)
}

// GetString decodes the named value as a UTF-8 string.
func (e Envelope) GetString(name string) (string, bool) {
	v, ok := e[name]
	if !ok {
		return "", false
	}
	return string(v), true
}

// PutUUID encodes id as 16 big-endian bytes.
func (e Envelope) PutUUID(name string, id uuid.UUID) error {
	b, _ := id.MarshalBinary()
	return e.Put(name, b, 16)
}

// GetUUID decodes the named value as a 16-byte UUID.
func (e Envelope) GetUUID(name string) (uuid.UUID, bool) {
	v, ok := e[name]
	if !ok || len(v) != 16 {
		return uuid.Nil, false
	}
	id, err := uuid.FromBytes(v)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// PutInt32 encodes value as 4 big-endian bytes.
func (e Envelope) PutInt32(name string, value int32) error {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(value))
	return e.Put(name, buf, 4)
}

// GetInt32 decodes the named value as a big-endian int32.
func (e Envelope) GetInt32(name string) (int32, bool) {
	v, ok := e[name]
	if !ok || len(v) != 4 {
		return 0, false
	}
	return int32(binary.BigEndian.Uint32(v)), true
}

// PutInt64 encodes value as 8 big-endian bytes.
func (e Envelope) PutInt64(name string, value int64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(value))
	return e.Put(name, buf, 8)
}

// GetInt64 decodes the named value as a big-endian int64.
func (e Envelope) GetInt64(name string) (int64, bool) {
	v, ok := e[name]
	if !ok || len(v) != 8 {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(v)), true
}

// PutTimestampMillis encodes a timestamp as int64 milliseconds.
func (e Envelope) PutTimestampMillis(name string, millis int64) error {
	return e.PutInt64(name, millis)
}

// GetTimestampMillis decodes the named value as int64 milliseconds.
func (e Envelope) GetTimestampMillis(name string) (int64, bool) {
	return e.GetInt64(name)
}

// IsSafeToPropagate reports whether a header key may cross a trust
// boundary unexamined: it starts with "x-" or is traceparent/baggage.
func IsSafeToPropagate(key string) bool {
	return strings.HasPrefix(key, "x-") || key == KeyTraceparent || key == KeyBaggage
}

// IsReserved reports whether key is one of the envelope's reserved keys.
func IsReserved(key string) bool {
	return reservedKeys[key]
}

// PropagateW3CTraceContext copies traceparent and baggage verbatim from src
// to dst, if present.
func PropagateW3CTraceContext(src, dst Envelope) {
	for _, k := range []string{KeyTraceparent, KeyBaggage} {
		if v, ok := src[k]; ok {
			dst[k] = v
		}
	}
}

// Predicate filters header keys when copying across a trust boundary.
type Predicate func(key string) bool

// Copy copies every key in src satisfying predicate into dst.
func Copy(src, dst Envelope, predicate Predicate) {
	for k, v := range src {
		if predicate(k) {
			dst[k] = v
		}
	}
}
