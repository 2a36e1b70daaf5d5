package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mabumohsen/veggieshop-sub000/pkg/stepup"
)

func newObservedSink() (*ZapSink, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.InfoLevel)
	return NewZapSink(zap.New(core)), logs
}

func TestZapSinkRecordsFields(t *testing.T) {
	sink, logs := newObservedSink()
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	sink.Record(stepup.AuditEvent{
		Tenant: "acme",
		Actor:  "alice",
		Type:   "challenge_issued",
		Data:   map[string]string{"challenge_id": "c-1"},
		At:     at,
	})

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "stepup audit event", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "acme", fields["tenant_id"])
	assert.Equal(t, "alice", fields["actor"])
	assert.Equal(t, "challenge_issued", fields["event_type"])
	assert.Equal(t, "c-1", fields["data.challenge_id"])
	assert.Equal(t, "audit", fields["log_type"])
}

func TestNewZapSinkNilLoggerDoesNotPanic(t *testing.T) {
	sink := NewZapSink(nil)
	assert.NotPanics(t, func() {
		sink.Record(stepup.AuditEvent{Tenant: "acme", Type: "noop"})
	})
}
