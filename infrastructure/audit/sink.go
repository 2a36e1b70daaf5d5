// Package audit provides a zap-backed implementation of the audit sinks
// used across the platform (stepup.AuditSink and similar narrow
// Record(event) interfaces), so step-up decisions and other audited
// actions land in structured logs separate from request-scoped
// application logging.
package audit

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mabumohsen/veggieshop-sub000/pkg/stepup"
)

// ZapSink records stepup.AuditEvent values as structured zap log
// entries at info level, tagged so they can be routed to a dedicated
// audit index independent of application log retention.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink wraps logger. A nil logger falls back to zap.NewNop(), so
// callers that don't need audit output (unit tests exercising
// stepup.Service without caring about the trail) don't have to build a
// real one.
func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger.With(zap.String("log_type", "audit"))}
}

// Record implements stepup.AuditSink.
func (s *ZapSink) Record(e stepup.AuditEvent) {
	fields := make([]zap.Field, 0, 4+len(e.Data))
	fields = append(fields,
		zap.String("tenant_id", string(e.Tenant)),
		zap.String("actor", e.Actor),
		zap.String("event_type", e.Type),
		zap.Time("at", e.At),
	)
	for k, v := range e.Data {
		fields = append(fields, zap.String("data."+k, v))
	}
	s.logger.Info("stepup audit event", fields...)
}

var _ stepup.AuditSink = (*ZapSink)(nil)

// NewProductionZapSink builds a ZapSink over a JSON-encoded, info-level
// zap.Logger writing to stderr, for deployments that don't inject their
// own *zap.Logger.
func NewProductionZapSink() (*ZapSink, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return NewZapSink(logger), nil
}
