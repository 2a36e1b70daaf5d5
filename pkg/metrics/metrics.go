// Package metrics exposes the process-wide Prometheus registry, an HTTP
// instrumentation wrapper, and Record* helpers for the component outcomes
// (rate limiter, outbox, dedupe, idempotency, HMAC, ABAC, producer). No
// other package in this module calls InstrumentHandler or the Record*
// helpers.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "veggieshop",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "veggieshop",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "veggieshop",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	idempotencyOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "veggieshop",
			Subsystem: "idempotency",
			Name:      "outcomes_total",
			Help:      "Idempotency store outcomes (first_seen|replay|conflict).",
		},
		[]string{"outcome"},
	)

	dedupeOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "veggieshop",
			Subsystem: "dedupe",
			Name:      "outcomes_total",
			Help:      "Dedupe service outcomes by result kind.",
		},
		[]string{"result"},
	)

	outboxDrain = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "veggieshop",
			Subsystem: "outbox",
			Name:      "drained_total",
			Help:      "Outbox rows transitioned out of PENDING, by resulting status.",
		},
		[]string{"status"},
	)

	outboxBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "veggieshop",
			Subsystem: "outbox",
			Name:      "pending_rows",
			Help:      "Current count of PENDING outbox rows observed at last drain.",
		},
	)

	rateLimitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "veggieshop",
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Rate limiter decisions by outcome (allow|deny).",
		},
		[]string{"outcome"},
	)

	hmacVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "veggieshop",
			Subsystem: "hmac",
			Name:      "verifications_total",
			Help:      "HMAC verification attempts by outcome.",
		},
		[]string{"outcome"},
	)

	abacDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "veggieshop",
			Subsystem: "abac",
			Name:      "decisions_total",
			Help:      "ABAC engine decisions by effect (permit|deny|challenge).",
		},
		[]string{"effect"},
	)

	producerAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "veggieshop",
			Subsystem: "producer",
			Name:      "attempts_total",
			Help:      "Reliable producer send attempts by outcome.",
		},
		[]string{"topic", "outcome"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		idempotencyOutcomes,
		dedupeOutcomes,
		outboxDrain,
		outboxBacklog,
		rateLimitDecisions,
		hmacVerifications,
		abacDecisions,
		producerAttempts,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordIdempotencyOutcome increments the idempotency outcome counter.
func RecordIdempotencyOutcome(outcome string) {
	idempotencyOutcomes.WithLabelValues(outcome).Inc()
}

// RecordDedupeResult increments the dedupe result counter.
func RecordDedupeResult(result string) {
	dedupeOutcomes.WithLabelValues(result).Inc()
}

// RecordOutboxDrain increments the outbox drain counter by resulting status
// (PUBLISHED|QUARANTINED) and refreshes the pending-rows gauge.
func RecordOutboxDrain(status string, pendingAfter int) {
	outboxDrain.WithLabelValues(status).Inc()
	outboxBacklog.Set(float64(pendingAfter))
}

// RecordRateLimitDecision increments the rate limiter decision counter.
func RecordRateLimitDecision(allowed bool) {
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	rateLimitDecisions.WithLabelValues(outcome).Inc()
}

// RecordHMACVerification increments the HMAC verification counter.
func RecordHMACVerification(outcome string) {
	hmacVerifications.WithLabelValues(outcome).Inc()
}

// RecordAbacDecision increments the ABAC decision counter.
func RecordAbacDecision(effect string) {
	abacDecisions.WithLabelValues(effect).Inc()
}

// RecordProducerAttempt increments the producer attempt counter.
func RecordProducerAttempt(topic, outcome string) {
	producerAttempts.WithLabelValues(topic, outcome).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 {
		return "/"
	}
	return "/" + parts[0]
}
