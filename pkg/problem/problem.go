// Package problem implements the RFC 7807 problem taxonomy shared by every
// component in this module: a stable registry of failure kinds, each with a
// default HTTP status, and a tagged-variant error type that carries
// JSON-primitive extensions instead of growing an exception hierarchy.
package problem

import (
	"fmt"
	"regexp"
	"sync"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Type is an entry in the process-wide problem registry: a stable failure
// kind with its RFC 7807 identity and default status.
type Type struct {
	Slug          string
	Title         string
	DefaultStatus int
}

// URI returns the canonical https://problems.<host>/{slug} identifier.
func (t Type) URI(host string) string {
	return fmt.Sprintf("https://problems.%s/%s", host, t.Slug)
}

func mustType(slug, title string, status int) Type {
	if !slugPattern.MatchString(slug) || len(slug) > 80 {
		panic(fmt.Sprintf("problem: invalid slug %q", slug))
	}
	if status < 100 || status > 599 {
		panic(fmt.Sprintf("problem: invalid default status %d for %q", status, slug))
	}
	return Type{Slug: slug, Title: title, DefaultStatus: status}
}

// Registry is a process-wide immutable mapping from slug to Type.
type Registry struct {
	mu    sync.RWMutex
	types map[string]Type
}

func newRegistry() *Registry {
	return &Registry{types: make(map[string]Type)}
}

func (r *Registry) register(t Type) Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[t.Slug]; exists {
		panic(fmt.Sprintf("problem: duplicate registration for slug %q", t.Slug))
	}
	r.types[t.Slug] = t
	return t
}

// Lookup returns the Type registered under slug, if any.
func (r *Registry) Lookup(slug string) (Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[slug]
	return t, ok
}

// Default is the process-wide registry seeded with every kind named in the
// core specification (see the var block below).
var Default = newRegistry()

// The fixed taxonomy of failure kinds. Every core component raises one of
// these; domain errors built on top of the core embed one plus extensions.
var (
	ValidationFailed               = Default.register(mustType("validation-failed", "Validation failed", 400))
	TenantRequired                 = Default.register(mustType("tenant-required", "Tenant is required", 400))
	TenantMismatch                 = Default.register(mustType("tenant-mismatch", "Tenant carriers disagree", 400))
	AuthenticationFailed           = Default.register(mustType("authentication-failed", "Authentication failed", 401))
	AuthorizationDenied            = Default.register(mustType("authorization-denied", "Authorization denied", 403))
	StepUpRequired                 = Default.register(mustType("step-up-required", "Step-up authentication required", 403))
	HMACSignatureInvalid           = Default.register(mustType("hmac-signature-invalid", "HMAC signature invalid", 401))
	JWTInvalid                     = Default.register(mustType("jwt-invalid", "JWT invalid", 401))
	SchemaValidationFailed         = Default.register(mustType("schema-validation-failed", "Schema validation failed", 400))
	EndpointSunset                 = Default.register(mustType("endpoint-sunset", "Endpoint sunset", 410))
	ConsistencyPreconditionFailed  = Default.register(mustType("consistency-precondition-failed", "Consistency precondition failed", 412))
	ConsistencyTokenRequired       = Default.register(mustType("consistency-token-required", "Consistency token required", 400))
	IdempotencyKeyConflict         = Default.register(mustType("idempotency-key-conflict", "Idempotency key conflict", 409))
	IdempotencyReplayRejected      = Default.register(mustType("idempotency-replay-rejected", "Idempotency replay rejected", 409))
	ResourceNotFound               = Default.register(mustType("resource-not-found", "Resource not found", 404))
	Conflict                       = Default.register(mustType("conflict", "Conflict", 409))
	TransactionSerializationFailure = Default.register(mustType("transaction-serialization-failure", "Transaction serialization failure", 409))
	TransactionTimeout              = Default.register(mustType("transaction-timeout", "Transaction timeout", 504))
	RateLimited                    = Default.register(mustType("rate-limited", "Rate limited", 429))
	QuotaExceeded                  = Default.register(mustType("quota-exceeded", "Quota exceeded", 429))
	DependencyUnavailable          = Default.register(mustType("dependency-unavailable", "Dependency unavailable", 503))
	DependencyTimeout               = Default.register(mustType("dependency-timeout", "Dependency timeout", 504))
	SearchIndexStale                = Default.register(mustType("search-index-stale", "Search index stale", 200))
	PaymentSCARequired              = Default.register(mustType("payment-sca-required", "Strong customer authentication required", 403))
	PaymentAuthorizationDeclined    = Default.register(mustType("payment-authorization-declined", "Payment authorization declined", 402))
	PaymentCaptureFailed             = Default.register(mustType("payment-capture-failed", "Payment capture failed", 402))
	WebhookSignatureInvalid          = Default.register(mustType("webhook-signature-invalid", "Webhook signature invalid", 401))
	WebhookReplayDetected            = Default.register(mustType("webhook-replay-detected", "Webhook replay detected", 409))
	PayloadTooLarge                  = Default.register(mustType("payload-too-large", "Payload too large", 413))
	InternalError                    = Default.register(mustType("internal-error", "Internal error", 500))
)

// is4xx reports whether t's default status suppresses stack capture.
func (t Type) is4xx() bool {
	return t.DefaultStatus >= 400 && t.DefaultStatus < 500
}

// CapturesStack reports whether errors of this kind should capture a stack
// trace: 4xx kinds suppress it by default, 5xx kinds capture it.
func (t Type) CapturesStack() bool {
	return !t.is4xx()
}
