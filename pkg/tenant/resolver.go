package tenant

import (
	"net/http"
	"strings"

	"github.com/mabumohsen/veggieshop-sub000/pkg/problem"
)

// Carrier identifies where a candidate tenant value was read from.
type Carrier int

const (
	CarrierExplicit Carrier = iota
	CarrierHTTPHeader
	CarrierJWTClaim
	CarrierMessageHeader
	CarrierLogContext
)

func (c Carrier) String() string {
	switch c {
	case CarrierExplicit:
		return "EXPLICIT"
	case CarrierHTTPHeader:
		return "HTTP_HEADER"
	case CarrierJWTClaim:
		return "JWT_CLAIM"
	case CarrierMessageHeader:
		return "MESSAGE_HEADER"
	case CarrierLogContext:
		return "LOG_CONTEXT"
	default:
		return "UNKNOWN"
	}
}

// precedence order, strongest first.
var precedence = []Carrier{CarrierExplicit, CarrierHTTPHeader, CarrierJWTClaim, CarrierMessageHeader, CarrierLogContext}

// Resolver extracts a tenant from a set of carriers per the fixed
// precedence EXPLICIT > HTTP_HEADER > JWT_CLAIM > MESSAGE_HEADER >
// (optional) LOG_CONTEXT.
type Resolver struct {
	// HeaderAliases lists HTTP header names checked, in order, for a tenant
	// value (e.g. "X-Tenant-Id", "Tenant-Id").
	HeaderAliases []string
	// ClaimAliases lists JWT claim names checked, in order.
	ClaimAliases []string
	// MessageHeaderAliases lists messaging envelope header keys checked, in order.
	MessageHeaderAliases []string
	// EnforceConsistency requires all present carriers to agree; defaults to
	// true via NewResolver.
	EnforceConsistency bool
	// AllowLogContext enables the LOG_CONTEXT carrier as a last resort.
	AllowLogContext bool
}

// NewResolver returns a Resolver with the conventional header/claim aliases
// and EnforceConsistency on.
func NewResolver() *Resolver {
	return &Resolver{
		HeaderAliases:        []string{"X-Tenant-Id", "Tenant-Id"},
		ClaimAliases:         []string{"tenant_id", "tenant", "tid"},
		MessageHeaderAliases: []string{"x-tenant-id"},
		EnforceConsistency:   true,
	}
}

// Input bundles the carriers available for a single resolution.
type Input struct {
	// Explicit is set by callers that already know the tenant (e.g. an
	// internal job runner). It is the strongest carrier; with
	// EnforceConsistency on it must still agree with any other carrier.
	Explicit *ID
	HTTPHeaders http.Header
	JWTClaims   map[string]interface{}
	MessageHeaders map[string]string
	LogContext  *ID
}

type candidate struct {
	carrier Carrier
	id      ID
}

// Resolve extracts the tenant per the fixed precedence. If more than one
// carrier yields a tenant and EnforceConsistency is set, they must agree or
// resolution fails with TenantMismatch. If no carrier yields a tenant,
// resolution fails with TenantRequired.
func (r *Resolver) Resolve(in Input) (ID, error) {
	var candidates []candidate

	if in.Explicit != nil {
		candidates = append(candidates, candidate{CarrierExplicit, *in.Explicit})
	}
	if id, ok := r.fromHTTPHeaders(in.HTTPHeaders); ok {
		candidates = append(candidates, candidate{CarrierHTTPHeader, id})
	}
	if id, ok := r.fromJWTClaims(in.JWTClaims); ok {
		candidates = append(candidates, candidate{CarrierJWTClaim, id})
	}
	if id, ok := r.fromMessageHeaders(in.MessageHeaders); ok {
		candidates = append(candidates, candidate{CarrierMessageHeader, id})
	}
	if r.AllowLogContext && in.LogContext != nil {
		candidates = append(candidates, candidate{CarrierLogContext, *in.LogContext})
	}

	if len(candidates) == 0 {
		return "", problem.New(problem.TenantRequired, "no carrier yielded a tenant", nil)
	}

	if r.EnforceConsistency {
		for _, c := range candidates[1:] {
			if c.id != candidates[0].id {
				return "", problem.New(problem.TenantMismatch, "tenant carriers disagree", map[string]interface{}{
					"carriers": carrierNames(candidates),
				})
			}
		}
	}

	return strongest(candidates), nil
}

func strongest(candidates []candidate) ID {
	for _, c := range precedence {
		for _, cand := range candidates {
			if cand.carrier == c {
				return cand.id
			}
		}
	}
	return candidates[0].id
}

func carrierNames(candidates []candidate) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.carrier.String()
	}
	return out
}

func (r *Resolver) fromHTTPHeaders(headers http.Header) (ID, bool) {
	if headers == nil {
		return "", false
	}
	for _, alias := range r.HeaderAliases {
		if v := strings.TrimSpace(headers.Get(alias)); v != "" {
			id, err := Parse(v)
			if err != nil {
				continue
			}
			return id, true
		}
	}
	return "", false
}

func (r *Resolver) fromJWTClaims(claims map[string]interface{}) (ID, bool) {
	if claims == nil {
		return "", false
	}
	for _, alias := range r.ClaimAliases {
		raw, ok := claims[alias]
		if !ok {
			continue
		}
		s, ok := raw.(string)
		if !ok || strings.TrimSpace(s) == "" {
			continue
		}
		id, err := Parse(s)
		if err != nil {
			continue
		}
		return id, true
	}
	return "", false
}

func (r *Resolver) fromMessageHeaders(headers map[string]string) (ID, bool) {
	if headers == nil {
		return "", false
	}
	for _, alias := range r.MessageHeaderAliases {
		if v, ok := headers[alias]; ok {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			id, err := Parse(v)
			if err != nil {
				continue
			}
			return id, true
		}
	}
	return "", false
}
