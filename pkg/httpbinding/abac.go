package httpbinding

import (
	"net/http"

	"github.com/mabumohsen/veggieshop-sub000/pkg/abac"
	"github.com/mabumohsen/veggieshop-sub000/pkg/problem"
	"github.com/mabumohsen/veggieshop-sub000/pkg/tenant"
)

// SubjectResolver extracts the authenticated subject (roles, MFA level,
// vendor id, elevation window) for the request. In production this reads
// a verified JWT; HMACAuthMiddleware only proves the caller holds a
// signing key, it does not itself carry subject attributes.
type SubjectResolver interface {
	Resolve(r *http.Request) (abac.Subject, error)
}

// SubjectResolverFunc adapts a function to SubjectResolver.
type SubjectResolverFunc func(r *http.Request) (abac.Subject, error)

func (f SubjectResolverFunc) Resolve(r *http.Request) (abac.Subject, error) { return f(r) }

// RouteSpec is the per-route authorization intent: the action being
// performed and, for resource-scoped routes, the resource attributes and
// environment risk signals to evaluate it against.
type RouteSpec struct {
	Action      abac.Action
	Resource    func(r *http.Request) (*abac.Resource, error)
	Environment func(r *http.Request) abac.Environment
}

// SpecResolver maps an inbound request to the RouteSpec the ABAC engine
// should evaluate. Typically a small switch on method+path, or a chi
// route-pattern lookup table built at startup.
type SpecResolver interface {
	Spec(r *http.Request) (RouteSpec, error)
}

// SpecResolverFunc adapts a function to SpecResolver.
type SpecResolverFunc func(r *http.Request) (RouteSpec, error)

func (f SpecResolverFunc) Spec(r *http.Request) (RouteSpec, error) { return f(r) }

// ABACMiddleware authorizes the request against the nine-gate engine.
// A CHALLENGE decision is surfaced as step-up-required with the demanded
// challenge kind in an extension, so the caller can drive the
// appropriate stepup workflow and retry.
func ABACMiddleware(engine *abac.Engine, subjects SubjectResolver, specs SpecResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t, ok := tenant.Current(r.Context())
			if !ok {
				WriteProblem(w, r, problem.New(problem.TenantRequired, "tenant must be resolved before authorization", nil))
				return
			}

			subject, err := subjects.Resolve(r)
			if err != nil {
				WriteProblem(w, r, err)
				return
			}

			spec, err := specs.Spec(r)
			if err != nil {
				WriteProblem(w, r, err)
				return
			}

			var resource *abac.Resource
			if spec.Resource != nil {
				resource, err = spec.Resource(r)
				if err != nil {
					WriteProblem(w, r, err)
					return
				}
			}
			var env abac.Environment
			if spec.Environment != nil {
				env = spec.Environment(r)
			}

			decision := engine.Authorize(abac.Request{
				TenantID:    t,
				Subject:     subject,
				Action:      spec.Action,
				Resource:    resource,
				Environment: env,
			})

			switch decision.Effect {
			case abac.EffectPermit:
				next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), subject)))
			case abac.EffectChallenge:
				WriteProblem(w, r, problem.New(problem.StepUpRequired, decision.Reason, map[string]interface{}{
					"challenge": string(decision.Challenge),
				}))
			default:
				WriteProblem(w, r, problem.New(problem.AuthorizationDenied, decision.Reason, nil))
			}
		})
	}
}
