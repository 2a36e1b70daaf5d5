// Package abac implements the attribute-based access control engine:
// an ordered chain of gates, each of which may PERMIT, DENY, or demand
// a CHALLENGE (step-up) before the request can proceed. The first gate
// that reaches a verdict wins; later gates never run.
package abac

import (
	"time"

	"github.com/mabumohsen/veggieshop-sub000/pkg/tenant"
)

// Role is a coarse-grained subject role.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleBuyer   Role = "BUYER"
	RoleVendor  Role = "VENDOR"
	RoleSupport Role = "SUPPORT"
)

// MFALevel is the strength of the subject's current authentication.
type MFALevel string

const (
	MFANone   MFALevel = "NONE"
	MFAWeak   MFALevel = "WEAK"
	MFAStrong MFALevel = "STRONG"
)

// Action is an enumerated operation, each with a static risk tier used
// by gate 5 (Action risk).
type Action string

const (
	ActionRead                 Action = "READ"
	ActionCreate               Action = "CREATE"
	ActionUpdate               Action = "UPDATE"
	ActionDelete               Action = "DELETE"
	ActionApprovePriceOverride Action = "APPROVE_PRICE_OVERRIDE"
	ActionManageSecrets        Action = "MANAGE_SECRETS"
	ActionExportPII            Action = "EXPORT_PII"
	ActionManageTenantConfig   Action = "MANAGE_TENANT_CONFIG"
)

// Risk is the static risk tier assigned to an action.
type Risk string

const (
	RiskLow    Risk = "LOW"
	RiskMedium Risk = "MEDIUM"
	RiskHigh   Risk = "HIGH"
)

// actionRisk classifies each action's static risk tier. DELETE and the
// privileged management actions are HIGH; CREATE/UPDATE are MEDIUM;
// READ is LOW. This tiering isn't spelled out verbatim anywhere else,
// it is the concrete resolution of the action-risk gate.
var actionRisk = map[Action]Risk{
	ActionRead:                 RiskLow,
	ActionCreate:               RiskMedium,
	ActionUpdate:               RiskMedium,
	ActionDelete:               RiskHigh,
	ActionApprovePriceOverride: RiskHigh,
	ActionManageSecrets:        RiskHigh,
	ActionExportPII:            RiskMedium,
	ActionManageTenantConfig:   RiskHigh,
}

func (a Action) Risk() Risk {
	if r, ok := actionRisk[a]; ok {
		return r
	}
	return RiskLow
}

// writeActions are actions SUPPORT may never perform (gate 8).
var writeActions = map[Action]bool{
	ActionCreate: true, ActionUpdate: true, ActionDelete: true,
	ActionApprovePriceOverride: true, ActionManageSecrets: true,
	ActionExportPII: true, ActionManageTenantConfig: true,
}

// elevationRequiredActions are actions that additionally require an
// active elevation window regardless of role or MFA (gate 7).
var elevationRequiredActions = map[Action]bool{
	ActionManageSecrets:        true,
	ActionManageTenantConfig:   true,
	ActionApprovePriceOverride: true,
}

// Sensitivity classifies a resource's data sensitivity.
type Sensitivity string

const (
	SensitivityPublic        Sensitivity = "PUBLIC"
	SensitivityInternal      Sensitivity = "INTERNAL"
	SensitivityConfidential  Sensitivity = "CONFIDENTIAL"
	SensitivityRestrictedPII Sensitivity = "RESTRICTED_PII"
)

// Subject is the authenticated caller.
type Subject struct {
	UserID         string
	TenantID       tenant.ID
	Roles          map[Role]bool
	VendorID       string
	MFALevel       MFALevel
	ElevationUntil *time.Time
}

func (s Subject) hasRole(r Role) bool { return s.Roles[r] }

// ActiveElevation reports whether the subject currently holds an
// unexpired elevation window.
func (s Subject) ActiveElevation(now time.Time) bool {
	return s.ElevationUntil != nil && s.ElevationUntil.After(now)
}

// StrongMFA is satisfied when mfaLevel=STRONG or an active elevation
// window exists.
func (s Subject) StrongMFA(now time.Time) bool {
	return s.MFALevel == MFAStrong || s.ActiveElevation(now)
}

// Resource is the object the action targets, when applicable.
type Resource struct {
	TenantID      tenant.ID
	VendorOwnerID string
	Sensitivity   Sensitivity
	ResourceType  string
}

// Environment carries request-time risk signals.
type Environment struct {
	RiskScore      int // clamped 0..100
	BreakGlass     bool
	SecondApprover string
}

func (e Environment) clampedRiskScore() int {
	if e.RiskScore < 0 {
		return 0
	}
	if e.RiskScore > 100 {
		return 100
	}
	return e.RiskScore
}

// Request is a single authorization request.
type Request struct {
	TenantID    tenant.ID
	Subject     Subject
	Action      Action
	Resource    *Resource
	Environment Environment
}

// Effect is the final authorization verdict.
type Effect string

const (
	EffectPermit    Effect = "PERMIT"
	EffectDeny      Effect = "DENY"
	EffectChallenge Effect = "CHALLENGE"
)

// ChallengeKind names the step-up the caller must complete before retrying.
type ChallengeKind string

const (
	ChallengeNone              ChallengeKind = ""
	ChallengeRequireMFA        ChallengeKind = "REQUIRE_MFA"
	ChallengeRequireTwoPerson  ChallengeKind = "REQUIRE_TWO_PERSON"
	ChallengeRequireElevation  ChallengeKind = "REQUIRE_ELEVATION"
)

// Decision is the engine's output.
type Decision struct {
	Effect    Effect
	Reason    string
	Challenge ChallengeKind
	// MFAStrength names the MFA level demanded by a REQUIRE_MFA
	// challenge, e.g. "strong".
	MFAStrength string
}

func deny(reason string) Decision {
	return Decision{Effect: EffectDeny, Reason: reason}
}

func challenge(kind ChallengeKind, reason string) Decision {
	return Decision{Effect: EffectChallenge, Challenge: kind, Reason: reason}
}

func permit() Decision {
	return Decision{Effect: EffectPermit}
}

// Clock abstracts "now" for deterministic tests.
type Clock func() time.Time

// Engine evaluates AbacRequests against the gate chain from 4.K.
type Engine struct {
	Now Clock

	// EnvironmentRiskMfaThreshold is the RiskScore at or above which
	// gate 6 demands step-up MFA.
	EnvironmentRiskMfaThreshold int
}

// NewEngine builds an Engine. now defaults to time.Now.
func NewEngine(environmentRiskMfaThreshold int, now Clock) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{Now: now, EnvironmentRiskMfaThreshold: environmentRiskMfaThreshold}
}

// Authorize evaluates req through the ordered gate chain; the first
// gate to reach a verdict decides.
func (e *Engine) Authorize(req Request) Decision {
	now := e.Now()

	// 1. Tenant isolation.
	if req.TenantID == "" {
		return deny("Missing tenant context")
	}
	if req.Subject.TenantID != req.TenantID {
		return deny("Tenant mismatch")
	}
	if req.Resource != nil && req.Resource.TenantID != "" && req.Resource.TenantID != req.TenantID {
		return deny("Resource not in caller tenant")
	}

	// 2. Coarse RBAC.
	if d, stop := e.coarseRBAC(req); stop {
		return d
	}

	// 3. Vendor ownership.
	if req.Resource != nil && req.Resource.VendorOwnerID != "" && !req.Subject.hasRole(RoleAdmin) {
		if req.Subject.VendorID != req.Resource.VendorOwnerID {
			return deny("Vendor does not own resource")
		}
	}

	// 4. Sensitivity.
	if d, stop := e.sensitivityGate(req, now); stop {
		return d
	}

	// 5. Action risk.
	if d, stop := e.actionRiskGate(req, now); stop {
		return d
	}

	// 6. Environment risk.
	if req.Environment.clampedRiskScore() >= e.EnvironmentRiskMfaThreshold &&
		!req.Environment.BreakGlass && !req.Subject.StrongMFA(now) {
		return challenge(ChallengeRequireMFA, "Elevated environment risk requires step-up MFA")
	}

	// 7. Elevation.
	if elevationRequiredActions[req.Action] && !req.Subject.ActiveElevation(now) {
		return challenge(ChallengeRequireElevation, "Action requires an active elevation window")
	}

	// 8. SUPPORT is read-only.
	if req.Subject.hasRole(RoleSupport) && !req.Subject.hasRole(RoleAdmin) && writeActions[req.Action] {
		return deny("Support role is read-only")
	}

	return permit()
}

func (e *Engine) coarseRBAC(req Request) (Decision, bool) {
	s := req.Subject
	if s.hasRole(RoleAdmin) {
		return Decision{}, false
	}
	switch req.Action {
	case ActionRead:
		if s.hasRole(RoleBuyer) || s.hasRole(RoleVendor) || s.hasRole(RoleSupport) {
			return Decision{}, false
		}
	case ActionCreate, ActionUpdate:
		if s.hasRole(RoleVendor) {
			return Decision{}, false
		}
	case ActionDelete, ActionApprovePriceOverride, ActionManageSecrets, ActionExportPII, ActionManageTenantConfig:
		// ADMIN-only, already excluded above.
	}
	return deny("Role not permitted for action"), true
}

func (e *Engine) sensitivityGate(req Request, now time.Time) (Decision, bool) {
	if req.Resource == nil {
		return Decision{}, false
	}
	switch req.Resource.Sensitivity {
	case SensitivityRestrictedPII:
		if !req.Subject.hasRole(RoleAdmin) {
			return deny("Restricted PII requires ADMIN"), true
		}
		if !req.Subject.StrongMFA(now) {
			return challenge(ChallengeRequireMFA, "Restricted PII requires strong MFA"), true
		}
	case SensitivityConfidential:
		if writeActions[req.Action] {
			if !req.Subject.hasRole(RoleAdmin) {
				return deny("Confidential writes require ADMIN"), true
			}
			if !req.Subject.StrongMFA(now) {
				return challenge(ChallengeRequireMFA, "Confidential writes require strong MFA"), true
			}
		}
	}
	return Decision{}, false
}

func (e *Engine) actionRiskGate(req Request, now time.Time) (Decision, bool) {
	risk := req.Action.Risk()
	if risk != RiskMedium && risk != RiskHigh {
		return Decision{}, false
	}
	if req.Environment.BreakGlass {
		return Decision{}, false
	}
	if !req.Subject.StrongMFA(now) {
		d := challenge(ChallengeRequireMFA, "Action risk requires strong MFA")
		d.MFAStrength = "strong"
		return d, true
	}
	if risk != RiskHigh {
		return Decision{}, false
	}
	if !req.Subject.hasRole(RoleAdmin) {
		return deny("High-risk action requires ADMIN"), true
	}
	if req.Environment.SecondApprover == "" {
		return challenge(ChallengeRequireTwoPerson, "High-risk action requires a second approver"), true
	}
	if req.Environment.SecondApprover == req.Subject.UserID {
		return deny("Second approver must differ from the acting subject"), true
	}
	return Decision{}, false
}
