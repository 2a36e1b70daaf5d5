// Package stepup implements the step-up authorization workflows ABAC's
// CHALLENGE decisions resolve against: MFA challenges, elevation
// tickets, two-person approval, and break-glass override.
package stepup

import (
	"time"

	"github.com/google/uuid"

	"github.com/mabumohsen/veggieshop-sub000/pkg/tenant"
)

// Strength is the MFA strength a challenge demands.
type Strength string

const (
	StrengthWeak   Strength = "WEAK"
	StrengthStrong Strength = "STRONG"
)

// ChallengeState is the MFA challenge lifecycle.
type ChallengeState string

const (
	ChallengePending  ChallengeState = "PENDING"
	ChallengeConsumed ChallengeState = "CONSUMED"
	ChallengeExpired  ChallengeState = "EXPIRED"
)

// Challenge is an outstanding MFA challenge.
type Challenge struct {
	ID             uuid.UUID
	Tenant         tenant.ID
	User           string
	Strength       Strength
	Reason         string
	IdempotencyKey string
	Attrs          map[string]string
	State          ChallengeState
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// Ticket is an opaque elevation ticket.
type Ticket struct {
	Token     string
	Tenant    tenant.ID
	User      string
	GrantedBy string // "mfa" or "break-glass"
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ApprovalState is the two-person approval lifecycle.
type ApprovalState string

const (
	ApprovalPending  ApprovalState = "PENDING"
	ApprovalApproved ApprovalState = "APPROVED"
	ApprovalDenied   ApprovalState = "DENIED"
	ApprovalExpired  ApprovalState = "EXPIRED"
)

// Approval is a two-person approval request.
type Approval struct {
	ID               uuid.UUID
	Tenant           tenant.ID
	Requester        string
	Action           string
	Reason           string
	RequiredApprover string // optional: pins who must decide
	IdempotencyKey   string
	State            ApprovalState
	Approver         string
	Comment          string
	CreatedAt        time.Time
	ExpiresAt        time.Time
	DecidedAt        *time.Time
}

// AuditEvent is emitted for every step-up decision. Payloads must be
// PII-free: data carries only identifiers and decision metadata.
type AuditEvent struct {
	Tenant tenant.ID
	Actor  string
	Type   string
	Data   map[string]string
	At     time.Time
}

// AuditSink receives step-up audit events.
type AuditSink interface {
	Record(AuditEvent)
}

// MFAProvider verifies a proof against an outstanding challenge.
type MFAProvider interface {
	Verify(challenge Challenge, proof string) (bool, error)
}

// Store persists challenges, tickets, and approvals.
type Store interface {
	FindChallengeByIdempotencyKey(tenantID tenant.ID, user, key string, now time.Time) (*Challenge, bool, error)
	PutChallenge(Challenge) error
	GetChallenge(tenantID tenant.ID, id uuid.UUID) (*Challenge, bool, error)
	UpdateChallengeState(tenantID tenant.ID, id uuid.UUID, state ChallengeState) error

	PutTicket(Ticket) error
	FindActiveTicket(tenantID tenant.ID, user string, now time.Time) (*Ticket, bool, error)
	RevokeTicket(token string) error

	FindApprovalByIdempotencyKey(tenantID tenant.ID, requester, key string, now time.Time) (*Approval, bool, error)
	PutApproval(Approval) error
	GetApproval(tenantID tenant.ID, id uuid.UUID) (*Approval, bool, error)
	UpdateApproval(Approval) error
}

// Options configures TTLs and elevation-minute bounds.
type Options struct {
	ChallengeTTL  time.Duration
	MinElevation  time.Duration
	MaxElevation  time.Duration
	ApprovalTTL   time.Duration
	MinJustifyLen int
}

// DefaultOptions returns the spec's stated defaults.
func DefaultOptions() Options {
	return Options{
		ChallengeTTL:  5 * time.Minute,
		MinElevation:  15 * time.Minute,
		MaxElevation:  60 * time.Minute,
		ApprovalTTL:   15 * time.Minute,
		MinJustifyLen: 20,
	}
}

func (o Options) clampElevation(requested time.Duration) time.Duration {
	if requested < o.MinElevation {
		return o.MinElevation
	}
	if requested > o.MaxElevation {
		return o.MaxElevation
	}
	return requested
}

// Clock abstracts "now" and ticket-token generation for deterministic tests.
type Clock func() time.Time

// Service implements the four step-up workflows against a Store.
type Service struct {
	Store    Store
	MFA      MFAProvider
	Audit    AuditSink
	Opts     Options
	Now      Clock
	NewToken func() string
}

// NewService builds a Service. now defaults to time.Now; newToken
// defaults to uuid.NewString.
func NewService(store Store, mfa MFAProvider, audit AuditSink, opts Options, now Clock, newToken func() string) *Service {
	if now == nil {
		now = time.Now
	}
	if newToken == nil {
		newToken = uuid.NewString
	}
	return &Service{Store: store, MFA: mfa, Audit: audit, Opts: opts, Now: now, NewToken: newToken}
}

func (s *Service) emit(tenantID tenant.ID, actor, typ string, data map[string]string) {
	if s.Audit == nil {
		return
	}
	s.Audit.Record(AuditEvent{Tenant: tenantID, Actor: actor, Type: typ, Data: data, At: s.Now()})
}

// InitiateChallenge starts (or idempotently returns) an MFA challenge.
func (s *Service) InitiateChallenge(tenantID tenant.ID, user string, strength Strength, reason, idempotencyKey string, attrs map[string]string) (*Challenge, error) {
	now := s.Now()
	if idempotencyKey != "" {
		if existing, ok, err := s.Store.FindChallengeByIdempotencyKey(tenantID, user, idempotencyKey, now); err != nil {
			return nil, err
		} else if ok {
			return existing, nil
		}
	}

	ch := Challenge{
		ID:             uuid.New(),
		Tenant:         tenantID,
		User:           user,
		Strength:       strength,
		Reason:         reason,
		IdempotencyKey: idempotencyKey,
		Attrs:          attrs,
		State:          ChallengePending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.Opts.ChallengeTTL),
	}
	if err := s.Store.PutChallenge(ch); err != nil {
		return nil, err
	}
	s.emit(tenantID, user, "stepup.challenge.initiated", map[string]string{"challengeId": ch.ID.String(), "strength": string(strength)})
	return &ch, nil
}

// VerifyChallenge checks proof against the MFA provider; on success it
// grants an elevation ticket and closes the challenge.
func (s *Service) VerifyChallenge(tenantID tenant.ID, user string, challengeID uuid.UUID, proof string, requestedMinutes time.Duration) (*Ticket, error) {
	now := s.Now()
	ch, ok, err := s.Store.GetChallenge(tenantID, challengeID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrChallengeNotFound
	}
	if ch.State != ChallengePending {
		return nil, ErrChallengeNotPending
	}
	if !now.Before(ch.ExpiresAt) {
		_ = s.Store.UpdateChallengeState(tenantID, challengeID, ChallengeExpired)
		s.emit(tenantID, user, "stepup.challenge.expired", map[string]string{"challengeId": ch.ID.String()})
		return nil, ErrChallengeExpired
	}

	ok2, err := s.MFA.Verify(*ch, proof)
	if err != nil {
		return nil, err
	}
	if !ok2 {
		s.emit(tenantID, user, "stepup.challenge.failed", map[string]string{"challengeId": ch.ID.String()})
		return nil, ErrProofInvalid
	}

	if err := s.Store.UpdateChallengeState(tenantID, challengeID, ChallengeConsumed); err != nil {
		return nil, err
	}

	minutes := s.Opts.clampElevation(requestedMinutes)
	ticket := Ticket{
		Token:     s.NewToken(),
		Tenant:    tenantID,
		User:      user,
		GrantedBy: "mfa",
		IssuedAt:  now,
		ExpiresAt: now.Add(minutes),
	}
	if err := s.Store.PutTicket(ticket); err != nil {
		return nil, err
	}
	s.emit(tenantID, user, "stepup.ticket.granted", map[string]string{"grantedBy": ticket.GrantedBy})
	return &ticket, nil
}

// FindActiveTicket returns the user's current unexpired elevation ticket, if any.
func (s *Service) FindActiveTicket(tenantID tenant.ID, user string) (*Ticket, bool, error) {
	return s.Store.FindActiveTicket(tenantID, user, s.Now())
}

// RevokeTicket invalidates a ticket by token.
func (s *Service) RevokeTicket(tenantID tenant.ID, user, token string) error {
	if err := s.Store.RevokeTicket(token); err != nil {
		return err
	}
	s.emit(tenantID, user, "stepup.ticket.revoked", map[string]string{})
	return nil
}

// RequestApproval opens (or idempotently returns) a two-person approval request.
func (s *Service) RequestApproval(tenantID tenant.ID, requester, action, reason, requiredApprover, idempotencyKey string, ttl time.Duration) (*Approval, error) {
	now := s.Now()
	if idempotencyKey != "" {
		if existing, ok, err := s.Store.FindApprovalByIdempotencyKey(tenantID, requester, idempotencyKey, now); err != nil {
			return nil, err
		} else if ok {
			return existing, nil
		}
	}
	if requiredApprover != "" && requiredApprover == requester {
		return nil, ErrRequesterCannotApprove
	}
	if ttl <= 0 {
		ttl = s.Opts.ApprovalTTL
	}

	ap := Approval{
		ID:               uuid.New(),
		Tenant:           tenantID,
		Requester:        requester,
		Action:           action,
		Reason:           reason,
		RequiredApprover: requiredApprover,
		IdempotencyKey:   idempotencyKey,
		State:            ApprovalPending,
		CreatedAt:        now,
		ExpiresAt:        now.Add(ttl),
	}
	if err := s.Store.PutApproval(ap); err != nil {
		return nil, err
	}
	s.emit(tenantID, requester, "stepup.approval.requested", map[string]string{"approvalId": ap.ID.String(), "action": action})
	return &ap, nil
}

// ApproveOrDeny records an approver's decision. Already-decided or
// expired requests are returned unchanged (idempotent); a requester
// attempting to decide their own request is rejected.
func (s *Service) ApproveOrDeny(tenantID tenant.ID, approver string, approvalID uuid.UUID, approve bool, comment string) (*Approval, error) {
	now := s.Now()
	ap, ok, err := s.Store.GetApproval(tenantID, approvalID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrApprovalNotFound
	}
	if ap.Requester == approver {
		return nil, ErrRequesterCannotApprove
	}
	if ap.RequiredApprover != "" && ap.RequiredApprover != approver {
		return nil, ErrWrongApprover
	}

	if ap.State != ApprovalPending {
		return ap, nil
	}
	if !now.Before(ap.ExpiresAt) {
		ap.State = ApprovalExpired
		_ = s.Store.UpdateApproval(*ap)
		return ap, nil
	}

	if approve {
		ap.State = ApprovalApproved
	} else {
		ap.State = ApprovalDenied
	}
	ap.Approver = approver
	ap.Comment = comment
	decidedAt := now
	ap.DecidedAt = &decidedAt
	if err := s.Store.UpdateApproval(*ap); err != nil {
		return nil, err
	}
	s.emit(tenantID, approver, "stepup.approval.decided", map[string]string{"approvalId": ap.ID.String(), "state": string(ap.State)})
	return ap, nil
}

// BreakGlass issues an elevation ticket without an MFA round-trip,
// requiring a justification of at least MinJustifyLen characters.
func (s *Service) BreakGlass(tenantID tenant.ID, user, justification string, requestedMinutes time.Duration) (*Ticket, error) {
	if len(justification) < s.Opts.MinJustifyLen {
		return nil, ErrJustificationTooShort
	}
	now := s.Now()
	minutes := s.Opts.clampElevation(requestedMinutes)
	ticket := Ticket{
		Token:     s.NewToken(),
		Tenant:    tenantID,
		User:      user,
		GrantedBy: "break-glass",
		IssuedAt:  now,
		ExpiresAt: now.Add(minutes),
	}
	if err := s.Store.PutTicket(ticket); err != nil {
		return nil, err
	}
	s.emit(tenantID, user, "stepup.breakglass.granted", map[string]string{"justification": justification})
	return &ticket, nil
}
