package stepup

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mabumohsen/veggieshop-sub000/pkg/tenant"
)

type challengeIdemKey struct {
	tenant tenant.ID
	user   string
	key    string
}

type approvalIdemKey struct {
	tenant    tenant.ID
	requester string
	key       string
}

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu sync.Mutex

	challenges    map[uuid.UUID]*Challenge
	challengeIdem map[challengeIdemKey]uuid.UUID

	tickets map[string]*Ticket

	approvals    map[uuid.UUID]*Approval
	approvalIdem map[approvalIdemKey]uuid.UUID
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		challenges:    make(map[uuid.UUID]*Challenge),
		challengeIdem: make(map[challengeIdemKey]uuid.UUID),
		tickets:       make(map[string]*Ticket),
		approvals:     make(map[uuid.UUID]*Approval),
		approvalIdem:  make(map[approvalIdemKey]uuid.UUID),
	}
}

func (s *MemoryStore) FindChallengeByIdempotencyKey(tenantID tenant.ID, user, key string, now time.Time) (*Challenge, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.challengeIdem[challengeIdemKey{tenantID, user, key}]
	if !ok {
		return nil, false, nil
	}
	ch, ok := s.challenges[id]
	if !ok || !now.Before(ch.ExpiresAt) {
		return nil, false, nil
	}
	cp := *ch
	return &cp, true, nil
}

func (s *MemoryStore) PutChallenge(ch Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := ch
	s.challenges[ch.ID] = &cp
	if ch.IdempotencyKey != "" {
		s.challengeIdem[challengeIdemKey{ch.Tenant, ch.User, ch.IdempotencyKey}] = ch.ID
	}
	return nil
}

func (s *MemoryStore) GetChallenge(tenantID tenant.ID, id uuid.UUID) (*Challenge, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[id]
	if !ok || ch.Tenant != tenantID {
		return nil, false, nil
	}
	cp := *ch
	return &cp, true, nil
}

func (s *MemoryStore) UpdateChallengeState(tenantID tenant.ID, id uuid.UUID, state ChallengeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[id]
	if !ok || ch.Tenant != tenantID {
		return nil
	}
	ch.State = state
	return nil
}

func (s *MemoryStore) PutTicket(t Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := t
	s.tickets[t.Token] = &cp
	return nil
}

func (s *MemoryStore) FindActiveTicket(tenantID tenant.ID, user string, now time.Time) (*Ticket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tickets {
		if t.Tenant != tenantID || t.User != user {
			continue
		}
		if !t.IssuedAt.After(now) && now.Before(t.ExpiresAt) {
			cp := *t
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

func (s *MemoryStore) RevokeTicket(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tickets, token)
	return nil
}

func (s *MemoryStore) FindApprovalByIdempotencyKey(tenantID tenant.ID, requester, key string, now time.Time) (*Approval, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.approvalIdem[approvalIdemKey{tenantID, requester, key}]
	if !ok {
		return nil, false, nil
	}
	ap, ok := s.approvals[id]
	if !ok {
		return nil, false, nil
	}
	cp := *ap
	return &cp, true, nil
}

func (s *MemoryStore) PutApproval(ap Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := ap
	s.approvals[ap.ID] = &cp
	if ap.IdempotencyKey != "" {
		s.approvalIdem[approvalIdemKey{ap.Tenant, ap.Requester, ap.IdempotencyKey}] = ap.ID
	}
	return nil
}

func (s *MemoryStore) GetApproval(tenantID tenant.ID, id uuid.UUID) (*Approval, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ap, ok := s.approvals[id]
	if !ok || ap.Tenant != tenantID {
		return nil, false, nil
	}
	cp := *ap
	return &cp, true, nil
}

func (s *MemoryStore) UpdateApproval(ap Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.approvals[ap.ID]; !ok {
		return nil
	}
	cp := ap
	s.approvals[ap.ID] = &cp
	return nil
}
