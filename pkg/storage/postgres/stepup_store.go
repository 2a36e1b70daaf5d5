package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mabumohsen/veggieshop-sub000/pkg/stepup"
	"github.com/mabumohsen/veggieshop-sub000/pkg/tenant"
)

func encodeAttrs(attrs map[string]string) ([]byte, error) {
	if len(attrs) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(attrs)
}

func decodeAttrs(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var attrs map[string]string
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}

// StepUpStore is the Postgres-backed stepup.Store: three tables --
// stepup_challenges, stepup_tickets, stepup_approvals -- each keyed the
// way stepup.Service looks them up (by id, by active idempotency key,
// by active ticket holder).
type StepUpStore struct {
	*BaseStore
	ctxTimeout time.Duration
}

// NewStepUpStore builds a StepUpStore over db. ctxTimeout bounds each
// call, since stepup.Store methods carry no context parameter of their
// own.
func NewStepUpStore(db *sqlx.DB, ctxTimeout time.Duration) *StepUpStore {
	if ctxTimeout <= 0 {
		ctxTimeout = 2 * time.Second
	}
	return &StepUpStore{BaseStore: NewBaseStore(db, "stepup_challenges"), ctxTimeout: ctxTimeout}
}

func (s *StepUpStore) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.ctxTimeout)
}

func (s *StepUpStore) FindChallengeByIdempotencyKey(tenantID tenant.ID, user, key string, now time.Time) (*stepup.Challenge, bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	query := `
		SELECT id, tenant_id, user_id, strength, reason, idempotency_key, attrs, state, created_at, expires_at
		FROM stepup_challenges
		WHERE tenant_id = $1 AND user_id = $2 AND idempotency_key = $3 AND expires_at > $4
		ORDER BY created_at DESC LIMIT 1`
	row := s.QueryRowContext(ctx, query, string(tenantID), user, key, now)
	ch, err := scanChallenge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return ch, true, nil
}

func (s *StepUpStore) PutChallenge(c stepup.Challenge) error {
	ctx, cancel := s.ctx()
	defer cancel()
	attrs, err := encodeAttrs(c.Attrs)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO stepup_challenges (id, tenant_id, user_id, strength, reason, idempotency_key, attrs, state, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = s.ExecContext(ctx, query, c.ID, string(c.Tenant), c.User, string(c.Strength), c.Reason,
		c.IdempotencyKey, attrs, string(c.State), c.CreatedAt, c.ExpiresAt)
	if IsUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (s *StepUpStore) GetChallenge(tenantID tenant.ID, id uuid.UUID) (*stepup.Challenge, bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	query := `
		SELECT id, tenant_id, user_id, strength, reason, idempotency_key, attrs, state, created_at, expires_at
		FROM stepup_challenges WHERE tenant_id = $1 AND id = $2`
	row := s.QueryRowContext(ctx, query, string(tenantID), id)
	ch, err := scanChallenge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return ch, true, nil
}

func (s *StepUpStore) UpdateChallengeState(tenantID tenant.ID, id uuid.UUID, state stepup.ChallengeState) error {
	ctx, cancel := s.ctx()
	defer cancel()
	_, err := s.ExecContext(ctx,
		`UPDATE stepup_challenges SET state = $1 WHERE tenant_id = $2 AND id = $3`,
		string(state), string(tenantID), id)
	return err
}

func scanChallenge(row *sql.Row) (*stepup.Challenge, error) {
	var c stepup.Challenge
	var tenantCol, strength, state string
	var attrs []byte
	if err := row.Scan(&c.ID, &tenantCol, &c.User, &strength, &c.Reason, &c.IdempotencyKey,
		&attrs, &state, &c.CreatedAt, &c.ExpiresAt); err != nil {
		return nil, err
	}
	c.Tenant = tenant.ID(tenantCol)
	c.Strength = stepup.Strength(strength)
	c.State = stepup.ChallengeState(state)
	decoded, err := decodeAttrs(attrs)
	if err != nil {
		return nil, err
	}
	c.Attrs = decoded
	return &c, nil
}

func (s *StepUpStore) PutTicket(t stepup.Ticket) error {
	ctx, cancel := s.ctx()
	defer cancel()
	query := `
		INSERT INTO stepup_tickets (token, tenant_id, user_id, granted_by, issued_at, expires_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6, false)`
	_, err := s.ExecContext(ctx, query, t.Token, string(t.Tenant), t.User, t.GrantedBy, t.IssuedAt, t.ExpiresAt)
	if IsUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (s *StepUpStore) FindActiveTicket(tenantID tenant.ID, user string, now time.Time) (*stepup.Ticket, bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	query := `
		SELECT token, tenant_id, user_id, granted_by, issued_at, expires_at
		FROM stepup_tickets
		WHERE tenant_id = $1 AND user_id = $2 AND expires_at > $3 AND NOT revoked
		ORDER BY issued_at DESC LIMIT 1`
	var tk stepup.Ticket
	var tenantCol string
	err := s.QueryRowContext(ctx, query, string(tenantID), user, now).Scan(
		&tk.Token, &tenantCol, &tk.User, &tk.GrantedBy, &tk.IssuedAt, &tk.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	tk.Tenant = tenant.ID(tenantCol)
	return &tk, true, nil
}

func (s *StepUpStore) RevokeTicket(token string) error {
	ctx, cancel := s.ctx()
	defer cancel()
	_, err := s.ExecContext(ctx, `UPDATE stepup_tickets SET revoked = true WHERE token = $1`, token)
	return err
}

func (s *StepUpStore) FindApprovalByIdempotencyKey(tenantID tenant.ID, requester, key string, now time.Time) (*stepup.Approval, bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	query := `
		SELECT id, tenant_id, requester, action, reason, required_approver, idempotency_key,
			state, approver, comment, created_at, expires_at, decided_at
		FROM stepup_approvals
		WHERE tenant_id = $1 AND requester = $2 AND idempotency_key = $3 AND expires_at > $4
		ORDER BY created_at DESC LIMIT 1`
	row := s.QueryRowContext(ctx, query, string(tenantID), requester, key, now)
	ap, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return ap, true, nil
}

func (s *StepUpStore) PutApproval(a stepup.Approval) error {
	ctx, cancel := s.ctx()
	defer cancel()
	query := `
		INSERT INTO stepup_approvals
			(id, tenant_id, requester, action, reason, required_approver, idempotency_key,
			 state, approver, comment, created_at, expires_at, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := s.ExecContext(ctx, query, a.ID, string(a.Tenant), a.Requester, a.Action, a.Reason,
		a.RequiredApprover, a.IdempotencyKey, string(a.State), a.Approver, a.Comment,
		a.CreatedAt, a.ExpiresAt, a.DecidedAt)
	if IsUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (s *StepUpStore) GetApproval(tenantID tenant.ID, id uuid.UUID) (*stepup.Approval, bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	query := `
		SELECT id, tenant_id, requester, action, reason, required_approver, idempotency_key,
			state, approver, comment, created_at, expires_at, decided_at
		FROM stepup_approvals WHERE tenant_id = $1 AND id = $2`
	row := s.QueryRowContext(ctx, query, string(tenantID), id)
	ap, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return ap, true, nil
}

func (s *StepUpStore) UpdateApproval(a stepup.Approval) error {
	ctx, cancel := s.ctx()
	defer cancel()
	query := `
		UPDATE stepup_approvals
		SET state = $1, approver = $2, comment = $3, decided_at = $4
		WHERE tenant_id = $5 AND id = $6`
	_, err := s.ExecContext(ctx, query, string(a.State), a.Approver, a.Comment, a.DecidedAt,
		string(a.Tenant), a.ID)
	return err
}

func scanApproval(row *sql.Row) (*stepup.Approval, error) {
	var a stepup.Approval
	var tenantCol, state string
	if err := row.Scan(&a.ID, &tenantCol, &a.Requester, &a.Action, &a.Reason, &a.RequiredApprover,
		&a.IdempotencyKey, &state, &a.Approver, &a.Comment, &a.CreatedAt, &a.ExpiresAt, &a.DecidedAt); err != nil {
		return nil, err
	}
	a.Tenant = tenant.ID(tenantCol)
	a.State = stepup.ApprovalState(state)
	return &a, nil
}
