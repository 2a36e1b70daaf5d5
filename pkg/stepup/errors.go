package stepup

import "errors"

var (
	ErrChallengeNotFound      = errors.New("stepup: challenge not found")
	ErrChallengeNotPending    = errors.New("stepup: challenge is not pending")
	ErrChallengeExpired       = errors.New("stepup: challenge expired")
	ErrProofInvalid           = errors.New("stepup: mfa proof invalid")
	ErrApprovalNotFound       = errors.New("stepup: approval not found")
	ErrRequesterCannotApprove = errors.New("stepup: requester cannot approve their own request")
	ErrWrongApprover          = errors.New("stepup: approval is pinned to a different approver")
	ErrJustificationTooShort  = errors.New("stepup: break-glass justification too short")
)
