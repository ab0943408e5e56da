package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared across the auth services. Credential failures are
// deliberately vague: callers never learn which field was wrong, and token
// verification reports missing, expired, revoked and bad-signature tokens
// identically.
var (
	ErrInvalidCredentials      = errors.New("invalid_credentials")
	ErrTokenInvalid            = errors.New("invalid or expired token")
	ErrMFACodeInvalid          = errors.New("invalid_mfa_code")
	ErrBackupCodeInvalid       = errors.New("invalid_backup_code")
	ErrConflictingRegistration = errors.New("email_already_registered")
	ErrTooManyAttempts         = errors.New("too_many_attempts")
)

// AccountNotActiveError reports a user or client blocked by lifecycle
// status. The status may be disclosed: it is not a credential leak.
type AccountNotActiveError struct {
	Subject string // "user" or "client"
	Status  string
}

func (e *AccountNotActiveError) Error() string {
	return fmt.Sprintf("%s account is not active (status: %s)", e.Subject, e.Status)
}

// IsAwaitingApproval reports the pending-client case so callers can surface
// the explicit "awaiting approval" signal.
func (e *AccountNotActiveError) IsAwaitingApproval() bool {
	return e.Subject == "client" && e.Status == string(ClientPending)
}

// QuotaExceededError carries the reset boundary so callers can relay it.
type QuotaExceededError struct {
	ResetAt time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("usage quota exceeded, resets at %s", e.ResetAt.UTC().Format(time.RFC3339))
}
