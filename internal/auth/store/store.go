package store

import (
	"context"
	"errors"
	"time"

	"github.com/finsight/authcore/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite today,
// postgres later) implement it. Sub-repositories keep concerns tidy and make
// it obvious when a call runs inside a transaction and when it doesn't.
type Store interface {
	Users() Users
	Clients() Clients
	Tokens() Tokens
	BackupCodes() BackupCodes

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction: rollback if fn errors,
	// commit otherwise. Prefer this over Tx for multi-step operations that
	// must be all-or-nothing (registration, MFA enablement, revocation
	// sweeps).
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds
// Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	// CreateUser inserts a new user (id is provided by app via ULID).
	// Returns ErrAlreadyExists on an email collision.
	CreateUser(ctx context.Context, u domain.User) error

	// GetUserByID returns a user by id.
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByEmail looks a user up by case-normalized email.
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)

	// UpdatePasswordHash sets the password_hash and bumps updated_at.
	UpdatePasswordHash(ctx context.Context, userID, newHash string) error

	// UpdateLastLogin stamps last_login_at.
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error

	// UpdateStatus moves the account lifecycle state (soft delete included).
	UpdateStatus(ctx context.Context, userID string, status domain.UserStatus) error

	// SetMFA persists the MFA flag and secret together. Disabling passes
	// enabled=false with a nil secret, which clears the column.
	SetMFA(ctx context.Context, userID string, enabled bool, secret *string) error
}

type Clients interface {
	// CreateClient inserts a new client owned by an existing user.
	CreateClient(ctx context.Context, c domain.Client) error

	// GetClientByID fetches a client by its public client identifier.
	GetClientByID(ctx context.Context, id string) (domain.Client, error)

	// GetClientByUserID returns the owner's client, ErrNotFound if none.
	GetClientByUserID(ctx context.Context, userID string) (domain.Client, error)

	// UpdateSecretHash rotates the stored secret hash.
	UpdateSecretHash(ctx context.Context, clientID, secretHash string) error

	// UpdateStatus is the administrator-driven state transition.
	UpdateStatus(ctx context.Context, clientID string, status domain.ClientStatus) error

	// Touch stamps last_used_at outside the quota path (e.g. on login).
	Touch(ctx context.Context, clientID string, at time.Time) error

	// ConsumeQuota performs the atomic check-and-increment: one conditional
	// UPDATE that requires status=active and usage_count < usage_quota,
	// bumping usage_count and last_used_at. Returns false when the guard
	// blocked the increment; the caller decides why by re-reading the row.
	ConsumeQuota(ctx context.Context, clientID string, now time.Time) (bool, error)

	// ResetDueQuotas zeroes usage_count and advances reset_at for every
	// client whose window has elapsed. Used by the out-of-band job only.
	ResetDueQuotas(ctx context.Context, now time.Time, period time.Duration) error
}

type Tokens interface {
	// CreateToken stores the audit record of an issued credential.
	CreateToken(ctx context.Context, t domain.Token) error

	// GetValidByHash returns the unrevoked, unexpired token matching the
	// fingerprint and kind. For kind=access it also matches kind=api (an
	// API token substitutes for an access token, never the reverse).
	GetValidByHash(ctx context.Context, hash string, kind domain.TokenKind) (domain.Token, error)

	// Revoke flips revoked=1. Idempotent: revoking an already revoked or
	// unknown hash is not an error.
	Revoke(ctx context.Context, hash string) error

	// RevokeAllForUser bulk-revokes a user's live tokens of one kind
	// (e.g. every refresh token on password change).
	RevokeAllForUser(ctx context.Context, userID string, kind domain.TokenKind) error

	// RevokeAllForClient revokes every live token tied to a client,
	// regardless of kind (secret rotation).
	RevokeAllForClient(ctx context.Context, clientID string) error

	// Touch stamps last_used_at on successful verification.
	Touch(ctx context.Context, hash string, at time.Time) error

	// DeleteExpired removes rows past their expiry. Housekeeping only; the
	// core never deletes token rows.
	DeleteExpired(ctx context.Context, now time.Time) error
}

type BackupCodes interface {
	// Replace atomically swaps the user's backup-code set for a new one.
	Replace(ctx context.Context, userID string, codeHashes []string) error

	// Consume removes one code if present. The single DELETE's affected-row
	// count decides the winner when two requests race on the same code:
	// exactly one sees true.
	Consume(ctx context.Context, userID, codeHash string) (bool, error)

	// DeleteAll clears the set (MFA disable).
	DeleteAll(ctx context.Context, userID string) error

	// Count returns how many unused codes remain.
	Count(ctx context.Context, userID string) (int, error)
}
