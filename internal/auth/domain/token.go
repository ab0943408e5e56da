package domain

import "time"

// TokenKind distinguishes the three bearer-credential families. Access and
// API tokens share a signing key; refresh tokens use their own, so that a
// compromise of one key cannot forge the other family.
type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
	TokenAPI     TokenKind = "api"
)

func (k TokenKind) Valid() bool {
	switch k {
	case TokenAccess, TokenRefresh, TokenAPI:
		return true
	}
	return false
}

// Token is the persisted audit record of an issued bearer credential. The
// DB stores a deterministic SHA-256 fingerprint of the signed value, never
// the value itself. A token is live only while revoked=false and
// now < ExpiresAt. Rows are never deleted by the core; expiry cleanup is
// housekeeping.
type Token struct {
	ID         string
	UserID     string
	ClientID   *string // nil for pure-session tokens
	TokenHash  string  // base64url SHA-256 fingerprint, unique indexed
	Kind       TokenKind
	ExpiresAt  time.Time
	Revoked    bool
	LastUsedAt *time.Time
	IP         string // request metadata, optional
	UserAgent  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TokenPair is what a fully authenticated login or 2FA completion returns.
type TokenPair struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	TokenType    string        `json:"token_type,omitempty"` // typically "Bearer"
	ExpiresIn    time.Duration `json:"expires_in"`
}

// RequestMeta carries optional origin metadata recorded on issued tokens.
type RequestMeta struct {
	IP        string
	UserAgent string
}
