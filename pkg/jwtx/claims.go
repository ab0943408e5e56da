package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token kind values carried in the "kind" claim. They mirror the persisted
// token kinds; jwtx stays decoupled from the domain package on purpose.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
	KindAPI     = "api"
)

// Claims are the bearer-token claims used across the service. Keep changes
// additive to preserve compatibility with already-issued tokens.
type Claims struct {
	jwt.RegisteredClaims

	// ClientID of the integrator application the token is bound to.
	// Empty for pure-session tokens.
	ClientID string `json:"cid,omitempty"`

	// Role of the subject at issuance time ("user", "admin").
	Role string `json:"role,omitempty"`

	// Kind of credential: access, refresh or api. Verification requires the
	// claim to match the persisted record's kind.
	Kind string `json:"kind"`

	// MFAEnabled records whether the subject had MFA on at issuance. Lets
	// downstream gates require a fresh login for sensitive operations.
	MFAEnabled bool `json:"mfa,omitempty"`
}

// NewClaims builds minimally-correct claims for one credential.
func NewClaims(
	subject, clientID, role, kind string,
	mfaEnabled bool,
	ttl time.Duration,
	issuer string,
	now time.Time,
) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		ClientID:   clientID,
		Role:       role,
		Kind:       kind,
		MFAEnabled: mfaEnabled,
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}
