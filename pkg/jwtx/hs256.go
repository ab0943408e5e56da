package jwtx

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken covers bad signature, malformed token, wrong signing
	// method and expired claims alike. Callers must not distinguish.
	ErrInvalidToken = errors.New("jwtx: invalid token")

	// ErrUnknownKind reports a token kind no signer is configured for.
	ErrUnknownKind = errors.New("jwtx: unknown token kind")
)

// Signer signs and verifies claims with a single HS256 shared secret.
type Signer struct {
	key []byte
}

func NewSignerHS256(key []byte) (*Signer, error) {
	if len(key) < 32 {
		return nil, fmt.Errorf("jwtx: HS256 key must be at least 32 bytes, got %d", len(key))
	}
	return &Signer{key: key}, nil
}

func (s *Signer) Sign(claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

// Verify parses and cryptographically verifies a token, returning its
// claims. Any failure collapses into ErrInvalidToken.
func (s *Signer) Verify(tokenValue string) (Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(
		tokenValue,
		&claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
			}
			return s.key, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil || !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// KeySet holds the per-family signers. Access and API tokens share one key;
// refresh tokens use a separate one, so compromise of either cannot forge
// the other family.
type KeySet struct {
	access  *Signer
	refresh *Signer
}

func NewKeySet(accessKey, refreshKey []byte) (*KeySet, error) {
	access, err := NewSignerHS256(accessKey)
	if err != nil {
		return nil, err
	}
	refresh, err := NewSignerHS256(refreshKey)
	if err != nil {
		return nil, err
	}
	return &KeySet{access: access, refresh: refresh}, nil
}

// ForKind returns the signer responsible for a token kind.
func (k *KeySet) ForKind(kind string) (*Signer, error) {
	switch kind {
	case KindAccess, KindAPI:
		return k.access, nil
	case KindRefresh:
		return k.refresh, nil
	}
	return nil, ErrUnknownKind
}
