package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/finsight/authcore/internal/auth/domain"
	"github.com/finsight/authcore/internal/auth/store"
	"github.com/finsight/authcore/pkg/cryptox"
	"github.com/finsight/authcore/pkg/idx"
	"github.com/finsight/authcore/pkg/jwtx"
	"github.com/finsight/authcore/pkg/slogx"
)

// TokenService issues, verifies and revokes signed bearer credentials and
// keeps the persisted audit trail for every issuance.
type TokenService struct {
	Store  store.Store
	Keys   *jwtx.KeySet
	Issuer string

	AccessTTL  time.Duration // short horizon, e.g. 1h
	RefreshTTL time.Duration // e.g. 7d
	APITTL     time.Duration // e.g. 30d
}

func (s *TokenService) ttlFor(kind domain.TokenKind) time.Duration {
	switch kind {
	case domain.TokenRefresh:
		return s.RefreshTTL
	case domain.TokenAPI:
		return s.APITTL
	default:
		return s.AccessTTL
	}
}

// Issue signs a credential for the user (optionally bound to a client) and
// persists its audit record. The record commit happens before the signed
// value is returned: a persistence failure is fatal to the issuance and no
// unpersisted credential ever reaches a caller.
func (s *TokenService) Issue(
	ctx context.Context,
	user domain.User,
	client *domain.Client,
	kind domain.TokenKind,
	meta domain.RequestMeta,
) (string, domain.Token, error) {
	now := time.Now().UTC()

	var clientID string
	var clientIDPtr *string
	if client != nil {
		clientID = client.ID
		clientIDPtr = &client.ID
	}

	claims := jwtx.NewClaims(
		user.ID,
		clientID,
		string(user.Role),
		string(kind),
		user.MFAEnabled,
		s.ttlFor(kind),
		s.Issuer,
		now,
	)

	signer, err := s.Keys.ForKind(string(kind))
	if err != nil {
		return "", domain.Token{}, err
	}
	value, err := signer.Sign(claims)
	if err != nil {
		return "", domain.Token{}, fmt.Errorf("failed to sign %s token: %w", kind, err)
	}

	record := domain.Token{
		ID:        idx.New().String(),
		UserID:    user.ID,
		ClientID:  clientIDPtr,
		TokenHash: cryptox.FingerprintToken(value),
		Kind:      kind,
		ExpiresAt: claims.ExpiresAt.Time,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	}
	if err := s.Store.Tokens().CreateToken(ctx, record); err != nil {
		return "", domain.Token{}, fmt.Errorf("failed to persist %s token record: %w", kind, err)
	}

	return value, record, nil
}

// Verify checks a presented credential of the expected kind. The persisted
// record must exist, be unrevoked and unexpired, and the signature must
// verify with the matching family key. Missing record, bad signature and
// expiry are indistinguishable to the caller: all surface ErrTokenInvalid.
func (s *TokenService) Verify(
	ctx context.Context,
	value string,
	kind domain.TokenKind,
) (domain.Token, jwtx.Claims, error) {
	l := slogx.FromContext(ctx)

	fp := cryptox.FingerprintToken(value)
	record, err := s.Store.Tokens().GetValidByHash(ctx, fp, kind)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Token{}, jwtx.Claims{}, domain.ErrTokenInvalid
		}
		return domain.Token{}, jwtx.Claims{}, fmt.Errorf("token lookup failed: %w", err)
	}

	// Verify against the record's own kind: an api token presented where an
	// access token is accepted must check out against the access/api key.
	signer, err := s.Keys.ForKind(string(record.Kind))
	if err != nil {
		return domain.Token{}, jwtx.Claims{}, domain.ErrTokenInvalid
	}
	claims, err := signer.Verify(value)
	if err != nil {
		return domain.Token{}, jwtx.Claims{}, domain.ErrTokenInvalid
	}
	if claims.Kind != string(record.Kind) || claims.Subject != record.UserID {
		return domain.Token{}, jwtx.Claims{}, domain.ErrTokenInvalid
	}

	// Last-used stamping is bookkeeping; a failure must not fail an
	// otherwise valid verification.
	if err := s.Store.Tokens().Touch(ctx, fp, time.Now().UTC()); err != nil {
		l.Warn("failed to stamp token last_used_at", "error", err)
	}

	return record, claims, nil
}

// Refresh exchanges a live refresh token for a new access token. The user
// and client are re-resolved and must still be active. The refresh token is
// NOT rotated: it stays usable until its own expiry or explicit revocation.
func (s *TokenService) Refresh(
	ctx context.Context,
	refreshValue string,
	meta domain.RequestMeta,
) (string, error) {
	record, _, err := s.Verify(ctx, refreshValue, domain.TokenRefresh)
	if err != nil {
		return "", err
	}

	user, err := s.Store.Users().GetUserByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", domain.ErrTokenInvalid
		}
		return "", fmt.Errorf("failed to load token owner: %w", err)
	}
	if !user.CanAuthenticate() {
		return "", &domain.AccountNotActiveError{Subject: "user", Status: string(user.Status)}
	}

	var client *domain.Client
	if record.ClientID != nil {
		c, err := s.Store.Clients().GetClientByID(ctx, *record.ClientID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return "", domain.ErrTokenInvalid
			}
			return "", fmt.Errorf("failed to load token client: %w", err)
		}
		if !c.CanAuthenticate() {
			return "", &domain.AccountNotActiveError{Subject: "client", Status: string(c.Status)}
		}
		client = &c
	}

	access, _, err := s.Issue(ctx, user, client, domain.TokenAccess, meta)
	return access, err
}

// Revoke marks the credential's record revoked. Idempotent: revoking an
// already revoked or unknown value is not an error. Revoking a refresh
// token does not retroactively invalidate access tokens derived from it;
// those die on their own short horizon.
func (s *TokenService) Revoke(ctx context.Context, value string) error {
	return s.Store.Tokens().Revoke(ctx, cryptox.FingerprintToken(value))
}
