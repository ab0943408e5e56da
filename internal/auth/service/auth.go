package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/finsight/authcore/internal/auth/domain"
	"github.com/finsight/authcore/internal/auth/session"
	"github.com/finsight/authcore/internal/auth/store"
	"github.com/finsight/authcore/pkg/cryptox"
	"github.com/finsight/authcore/pkg/idx"
	"github.com/finsight/authcore/pkg/jwtx"
	"github.com/finsight/authcore/pkg/ratex"
	"github.com/finsight/authcore/pkg/slogx"
)

const minPasswordLength = 8

var ErrWeakPassword = fmt.Errorf("password must be at least %d characters", minPasswordLength)

// AuthService is the orchestrator: the single entry point the transport
// layer invokes. It composes the store, token, MFA, gate and session
// components into the register/login/2FA/refresh/logout/change-credential
// flows.
type AuthService struct {
	Store    store.Store
	Tokens   *TokenService
	MFA      *MFAService
	Gate     *ClientGate
	Sessions *session.Registry

	// Attempts throttles credential guessing per principal. Nil disables
	// throttling (tests).
	Attempts *ratex.Limiter
}

type RegisterParams struct {
	ClientName  string
	Email       string
	Password    string
	Description string
	Meta        domain.RequestMeta
}

// RegisterResult carries the client secret in plaintext exactly once; it is
// never retrievable again.
type RegisterResult struct {
	UserID       string
	ClientID     string
	ClientSecret string
	Status       domain.ClientStatus
	SessionID    string
}

type LoginParams struct {
	// Password flow
	Email    string
	Password string

	// Client-credentials flow
	ClientID     string
	ClientSecret string

	Meta domain.RequestMeta
}

// LoginResult is one of three shapes: tokens (fully authenticated), a 2FA
// challenge (RequireTwoFactor + UserID only, never the secret), or the
// awaiting-token-generation signal for integrators that should mint API
// tokens explicitly.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	SessionID    string

	RequireTwoFactor bool
	UserID           string

	RequiresTokenGeneration bool
}

type LogoutParams struct {
	AccessToken  string
	RefreshToken string
	SessionID    string
}

// Register creates the user and their pending client in one transaction:
// a failure at any point leaves neither row behind.
func (s *AuthService) Register(ctx context.Context, p RegisterParams) (RegisterResult, error) {
	l := slogx.FromContext(ctx)

	email := domain.NormalizeEmail(p.Email)
	if email == "" || p.ClientName == "" {
		return RegisterResult{}, domain.ErrInvalidCredentials
	}
	if len(p.Password) < minPasswordLength {
		return RegisterResult{}, ErrWeakPassword
	}

	passwordHash, err := cryptox.HashPassword(p.Password)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("failed to hash password: %w", err)
	}

	user := domain.User{
		ID:           idx.New().String(),
		Email:        email,
		PasswordHash: passwordHash,
		DisplayName:  p.ClientName,
		Role:         domain.RoleUser,
		Status:       domain.UserActive,
	}

	client, clientSecret, err := s.Gate.BuildPendingClient(user.ID, p.ClientName, p.Description)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("failed to build client: %w", err)
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().CreateUser(ctx, user); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				return domain.ErrConflictingRegistration
			}
			return fmt.Errorf("failed to create user: %w", err)
		}
		if err := tx.Clients().CreateClient(ctx, client); err != nil {
			return fmt.Errorf("failed to create client: %w", err)
		}
		return nil
	})
	if err != nil {
		return RegisterResult{}, err
	}

	sess := s.Sessions.Create(user.ID)
	l.Info("user registered", "user_id", user.ID, "client_id", client.ID)

	return RegisterResult{
		UserID:       user.ID,
		ClientID:     client.ID,
		ClientSecret: clientSecret,
		Status:       client.Status,
		SessionID:    sess.ID,
	}, nil
}

// Login authenticates either a user (email+password) or a client
// (id+secret). Which flow runs depends on which credential pair is set.
func (s *AuthService) Login(ctx context.Context, p LoginParams) (LoginResult, error) {
	if p.ClientID != "" {
		return s.loginClientCredentials(ctx, p)
	}
	return s.loginPassword(ctx, p)
}

func (s *AuthService) loginPassword(ctx context.Context, p LoginParams) (LoginResult, error) {
	l := slogx.FromContext(ctx)

	email := domain.NormalizeEmail(p.Email)
	key := "pwd:" + email
	if !s.allow(key) {
		return LoginResult{}, domain.ErrTooManyAttempts
	}

	user, err := s.Store.Users().GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return LoginResult{}, domain.ErrInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("failed to load user: %w", err)
	}
	if !user.CanAuthenticate() {
		return LoginResult{}, &domain.AccountNotActiveError{Subject: "user", Status: string(user.Status)}
	}
	if cryptox.VerifyPassword(p.Password, user.PasswordHash) != nil {
		l.Info("password verification failed", "user_id", user.ID)
		return LoginResult{}, domain.ErrInvalidCredentials
	}

	// Resolve the client; a user without one gets a pending client created
	// on the spot and the same awaiting-approval rejection. Access is never
	// silently granted here.
	client, created, err := s.Gate.EnsureClientForUser(ctx, user.ID, user.DisplayName)
	if err != nil {
		return LoginResult{}, err
	}
	if created || client.Status != domain.ClientActive {
		return LoginResult{}, &domain.AccountNotActiveError{Subject: "client", Status: string(client.Status)}
	}

	if user.MFAEnabled {
		// No tokens yet: the caller must complete the 2FA handshake. Only
		// the user id crosses the boundary, never the secret.
		s.forget(key)
		return LoginResult{RequireTwoFactor: true, UserID: user.ID}, nil
	}

	s.forget(key)
	return s.finishLogin(ctx, user, &client, p.Meta)
}

func (s *AuthService) loginClientCredentials(ctx context.Context, p LoginParams) (LoginResult, error) {
	l := slogx.FromContext(ctx)

	key := "client:" + p.ClientID
	if !s.allow(key) {
		return LoginResult{}, domain.ErrTooManyAttempts
	}

	client, err := s.Store.Clients().GetClientByID(ctx, p.ClientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return LoginResult{}, domain.ErrInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("failed to load client: %w", err)
	}
	if cryptox.VerifyPassword(p.ClientSecret, client.SecretHash) != nil {
		l.Info("client secret verification failed", "client_id", client.ID)
		return LoginResult{}, domain.ErrInvalidCredentials
	}
	if !client.CanAuthenticate() {
		return LoginResult{}, &domain.AccountNotActiveError{Subject: "client", Status: string(client.Status)}
	}

	user, err := s.Store.Users().GetUserByID(ctx, client.UserID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("failed to load client owner: %w", err)
	}
	if !user.CanAuthenticate() {
		return LoginResult{}, &domain.AccountNotActiveError{Subject: "user", Status: string(user.Status)}
	}

	s.forget(key)
	result, err := s.finishLogin(ctx, user, &client, p.Meta)
	if err != nil {
		return LoginResult{}, err
	}
	// Machine callers holding client credentials should mint a long-lived
	// API token rather than lean on the short access token.
	result.RequiresTokenGeneration = true
	return result, nil
}

// VerifyTwoFactor completes a pending 2FA login with a TOTP code.
func (s *AuthService) VerifyTwoFactor(ctx context.Context, userID, code string, meta domain.RequestMeta) (LoginResult, error) {
	key := "mfa:" + userID
	if !s.allow(key) {
		return LoginResult{}, domain.ErrTooManyAttempts
	}

	user, client, err := s.resumeTwoFactor(ctx, userID)
	if err != nil {
		return LoginResult{}, err
	}
	if user.MFASecret == nil || !VerifyTOTP(code, *user.MFASecret) {
		return LoginResult{}, domain.ErrMFACodeInvalid
	}

	s.forget(key)
	return s.finishLogin(ctx, user, &client, meta)
}

// VerifyBackupCode completes a pending 2FA login by burning one single-use
// backup code.
func (s *AuthService) VerifyBackupCode(ctx context.Context, userID, code string, meta domain.RequestMeta) (LoginResult, error) {
	key := "mfa:" + userID
	if !s.allow(key) {
		return LoginResult{}, domain.ErrTooManyAttempts
	}

	user, client, err := s.resumeTwoFactor(ctx, userID)
	if err != nil {
		return LoginResult{}, err
	}
	if err := s.MFA.ConsumeBackupCode(ctx, userID, code); err != nil {
		return LoginResult{}, err
	}

	s.forget(key)
	return s.finishLogin(ctx, user, &client, meta)
}

// resumeTwoFactor re-validates the preconditions of the first login step;
// the 2FA handshake carries only the user id, so nothing can be assumed
// still true.
func (s *AuthService) resumeTwoFactor(ctx context.Context, userID string) (domain.User, domain.Client, error) {
	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, domain.Client{}, domain.ErrInvalidCredentials
		}
		return domain.User{}, domain.Client{}, fmt.Errorf("failed to load user: %w", err)
	}
	if !user.CanAuthenticate() {
		return domain.User{}, domain.Client{}, &domain.AccountNotActiveError{Subject: "user", Status: string(user.Status)}
	}
	if !user.MFAEnabled {
		return domain.User{}, domain.Client{}, domain.ErrMFACodeInvalid
	}

	client, err := s.Store.Clients().GetClientByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, domain.Client{}, &domain.AccountNotActiveError{Subject: "client", Status: string(domain.ClientPending)}
		}
		return domain.User{}, domain.Client{}, fmt.Errorf("failed to load client: %w", err)
	}
	if client.Status != domain.ClientActive {
		return domain.User{}, domain.Client{}, &domain.AccountNotActiveError{Subject: "client", Status: string(client.Status)}
	}

	return user, client, nil
}

// finishLogin is the single success path: stale sessions out, tokens
// issued, one fresh session in, bookkeeping stamped. Session creation
// failures cannot occur locally, and bookkeeping failures are logged, not
// surfaced - token issuance is the authoritative step.
func (s *AuthService) finishLogin(
	ctx context.Context,
	user domain.User,
	client *domain.Client,
	meta domain.RequestMeta,
) (LoginResult, error) {
	l := slogx.FromContext(ctx)
	now := time.Now().UTC()

	// Single-active-session-set semantics: a new login displaces every
	// session the user had.
	s.Sessions.DeleteForUser(user.ID)

	access, _, err := s.Tokens.Issue(ctx, user, client, domain.TokenAccess, meta)
	if err != nil {
		return LoginResult{}, err
	}
	refresh, _, err := s.Tokens.Issue(ctx, user, client, domain.TokenRefresh, meta)
	if err != nil {
		return LoginResult{}, err
	}

	sess := s.Sessions.Create(user.ID)

	if err := s.Store.Users().UpdateLastLogin(ctx, user.ID, now); err != nil {
		l.Warn("failed to stamp last_login_at", "user_id", user.ID, "error", err)
	}
	if client != nil {
		if err := s.Store.Clients().Touch(ctx, client.ID, now); err != nil {
			l.Warn("failed to stamp client last_used_at", "client_id", client.ID, "error", err)
		}
	}

	l.Info("login complete", "user_id", user.ID)
	return LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
		SessionID:    sess.ID,
		UserID:       user.ID,
	}, nil
}

// RefreshAccessToken exchanges a live refresh token for a new access token.
func (s *AuthService) RefreshAccessToken(ctx context.Context, refreshToken string, meta domain.RequestMeta) (string, error) {
	return s.Tokens.Refresh(ctx, refreshToken, meta)
}

// Logout is best-effort and always succeeds locally: sessions are cleared
// even when token revocation fails, and nothing is reported to the caller.
func (s *AuthService) Logout(ctx context.Context, p LogoutParams) {
	l := slogx.FromContext(ctx)

	var userID string

	if p.AccessToken != "" {
		if record, _, err := s.Tokens.Verify(ctx, p.AccessToken, domain.TokenAccess); err == nil {
			userID = record.UserID
		}
		if err := s.Tokens.Revoke(ctx, p.AccessToken); err != nil {
			l.Warn("failed to revoke access token on logout", "error", err)
		}
	}
	if p.RefreshToken != "" {
		if userID == "" {
			if record, _, err := s.Tokens.Verify(ctx, p.RefreshToken, domain.TokenRefresh); err == nil {
				userID = record.UserID
			}
		}
		if err := s.Tokens.Revoke(ctx, p.RefreshToken); err != nil {
			l.Warn("failed to revoke refresh token on logout", "error", err)
		}
	}

	if p.SessionID != "" {
		if sess, ok := s.Sessions.Get(p.SessionID); ok && userID == "" {
			userID = sess.UserID
		}
		s.Sessions.Delete(p.SessionID)
	}
	if userID != "" {
		s.Sessions.DeleteForUser(userID)
	}
}

// ChangePassword verifies the current password, swaps the hash and revokes
// every refresh token in one transaction, then rebuilds a single session
// for the caller. Other devices must re-authenticate; their access tokens
// die on their own short horizon.
func (s *AuthService) ChangePassword(ctx context.Context, userID, current, newPassword string) (string, error) {
	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", domain.ErrInvalidCredentials
		}
		return "", fmt.Errorf("failed to load user: %w", err)
	}
	if cryptox.VerifyPassword(current, user.PasswordHash) != nil {
		return "", domain.ErrInvalidCredentials
	}
	if len(newPassword) < minPasswordLength {
		return "", ErrWeakPassword
	}

	newHash, err := cryptox.HashPassword(newPassword)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().UpdatePasswordHash(ctx, userID, newHash); err != nil {
			return fmt.Errorf("failed to update password: %w", err)
		}
		return tx.Tokens().RevokeAllForUser(ctx, userID, domain.TokenRefresh)
	})
	if err != nil {
		return "", err
	}

	s.Sessions.DeleteForUser(userID)
	sess := s.Sessions.Create(userID)
	slogx.FromContext(ctx).Info("password changed", "user_id", userID)
	return sess.ID, nil
}

// ChangeClientSecret rotates the client secret and revokes every token of
// every kind tied to the client. The new secret is returned once.
func (s *AuthService) ChangeClientSecret(ctx context.Context, clientID, currentSecret string) (string, error) {
	client, err := s.Store.Clients().GetClientByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", domain.ErrInvalidCredentials
		}
		return "", fmt.Errorf("failed to load client: %w", err)
	}
	if cryptox.VerifyPassword(currentSecret, client.SecretHash) != nil {
		return "", domain.ErrInvalidCredentials
	}

	newSecret, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", err
	}
	newHash, err := cryptox.HashPassword(newSecret)
	if err != nil {
		return "", fmt.Errorf("failed to hash client secret: %w", err)
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Clients().UpdateSecretHash(ctx, clientID, newHash); err != nil {
			return fmt.Errorf("failed to rotate client secret: %w", err)
		}
		return tx.Tokens().RevokeAllForClient(ctx, clientID)
	})
	if err != nil {
		return "", err
	}

	slogx.FromContext(ctx).Info("client secret rotated", "client_id", clientID)
	return newSecret, nil
}

// GenerateAPIToken mints a long-lived API token for an active client after
// verifying its credentials.
func (s *AuthService) GenerateAPIToken(ctx context.Context, clientID, clientSecret string, meta domain.RequestMeta) (string, time.Time, error) {
	client, err := s.Gate.RequireActive(ctx, clientID)
	if err != nil {
		return "", time.Time{}, err
	}
	if cryptox.VerifyPassword(clientSecret, client.SecretHash) != nil {
		return "", time.Time{}, domain.ErrInvalidCredentials
	}

	user, err := s.Store.Users().GetUserByID(ctx, client.UserID)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to load client owner: %w", err)
	}
	if !user.CanAuthenticate() {
		return "", time.Time{}, &domain.AccountNotActiveError{Subject: "user", Status: string(user.Status)}
	}

	value, record, err := s.Tokens.Issue(ctx, user, &client, domain.TokenAPI, meta)
	if err != nil {
		return "", time.Time{}, err
	}
	return value, record.ExpiresAt, nil
}

// EnrollMFA starts TOTP enrolment: a pending secret and provisioning URI,
// nothing persisted.
func (s *AuthService) EnrollMFA(ctx context.Context, userID string) (domain.MFAEnrollment, error) {
	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.MFAEnrollment{}, domain.ErrInvalidCredentials
		}
		return domain.MFAEnrollment{}, fmt.Errorf("failed to load user: %w", err)
	}
	return s.MFA.GenerateSecret(ctx, user)
}

// EnableMFA confirms the pending secret with a live code and returns the
// one-time backup codes.
func (s *AuthService) EnableMFA(ctx context.Context, userID, secret, code string) ([]string, error) {
	return s.MFA.Enable(ctx, userID, secret, code)
}

// DisableMFA turns MFA off. While MFA is enabled a valid TOTP code is
// required; the code may be omitted only when MFA is already off (no-op).
func (s *AuthService) DisableMFA(ctx context.Context, userID, code string) error {
	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.ErrInvalidCredentials
		}
		return fmt.Errorf("failed to load user: %w", err)
	}
	if !user.MFAEnabled {
		return nil
	}
	if user.MFASecret == nil || !VerifyTOTP(code, *user.MFASecret) {
		return domain.ErrMFACodeInvalid
	}
	return s.MFA.Disable(ctx, userID)
}

// Authorize is the per-request gate for the API surface: it verifies an
// access (or substituting api) token and consumes one quota slot for the
// owning client.
func (s *AuthService) Authorize(ctx context.Context, accessToken string) (jwtx.Claims, error) {
	record, claims, err := s.Tokens.Verify(ctx, accessToken, domain.TokenAccess)
	if err != nil {
		return jwtx.Claims{}, err
	}
	if record.ClientID != nil {
		if err := s.Gate.CheckAndConsumeQuota(ctx, *record.ClientID); err != nil {
			return jwtx.Claims{}, err
		}
	}
	return claims, nil
}

func (s *AuthService) allow(key string) bool {
	if s.Attempts == nil {
		return true
	}
	return s.Attempts.Allow(key)
}

func (s *AuthService) forget(key string) {
	if s.Attempts != nil {
		s.Attempts.Forget(key)
	}
}
