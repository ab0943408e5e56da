package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/finsight/authcore/internal/auth/domain"
	"github.com/finsight/authcore/internal/auth/store"
	"github.com/finsight/authcore/pkg/cryptox"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	backupCodeCount  = 10 // codes issued per enablement
	backupCodeLength = 10 // chars from the lowercase unambiguous alphabet

	totpPeriod = 30 // seconds per TOTP step
	totpSkew   = 2  // accepted steps either side, absorbs clock drift
)

var (
	ErrMFANotEnabled     = errors.New("MFA not enabled for this user")
	ErrMFAAlreadyEnabled = errors.New("MFA already enabled for this user")
)

// MFAService drives the per-user state machine
// disabled -> secret-generated -> enabled, and enabled -> disabled.
type MFAService struct {
	Store  store.Store
	Issuer string // issuer label in the provisioning URI
}

// GenerateSecret creates a fresh TOTP secret and provisioning URI for the
// user. Nothing is persisted: the secret stays pending until Enable
// confirms the user can actually produce codes from it, so an abandoned
// enrolment can never lock an account.
func (s *MFAService) GenerateSecret(ctx context.Context, user domain.User) (domain.MFAEnrollment, error) {
	if user.MFAEnabled {
		return domain.MFAEnrollment{}, ErrMFAAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.Issuer,
		AccountName: user.Email,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return domain.MFAEnrollment{}, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	return domain.MFAEnrollment{
		Secret:  key.Secret(),
		QRCode:  key.URL(),
		Issuer:  s.Issuer,
		Account: user.Email,
	}, nil
}

// Enable verifies the candidate code against the pending secret and, only
// on success, persists {mfaEnabled, secret, 10 fresh backup codes} in one
// transaction. A failed verification changes nothing.
//
// The plaintext backup codes are returned exactly once; only fingerprints
// are stored.
func (s *MFAService) Enable(ctx context.Context, userID, secret, candidateCode string) ([]string, error) {
	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}

	if !VerifyTOTP(candidateCode, secret) {
		return nil, domain.ErrMFACodeInvalid
	}

	codes := make([]string, backupCodeCount)
	hashes := make([]string, backupCodeCount)
	for i := range codes {
		code, err := cryptox.GenerateHumanCode(backupCodeLength)
		if err != nil {
			return nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		codes[i] = code
		hashes[i] = cryptox.FingerprintToken(code)
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.BackupCodes().Replace(ctx, userID, hashes); err != nil {
			return fmt.Errorf("failed to store backup codes: %w", err)
		}
		if err := tx.Users().SetMFA(ctx, userID, true, &secret); err != nil {
			return fmt.Errorf("failed to enable MFA: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return codes, nil
}

// Disable clears the flag, secret and backup codes in one transaction.
func (s *MFAService) Disable(ctx context.Context, userID string) error {
	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.BackupCodes().DeleteAll(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete backup codes: %w", err)
		}
		if err := tx.Users().SetMFA(ctx, userID, false, nil); err != nil {
			return fmt.Errorf("failed to disable MFA: %w", err)
		}
		return nil
	})
}

// ConsumeBackupCode burns one single-use backup code. The store removes the
// code with one guarded DELETE, so when concurrent requests race on the
// same code exactly one wins; every loser (and every reuse) reports
// ErrBackupCodeInvalid.
func (s *MFAService) ConsumeBackupCode(ctx context.Context, userID, candidateCode string) error {
	normalized := NormalizeBackupCode(candidateCode)
	if normalized == "" {
		return domain.ErrBackupCodeInvalid
	}

	consumed, err := s.Store.BackupCodes().Consume(ctx, userID, cryptox.FingerprintToken(normalized))
	if err != nil {
		return fmt.Errorf("failed to consume backup code: %w", err)
	}
	if !consumed {
		return domain.ErrBackupCodeInvalid
	}
	return nil
}

// RemainingBackupCodes reports how many unused codes the user still holds.
func (s *MFAService) RemainingBackupCodes(ctx context.Context, userID string) (int, error) {
	return s.Store.BackupCodes().Count(ctx, userID)
}

// VerifyTOTP is the pure, stateless code check used both at enable-time and
// at login-time. The skew window tolerates +-2 time steps of clock drift.
func VerifyTOTP(candidateCode, secret string) bool {
	ok, err := totp.ValidateCustom(
		strings.TrimSpace(candidateCode),
		secret,
		time.Now().UTC(),
		totp.ValidateOpts{
			Period:    totpPeriod,
			Skew:      totpSkew,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		},
	)
	return err == nil && ok
}

// NormalizeBackupCode strips all whitespace and case-folds a transcribed
// code. Codes are generated from a lowercase alphabet, so folding is
// lossless.
func NormalizeBackupCode(code string) string {
	return strings.ToLower(strings.Join(strings.Fields(code), ""))
}
