package sqlite

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/finsight/authcore/internal/auth/domain"
	"github.com/finsight/authcore/internal/auth/store"
	"github.com/finsight/authcore/pkg/cryptox"
	"github.com/finsight/authcore/pkg/idx"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.ApplyMigrations())
	return s
}

func seedUser(t *testing.T, s *Store, email string) domain.User {
	t.Helper()

	u := domain.User{
		ID:           idx.New().String(),
		Email:        email,
		PasswordHash: "hash",
		DisplayName:  "Test User",
		Role:         domain.RoleUser,
		Status:       domain.UserActive,
	}
	require.NoError(t, s.Users().CreateUser(context.Background(), u))
	return u
}

func seedClient(t *testing.T, s *Store, userID string, status domain.ClientStatus, quota int64) domain.Client {
	t.Helper()

	c := domain.Client{
		ID:         idx.New().String(),
		UserID:     userID,
		SecretHash: "hash",
		Name:       "test-client",
		Status:     status,
		UsageQuota: quota,
		ResetAt:    time.Now().UTC().Add(24 * time.Hour),
	}
	require.NoError(t, s.Clients().CreateClient(context.Background(), c))
	return c
}

func TestUsersRepo(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	t.Run("create and fetch", func(t *testing.T) {
		u := seedUser(t, s, "alice@example.com")

		byID, err := s.Users().GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		require.Equal(t, u.Email, byID.Email)
		require.Equal(t, domain.UserActive, byID.Status)
		require.False(t, byID.MFAEnabled)
		require.Nil(t, byID.MFASecret)

		// Email lookup normalizes before matching.
		byEmail, err := s.Users().GetUserByEmail(ctx, "  ALICE@Example.COM ")
		require.NoError(t, err)
		require.Equal(t, u.ID, byEmail.ID)
	})

	t.Run("duplicate email", func(t *testing.T) {
		seedUser(t, s, "bob@example.com")
		err := s.Users().CreateUser(ctx, domain.User{
			ID:           idx.New().String(),
			Email:        "bob@example.com",
			PasswordHash: "hash",
			Role:         domain.RoleUser,
			Status:       domain.UserActive,
		})
		require.ErrorIs(t, err, store.ErrAlreadyExists)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := s.Users().GetUserByID(ctx, "missing")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("set and clear mfa", func(t *testing.T) {
		u := seedUser(t, s, "carol@example.com")
		secret := "JBSWY3DPEHPK3PXP"

		require.NoError(t, s.Users().SetMFA(ctx, u.ID, true, &secret))
		got, err := s.Users().GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		require.True(t, got.MFAEnabled)
		require.NotNil(t, got.MFASecret)
		require.Equal(t, secret, *got.MFASecret)

		require.NoError(t, s.Users().SetMFA(ctx, u.ID, false, nil))
		got, err = s.Users().GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		require.False(t, got.MFAEnabled)
		require.Nil(t, got.MFASecret)
	})

	t.Run("status transition", func(t *testing.T) {
		u := seedUser(t, s, "dave@example.com")
		require.NoError(t, s.Users().UpdateStatus(ctx, u.ID, domain.UserSuspended))

		got, err := s.Users().GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		require.Equal(t, domain.UserSuspended, got.Status)
		require.False(t, got.CanAuthenticate())
	})
}

func TestClientsRepo(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	owner := seedUser(t, s, "owner@example.com")

	t.Run("create and fetch", func(t *testing.T) {
		c := seedClient(t, s, owner.ID, domain.ClientPending, 100)

		got, err := s.Clients().GetClientByID(ctx, c.ID)
		require.NoError(t, err)
		require.Equal(t, owner.ID, got.UserID)
		require.Equal(t, domain.ClientPending, got.Status)
		require.EqualValues(t, 0, got.UsageCount)
		require.EqualValues(t, 100, got.UsageQuota)

		byOwner, err := s.Clients().GetClientByUserID(ctx, owner.ID)
		require.NoError(t, err)
		require.Equal(t, c.ID, byOwner.ID)
	})

	t.Run("quota is enforced at the ceiling", func(t *testing.T) {
		u := seedUser(t, s, "quota@example.com")
		c := seedClient(t, s, u.ID, domain.ClientActive, 3)
		now := time.Now().UTC()

		for i := range 3 {
			ok, err := s.Clients().ConsumeQuota(ctx, c.ID, now)
			require.NoError(t, err)
			require.True(t, ok, "slot %d should be admitted", i)
		}

		ok, err := s.Clients().ConsumeQuota(ctx, c.ID, now)
		require.NoError(t, err)
		require.False(t, ok)

		got, err := s.Clients().GetClientByID(ctx, c.ID)
		require.NoError(t, err)
		require.EqualValues(t, 3, got.UsageCount, "rejected call must not increment")
		require.NotNil(t, got.LastUsedAt)
	})

	t.Run("quota rejects non-active clients", func(t *testing.T) {
		u := seedUser(t, s, "pending@example.com")
		c := seedClient(t, s, u.ID, domain.ClientPending, 100)

		ok, err := s.Clients().ConsumeQuota(ctx, c.ID, time.Now().UTC())
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("reset due quotas", func(t *testing.T) {
		u := seedUser(t, s, "reset@example.com")
		c := seedClient(t, s, u.ID, domain.ClientActive, 2)
		now := time.Now().UTC()

		ok, err := s.Clients().ConsumeQuota(ctx, c.ID, now)
		require.NoError(t, err)
		require.True(t, ok)

		// Window already elapsed: the sweep zeroes usage and advances reset_at.
		require.NoError(t, s.Clients().ResetDueQuotas(ctx, c.ResetAt.Add(time.Second), 24*time.Hour))

		got, err := s.Clients().GetClientByID(ctx, c.ID)
		require.NoError(t, err)
		require.EqualValues(t, 0, got.UsageCount)
		require.True(t, got.ResetAt.After(c.ResetAt))
	})
}

func TestConsumeQuotaConcurrent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	owner := seedUser(t, s, "race@example.com")

	const quota = 5
	const attempts = 20
	c := seedClient(t, s, owner.ID, domain.ClientActive, quota)

	var wg sync.WaitGroup
	results := make(chan bool, attempts)
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Clients().ConsumeQuota(ctx, c.ID, time.Now().UTC())
			require.NoError(t, err)
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	var admitted int
	for ok := range results {
		if ok {
			admitted++
		}
	}
	require.Equal(t, quota, admitted, "exactly quota-many racers may win")

	got, err := s.Clients().GetClientByID(ctx, c.ID)
	require.NoError(t, err)
	require.EqualValues(t, quota, got.UsageCount)
}

func TestTokensRepo(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	user := seedUser(t, s, "tokens@example.com")
	client := seedClient(t, s, user.ID, domain.ClientActive, 100)

	newToken := func(kind domain.TokenKind, expiresAt time.Time) domain.Token {
		return domain.Token{
			ID:        idx.New().String(),
			UserID:    user.ID,
			ClientID:  &client.ID,
			TokenHash: cryptox.FingerprintToken(idx.New().String()),
			Kind:      kind,
			ExpiresAt: expiresAt,
		}
	}

	t.Run("valid lookup", func(t *testing.T) {
		tok := newToken(domain.TokenAccess, time.Now().UTC().Add(time.Hour))
		require.NoError(t, s.Tokens().CreateToken(ctx, tok))

		got, err := s.Tokens().GetValidByHash(ctx, tok.TokenHash, domain.TokenAccess)
		require.NoError(t, err)
		require.Equal(t, tok.ID, got.ID)
		require.Equal(t, user.ID, got.UserID)
		require.NotNil(t, got.ClientID)
		require.Equal(t, client.ID, *got.ClientID)
	})

	t.Run("expired rows are invisible", func(t *testing.T) {
		tok := newToken(domain.TokenAccess, time.Now().UTC().Add(-time.Minute))
		require.NoError(t, s.Tokens().CreateToken(ctx, tok))

		_, err := s.Tokens().GetValidByHash(ctx, tok.TokenHash, domain.TokenAccess)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("revoked rows are invisible", func(t *testing.T) {
		tok := newToken(domain.TokenAccess, time.Now().UTC().Add(time.Hour))
		require.NoError(t, s.Tokens().CreateToken(ctx, tok))
		require.NoError(t, s.Tokens().Revoke(ctx, tok.TokenHash))

		_, err := s.Tokens().GetValidByHash(ctx, tok.TokenHash, domain.TokenAccess)
		require.ErrorIs(t, err, store.ErrNotFound)

		// Revoking again is a no-op, not an error.
		require.NoError(t, s.Tokens().Revoke(ctx, tok.TokenHash))
	})

	t.Run("api substitutes for access but not the reverse", func(t *testing.T) {
		apiTok := newToken(domain.TokenAPI, time.Now().UTC().Add(time.Hour))
		require.NoError(t, s.Tokens().CreateToken(ctx, apiTok))

		got, err := s.Tokens().GetValidByHash(ctx, apiTok.TokenHash, domain.TokenAccess)
		require.NoError(t, err)
		require.Equal(t, domain.TokenAPI, got.Kind)

		accessTok := newToken(domain.TokenAccess, time.Now().UTC().Add(time.Hour))
		require.NoError(t, s.Tokens().CreateToken(ctx, accessTok))

		_, err = s.Tokens().GetValidByHash(ctx, accessTok.TokenHash, domain.TokenAPI)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("revoke all for user filters by kind", func(t *testing.T) {
		u := seedUser(t, s, "bulk@example.com")
		refresh := domain.Token{
			ID: idx.New().String(), UserID: u.ID,
			TokenHash: cryptox.FingerprintToken("bulk-refresh"),
			Kind:      domain.TokenRefresh, ExpiresAt: time.Now().UTC().Add(time.Hour),
		}
		access := domain.Token{
			ID: idx.New().String(), UserID: u.ID,
			TokenHash: cryptox.FingerprintToken("bulk-access"),
			Kind:      domain.TokenAccess, ExpiresAt: time.Now().UTC().Add(time.Hour),
		}
		require.NoError(t, s.Tokens().CreateToken(ctx, refresh))
		require.NoError(t, s.Tokens().CreateToken(ctx, access))

		require.NoError(t, s.Tokens().RevokeAllForUser(ctx, u.ID, domain.TokenRefresh))

		_, err := s.Tokens().GetValidByHash(ctx, refresh.TokenHash, domain.TokenRefresh)
		require.ErrorIs(t, err, store.ErrNotFound)
		_, err = s.Tokens().GetValidByHash(ctx, access.TokenHash, domain.TokenAccess)
		require.NoError(t, err, "other kinds survive the sweep")
	})

	t.Run("revoke all for client spans kinds", func(t *testing.T) {
		tok1 := newToken(domain.TokenAPI, time.Now().UTC().Add(time.Hour))
		tok2 := newToken(domain.TokenRefresh, time.Now().UTC().Add(time.Hour))
		require.NoError(t, s.Tokens().CreateToken(ctx, tok1))
		require.NoError(t, s.Tokens().CreateToken(ctx, tok2))

		require.NoError(t, s.Tokens().RevokeAllForClient(ctx, client.ID))

		_, err := s.Tokens().GetValidByHash(ctx, tok1.TokenHash, domain.TokenAPI)
		require.ErrorIs(t, err, store.ErrNotFound)
		_, err = s.Tokens().GetValidByHash(ctx, tok2.TokenHash, domain.TokenRefresh)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("delete expired", func(t *testing.T) {
		stale := newToken(domain.TokenAccess, time.Now().UTC().Add(-time.Hour))
		live := newToken(domain.TokenAccess, time.Now().UTC().Add(time.Hour))
		require.NoError(t, s.Tokens().CreateToken(ctx, stale))
		require.NoError(t, s.Tokens().CreateToken(ctx, live))

		require.NoError(t, s.Tokens().DeleteExpired(ctx, time.Now().UTC()))

		_, err := s.Tokens().GetValidByHash(ctx, live.TokenHash, domain.TokenAccess)
		require.NoError(t, err)

		var count int
		require.NoError(t, s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM tokens WHERE token_hash = ?`, stale.TokenHash).Scan(&count))
		require.Zero(t, count)
	})
}

func TestBackupCodesRepo(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	user := seedUser(t, s, "codes@example.com")

	hashes := make([]string, 10)
	for i := range hashes {
		hashes[i] = cryptox.FingerprintToken(fmt.Sprintf("code-%d", i))
	}

	require.NoError(t, s.BackupCodes().Replace(ctx, user.ID, hashes))

	count, err := s.BackupCodes().Count(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, 10, count)

	t.Run("consume is single-use", func(t *testing.T) {
		ok, err := s.BackupCodes().Consume(ctx, user.ID, hashes[0])
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = s.BackupCodes().Consume(ctx, user.ID, hashes[0])
		require.NoError(t, err)
		require.False(t, ok, "a burned code must never work twice")
	})

	t.Run("unknown code", func(t *testing.T) {
		ok, err := s.BackupCodes().Consume(ctx, user.ID, cryptox.FingerprintToken("never-issued"))
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("replace swaps the whole set", func(t *testing.T) {
		fresh := []string{cryptox.FingerprintToken("fresh-1"), cryptox.FingerprintToken("fresh-2")}
		require.NoError(t, s.BackupCodes().Replace(ctx, user.ID, fresh))

		count, err := s.BackupCodes().Count(ctx, user.ID)
		require.NoError(t, err)
		require.Equal(t, 2, count)

		ok, err := s.BackupCodes().Consume(ctx, user.ID, hashes[1])
		require.NoError(t, err)
		require.False(t, ok, "codes from the old set are gone")
	})

	t.Run("delete all", func(t *testing.T) {
		require.NoError(t, s.BackupCodes().DeleteAll(ctx, user.ID))
		count, err := s.BackupCodes().Count(ctx, user.ID)
		require.NoError(t, err)
		require.Zero(t, count)
	})
}

func TestConsumeBackupCodeConcurrent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	user := seedUser(t, s, "race-codes@example.com")

	hash := cryptox.FingerprintToken("contested-code")
	require.NoError(t, s.BackupCodes().Replace(ctx, user.ID, []string{hash}))

	const racers = 10
	var wg sync.WaitGroup
	results := make(chan bool, racers)
	for range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.BackupCodes().Consume(ctx, user.ID, hash)
			require.NoError(t, err)
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	var winners int
	for ok := range results {
		if ok {
			winners++
		}
	}
	require.Equal(t, 1, winners, "exactly one racer may burn the code")
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	u := domain.User{
		ID:           idx.New().String(),
		Email:        "atomic@example.com",
		PasswordHash: "hash",
		Role:         domain.RoleUser,
		Status:       domain.UserActive,
	}

	err := s.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().CreateUser(ctx, u); err != nil {
			return err
		}
		return fmt.Errorf("boom")
	})
	require.Error(t, err)

	_, err = s.Users().GetUserByID(ctx, u.ID)
	require.ErrorIs(t, err, store.ErrNotFound, "rolled-back insert must not be visible")
}

func TestWithTxCommits(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	u := domain.User{
		ID:           idx.New().String(),
		Email:        "committed@example.com",
		PasswordHash: "hash",
		Role:         domain.RoleUser,
		Status:       domain.UserActive,
	}

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		return tx.Users().CreateUser(ctx, u)
	}))

	got, err := s.Users().GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, u.Email, got.Email)
}
