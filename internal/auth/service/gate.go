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
	"github.com/finsight/authcore/pkg/slogx"
)

// ClientGate reads and enforces client approval status and owns the
// per-period usage accounting. It never promotes a client to active; the
// one state it may create is pending, when a password login arrives for a
// user who owns no client yet.
type ClientGate struct {
	Store        store.Store
	DefaultQuota int64
	QuotaPeriod  time.Duration
}

// BuildPendingClient constructs (without persisting) a new pending client
// and its plaintext secret. The caller decides the transaction scope; the
// secret is only recoverable from the return value.
func (g *ClientGate) BuildPendingClient(userID, name, description string) (domain.Client, string, error) {
	secret, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.Client{}, "", err
	}
	secretHash, err := cryptox.HashPassword(secret)
	if err != nil {
		return domain.Client{}, "", err
	}

	return domain.Client{
		ID:          idx.New().String(),
		UserID:      userID,
		SecretHash:  secretHash,
		Name:        name,
		Description: description,
		Status:      domain.ClientPending,
		UsageQuota:  g.DefaultQuota,
		ResetAt:     time.Now().UTC().Add(g.QuotaPeriod),
	}, secret, nil
}

// EnsureClientForUser returns the user's client, lazily creating a pending
// one when none exists. The created flag tells the caller the login must be
// rejected with the awaiting-approval signal rather than silently granted.
func (g *ClientGate) EnsureClientForUser(ctx context.Context, userID, name string) (domain.Client, bool, error) {
	client, err := g.Store.Clients().GetClientByUserID(ctx, userID)
	if err == nil {
		return client, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.Client{}, false, fmt.Errorf("failed to load client: %w", err)
	}

	client, _, err = g.BuildPendingClient(userID, name, "")
	if err != nil {
		return domain.Client{}, false, err
	}
	if err := g.Store.Clients().CreateClient(ctx, client); err != nil {
		return domain.Client{}, false, fmt.Errorf("failed to create pending client: %w", err)
	}

	slogx.FromContext(ctx).Info("auto-created pending client",
		"user_id", userID, "client_id", client.ID)
	return client, true, nil
}

// CheckAndConsumeQuota admits one operation for the client. The store runs
// a single conditional UPDATE carrying both guards (status=active,
// usage_count < usage_quota), so two concurrent requests against the last
// quota slot produce exactly one success. Only on rejection is the row
// re-read to decide which error to report.
func (g *ClientGate) CheckAndConsumeQuota(ctx context.Context, clientID string) error {
	consumed, err := g.Store.Clients().ConsumeQuota(ctx, clientID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to consume quota: %w", err)
	}
	if consumed {
		return nil
	}

	client, err := g.Store.Clients().GetClientByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.ErrInvalidCredentials
		}
		return fmt.Errorf("failed to load client: %w", err)
	}
	if client.Status != domain.ClientActive {
		return &domain.AccountNotActiveError{Subject: "client", Status: string(client.Status)}
	}
	return &domain.QuotaExceededError{ResetAt: client.ResetAt}
}

// RequireActive loads a client and rejects any non-active status.
func (g *ClientGate) RequireActive(ctx context.Context, clientID string) (domain.Client, error) {
	client, err := g.Store.Clients().GetClientByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Client{}, domain.ErrInvalidCredentials
		}
		return domain.Client{}, fmt.Errorf("failed to load client: %w", err)
	}
	if !client.CanAuthenticate() {
		return domain.Client{}, &domain.AccountNotActiveError{Subject: "client", Status: string(client.Status)}
	}
	return client, nil
}
