package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/finsight/authcore/internal/auth/domain"
)

type tokensRepo struct {
	db querier
}

const tokenColumns = `id, user_id, client_id, token_hash, kind, expires_at,
	revoked, last_used_at, ip, user_agent, created_at, updated_at`

func scanToken(row *sql.Row) (domain.Token, error) {
	var (
		t        domain.Token
		clientID sql.NullString
		kind     string
		lastUsed sql.NullTime
	)
	err := row.Scan(
		&t.ID, &t.UserID, &clientID, &t.TokenHash, &kind, &t.ExpiresAt,
		&t.Revoked, &lastUsed, &t.IP, &t.UserAgent, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return domain.Token{}, mapNotFound(err)
	}
	t.ClientID = mapNullStringPtr(clientID)
	t.Kind = domain.TokenKind(kind)
	t.LastUsedAt = mapNullTimePtr(lastUsed)
	return t, nil
}

func (r *tokensRepo) CreateToken(ctx context.Context, t domain.Token) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tokens (id, user_id, client_id, token_hash, kind, expires_at, revoked, ip, user_agent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, mapOptionalString(t.ClientID), t.TokenHash,
		string(t.Kind), t.ExpiresAt.UTC(), t.Revoked, t.IP, t.UserAgent,
	)
	return mapConstraint(err)
}

// GetValidByHash filters revocation and expiry in SQL. kind=access also
// accepts kind=api rows; the substitution never runs the other way.
func (r *tokensRepo) GetValidByHash(ctx context.Context, hash string, kind domain.TokenKind) (domain.Token, error) {
	kinds := []any{string(kind)}
	clause := `kind = ?`
	if kind == domain.TokenAccess {
		clause = `kind IN (?, ?)`
		kinds = append(kinds, string(domain.TokenAPI))
	}

	args := append([]any{hash}, kinds...)
	args = append(args, time.Now().UTC())
	return scanToken(r.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM tokens
		 WHERE token_hash = ? AND `+clause+` AND revoked = 0 AND expires_at > ?`,
		args...))
}

func (r *tokensRepo) Revoke(ctx context.Context, hash string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE tokens SET revoked = 1, updated_at = CURRENT_TIMESTAMP WHERE token_hash = ?`,
		hash)
	return err
}

func (r *tokensRepo) RevokeAllForUser(ctx context.Context, userID string, kind domain.TokenKind) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE tokens SET revoked = 1, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND kind = ? AND revoked = 0`,
		userID, string(kind))
	return err
}

func (r *tokensRepo) RevokeAllForClient(ctx context.Context, clientID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE tokens SET revoked = 1, updated_at = CURRENT_TIMESTAMP
		WHERE client_id = ? AND revoked = 0`,
		clientID)
	return err
}

func (r *tokensRepo) Touch(ctx context.Context, hash string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE tokens SET last_used_at = ?, updated_at = CURRENT_TIMESTAMP WHERE token_hash = ?`,
		at.UTC(), hash)
	return err
}

func (r *tokensRepo) DeleteExpired(ctx context.Context, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM tokens WHERE expires_at <= ?`, now.UTC())
	return err
}
