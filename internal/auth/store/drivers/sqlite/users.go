package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/finsight/authcore/internal/auth/domain"
)

type usersRepo struct {
	db querier
}

const userColumns = `id, email, password_hash, display_name, role, status,
	mfa_enabled, mfa_secret, last_login_at, created_at, updated_at`

func scanUser(row *sql.Row) (domain.User, error) {
	var (
		u         domain.User
		role      string
		status    string
		mfaSecret sql.NullString
		lastLogin sql.NullTime
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &role, &status,
		&u.MFAEnabled, &mfaSecret, &lastLogin, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	u.Role = domain.Role(role)
	u.Status = domain.UserStatus(status)
	u.MFASecret = mapNullStringPtr(mfaSecret)
	u.LastLoginAt = mapNullTimePtr(lastLogin)
	return u, nil
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, display_name, role, status, mfa_enabled, mfa_secret)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.DisplayName,
		string(u.Role), string(u.Status), u.MFAEnabled, mapOptionalString(u.MFASecret),
	)
	return mapConstraint(err)
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (r *usersRepo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, domain.NormalizeEmail(email)))
}

func (r *usersRepo) UpdatePasswordHash(ctx context.Context, userID, newHash string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET password_hash = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		newHash, userID)
	return err
}

func (r *usersRepo) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET last_login_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		at.UTC(), userID)
	return err
}

func (r *usersRepo) UpdateStatus(ctx context.Context, userID string, status domain.UserStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(status), userID)
	return err
}

func (r *usersRepo) SetMFA(ctx context.Context, userID string, enabled bool, secret *string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET mfa_enabled = ?, mfa_secret = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		enabled, mapOptionalString(secret), userID)
	return err
}
