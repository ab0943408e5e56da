package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/finsight/authcore/internal/auth/domain"
)

type clientsRepo struct {
	db querier
}

const clientColumns = `id, user_id, secret_hash, name, description, status,
	usage_count, usage_quota, reset_at, last_used_at, created_at, updated_at`

func scanClient(row *sql.Row) (domain.Client, error) {
	var (
		c        domain.Client
		status   string
		lastUsed sql.NullTime
	)
	err := row.Scan(
		&c.ID, &c.UserID, &c.SecretHash, &c.Name, &c.Description, &status,
		&c.UsageCount, &c.UsageQuota, &c.ResetAt, &lastUsed, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return domain.Client{}, mapNotFound(err)
	}
	c.Status = domain.ClientStatus(status)
	c.LastUsedAt = mapNullTimePtr(lastUsed)
	return c, nil
}

func (r *clientsRepo) CreateClient(ctx context.Context, c domain.Client) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO clients (id, user_id, secret_hash, name, description, status, usage_count, usage_quota, reset_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.SecretHash, c.Name, c.Description,
		string(c.Status), c.UsageCount, c.UsageQuota, c.ResetAt.UTC(),
	)
	return mapConstraint(err)
}

func (r *clientsRepo) GetClientByID(ctx context.Context, id string) (domain.Client, error) {
	return scanClient(r.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = ?`, id))
}

func (r *clientsRepo) GetClientByUserID(ctx context.Context, userID string) (domain.Client, error) {
	return scanClient(r.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE user_id = ? ORDER BY created_at LIMIT 1`, userID))
}

func (r *clientsRepo) UpdateSecretHash(ctx context.Context, clientID, secretHash string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE clients SET secret_hash = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		secretHash, clientID)
	return err
}

func (r *clientsRepo) UpdateStatus(ctx context.Context, clientID string, status domain.ClientStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE clients SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(status), clientID)
	return err
}

func (r *clientsRepo) Touch(ctx context.Context, clientID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE clients SET last_used_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		at.UTC(), clientID)
	return err
}

// ConsumeQuota is the single atomic read-check-increment. The WHERE clause
// carries both guards, so two concurrent calls against a client one short of
// its ceiling produce exactly one affected row.
func (r *clientsRepo) ConsumeQuota(ctx context.Context, clientID string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE clients
		SET usage_count = usage_count + 1,
		    last_used_at = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'active' AND usage_count < usage_quota`,
		now.UTC(), clientID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *clientsRepo) ResetDueQuotas(ctx context.Context, now time.Time, period time.Duration) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE clients
		SET usage_count = 0,
		    reset_at = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE reset_at <= ?`,
		now.Add(period).UTC(), now.UTC())
	return err
}
