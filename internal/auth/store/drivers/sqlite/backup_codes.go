package sqlite

import (
	"context"
)

type backupCodesRepo struct {
	db querier
}

func (r *backupCodesRepo) Replace(ctx context.Context, userID string, codeHashes []string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM backup_codes WHERE user_id = ?`, userID); err != nil {
		return err
	}
	for _, hash := range codeHashes {
		if _, err := r.db.ExecContext(ctx,
			`INSERT INTO backup_codes (user_id, code_hash) VALUES (?, ?)`,
			userID, hash); err != nil {
			return err
		}
	}
	return nil
}

// Consume deletes the matching code in one statement. sqlite serializes
// writers, so when two requests race on the same code exactly one DELETE
// reports an affected row.
func (r *backupCodesRepo) Consume(ctx context.Context, userID, codeHash string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM backup_codes WHERE user_id = ? AND code_hash = ?`,
		userID, codeHash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *backupCodesRepo) DeleteAll(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM backup_codes WHERE user_id = ?`, userID)
	return err
}

func (r *backupCodesRepo) Count(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM backup_codes WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}
