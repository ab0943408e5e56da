package sqlite

import (
	"context"
	"database/sql"

	"github.com/finsight/authcore/internal/auth/store"
)

type txStore struct {
	tx *sql.Tx
}

func newTx(tx *sql.Tx) *txStore {
	return &txStore{tx: tx}
}

func (t *txStore) Commit() error   { return t.tx.Commit() }
func (t *txStore) Rollback() error { return t.tx.Rollback() }

func (t *txStore) Close() error { return nil } // nothing to close; the outer DB stays open

// Ping is a no-op inside a transaction; the connection already exists.
func (t *txStore) Ping(ctx context.Context) error { return nil }

func (t *txStore) Tx(ctx context.Context) (store.Tx, error) {
	// Nested tx not supported; could emulate with SAVEPOINT if needed
	return nil, sql.ErrTxDone
}

func (t *txStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return sql.ErrTxDone
}

func (t *txStore) Users() store.Users             { return &usersRepo{db: t.tx} }
func (t *txStore) Clients() store.Clients         { return &clientsRepo{db: t.tx} }
func (t *txStore) Tokens() store.Tokens           { return &tokensRepo{db: t.tx} }
func (t *txStore) BackupCodes() store.BackupCodes { return &backupCodesRepo{db: t.tx} }

func (t *txStore) ApplyMigrations() error { return nil } // migrations run before any tx starts
