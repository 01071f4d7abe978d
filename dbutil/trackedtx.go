package dbutil

import (
	"context"
	"database/sql"
)

// Tx wraps a transaction so that deferred MaybeRollback is a no-op after a
// successful Commit, and so queries are rebound for the dialect.
type Tx struct {
	tx      *sql.Tx
	dialect Dialect
}

func (tt *Tx) Tx() *sql.Tx {
	return tt.tx
}

func NewTx(ctx context.Context, db *DB, opts *sql.TxOptions) (*Tx, error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx, dialect: db.Dialect}, nil
}

func (tt *Tx) MaybeRollback() {
	if tt.tx != nil {
		tt.tx.Rollback()
		tt.tx = nil
	}
}

func (tt *Tx) Commit() error {
	err := tt.tx.Commit()
	if err == nil {
		tt.tx = nil
	}
	return err
}

func (tt *Tx) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return tt.tx.QueryRowContext(ctx, tt.dialect.Rebind(query), args...)
}

func (tt *Tx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return tt.tx.QueryContext(ctx, tt.dialect.Rebind(query), args...)
}

func (tt *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return tt.tx.ExecContext(ctx, tt.dialect.Rebind(query), args...)
}

// The same helpers on the database handle itself, for statements that
// don't need a transaction.

func (db *DB) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return db.QueryRowContext(ctx, db.Dialect.Rebind(query), args...)
}

func (db *DB) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.QueryContext(ctx, db.Dialect.Rebind(query), args...)
}

func (db *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.ExecContext(ctx, db.Dialect.Rebind(query), args...)
}
