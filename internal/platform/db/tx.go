package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

const connKey contextKey = "db_conn"

// Conn is the subset of pgx operations repositories need. Both *pgxpool.Pool
// and pgx.Tx satisfy it.
type Conn interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// ConnFromContext returns the connection bound to ctx by WithTx, or nil when
// the caller is not inside a transaction.
func ConnFromContext(ctx context.Context) Conn {
	if c, ok := ctx.Value(connKey).(Conn); ok {
		return c
	}
	return nil
}

// WithTx runs fn inside a transaction. The transaction is stored on the
// context so that repository calls made from fn share it; it commits when fn
// returns nil and rolls back otherwise.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(context.WithValue(ctx, connKey, Conn(tx))); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
