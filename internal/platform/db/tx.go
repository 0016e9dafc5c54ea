package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

const (
	// DBConnKey carries a request-scoped acquired connection.
	DBConnKey contextKey = "db_conn"
	// DBTxKey carries an open transaction.
	DBTxKey contextKey = "db_tx"
)

// ConnFromContext retrieves a request-scoped database connection, if any.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// TxFromContext retrieves an open transaction, if any. Repositories prefer
// the transaction over the pool so multi-statement operations commit or roll
// back together.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// WithTx begins a transaction on the pool and returns a derived context
// carrying it. The returned done function commits on done(nil) and rolls
// back on done(err); it is safe to call in a defer.
func WithTx(ctx context.Context, pool *pgxpool.Pool) (context.Context, func(error) error, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("begin transaction: %w", err)
	}

	txCtx := context.WithValue(ctx, DBTxKey, tx)
	done := func(opErr error) error {
		if opErr != nil {
			_ = tx.Rollback(ctx)
			return opErr
		}
		return tx.Commit(ctx)
	}
	return txCtx, done, nil
}
