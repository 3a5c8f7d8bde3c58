package pg

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// txKey хранит открытую транзакцию записи снапшотов в context.Context.
type txKey struct{}

// Querier is what the run store needs to upsert and load snapshots, either
// from the pool or from an open transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	_ Querier = (*pgxpool.Pool)(nil)
	_ Querier = (pgx.Tx)(nil)
)

// TxRunner wraps a snapshot write in a transaction, so a run's upsert is
// applied whole or not at all. An error from fn rolls back.
type TxRunner struct {
	Pool *pgxpool.Pool
}

// NewTxRunner создает TxRunner поверх пула хранилища запусков.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{Pool: pool}
}

// WithinTx runs fn in a transaction. Store code inside fn reaches it through GetQuerier.
func (r *TxRunner) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return pgx.BeginFunc(ctx, r.Pool, func(tx pgx.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// GetQuerier returns the transaction opened by WithinTx, or the pool for
// plain reads such as loading a job's history.
func (r *TxRunner) GetQuerier(ctx context.Context) Querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return r.Pool
}
