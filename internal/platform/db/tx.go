package db

import (
	"context"

	"github.com/jackc/pgx/v5"
)

type ctxKey string

const txKey ctxKey = "pgx_tx"

// ContextWithTx returns a child context carrying an open transaction.
// Repositories route their statements through it when present.
func ContextWithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey, tx)
}

// TxFromContext returns the transaction carried by ctx, or nil.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey).(pgx.Tx)
	return tx
}
