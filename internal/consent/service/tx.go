package service

import (
	"context"
	"database/sql"
	"time"

	dErrors "optout/pkg/domain-errors"
	platformsync "optout/pkg/platform/sync"
	"optout/pkg/platform/tx"
)

// TxRunner scopes the decision write and the code retirement to one unit of work, keyed by
// patient identifier.
type TxRunner interface {
	RunInTx(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

const defaultTxTimeout = 5 * time.Second

// SQLTx runs fn in a database transaction that both stores join through the context.
type SQLTx struct {
	db *sql.DB
}

func NewSQLTx(db *sql.DB) *SQLTx {
	return &SQLTx{db: db}
}

func (t *SQLTx) RunInTx(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	ctx, cancel := withTxTimeout(ctx)
	defer cancel()
	return tx.Run(ctx, t.db, fn)
}

// ShardedTx serializes work per identifier for the in-memory stores. It does not roll back;
// the patient version check still rejects a stale write.
type ShardedTx struct {
	mu *platformsync.ShardedMutex
}

func NewShardedTx() *ShardedTx {
	return &ShardedTx{mu: platformsync.NewShardedMutex()}
}

func (t *ShardedTx) RunInTx(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	ctx, cancel := withTxTimeout(ctx)
	defer cancel()
	return t.mu.With(key, func() error {
		if err := ctx.Err(); err != nil {
			return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
		}
		return fn(ctx)
	})
}

func withTxTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultTxTimeout)
}
