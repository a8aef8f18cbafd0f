package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	txcontext "signalos/pkg/platform/tx"
)

// SQLTxRunner wraps every mutating operation in one database transaction.
// The transaction rides the context, so any store call inside fn joins it.
type SQLTxRunner struct {
	db *sql.DB
}

func NewSQLTxRunner(db *sql.DB) *SQLTxRunner {
	return &SQLTxRunner{db: db}
}

func (r *SQLTxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback after %w: %v", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// MemoryTxRunner serializes mutating operations with one lock. Merge and
// moderation are low-frequency and operator-invoked, so coarse serialization
// is fine; the vote store's own check still guards double votes.
type MemoryTxRunner struct {
	mu sync.Mutex
}

func NewMemoryTxRunner() *MemoryTxRunner {
	return &MemoryTxRunner{}
}

func (r *MemoryTxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx)
}
