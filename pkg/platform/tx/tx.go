// Package tx carries database transactions through context so stores stay
// independent of each other while still joining one transaction. Services
// depend on Runner; which concrete runner they get decides whether "in a
// transaction" means a real BEGIN/COMMIT or a coarse in-process lock.
package tx

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

type ctxKey struct{}

var txKey = ctxKey{}

// WithTx stores a SQL transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Postgres stores run every statement through it so they transparently join
// a transaction carried in context.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Q returns the context transaction when present, the pool otherwise.
func Q(ctx context.Context, db *sql.DB) Querier {
	if tx, ok := From(ctx); ok {
		return tx
	}
	return db
}

// Detach returns a context that carries no transaction. Best-effort side
// writes run on it so they commit independently of the caller's
// transaction and cannot be rolled back with it.
func Detach(ctx context.Context) context.Context {
	if _, ok := From(ctx); !ok {
		return ctx
	}
	return context.WithValue(ctx, txKey, nil)
}

// Runner provides a transactional boundary for multi-store mutations.
// The callback's context carries the transaction; every store call made with
// it joins the same transaction. Returning an error rolls everything back.
type Runner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// SQLRunner runs callbacks inside a database transaction.
type SQLRunner struct {
	db *sql.DB
}

// NewSQLRunner constructs a Runner backed by real transactions.
func NewSQLRunner(db *sql.DB) *SQLRunner {
	return &SQLRunner{db: db}
}

func (r *SQLRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = dbtx.Rollback()
	}()

	if err := fn(WithTx(ctx, dbtx)); err != nil {
		return err
	}
	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// MemoryRunner serializes callbacks under one mutex. Two callbacks never
// interleave, which is what the in-memory stores need for their claim-style
// mutations. It does not undo partial writes on error the way a real
// transaction does; memory setups are for tests and development only.
type MemoryRunner struct {
	mu sync.Mutex
}

// NewMemoryRunner constructs a Runner for in-memory store setups.
func NewMemoryRunner() *MemoryRunner {
	return &MemoryRunner{}
}

func (r *MemoryRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx)
}
