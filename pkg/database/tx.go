package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// ErrUnavailable signals that a transaction session could not be opened.
// Writes fail closed rather than proceed non-transactionally; the handler
// layer maps this onto the domain error taxonomy.
var ErrUnavailable = errors.New("transaction session unavailable")

// Tx is the transaction scope handed to units of work. Every write-capable
// repository method takes a *Tx, so no write path can execute outside an
// active transaction.
type Tx struct {
	tx *sql.Tx
}

// QueryRowContext runs a query inside the transaction.
func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

// QueryContext runs a multi-row query inside the transaction.
func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

// ExecContext runs a statement inside the transaction.
func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

type txCtxKey struct{}

// TxFromContext returns the ambient transaction scope, if any.
func TxFromContext(ctx context.Context) (*Tx, bool) {
	t, ok := ctx.Value(txCtxKey{}).(*Tx)
	return t, ok
}

// Runner coordinates units of work: all writes inside Run commit together or
// roll back together, and the session is released exactly once.
type Runner struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRunner creates a transaction coordinator over the connection pool.
func NewRunner(db *sql.DB, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{db: db, logger: logger}
}

// Run executes fn inside a transaction. A nested Run reuses the ambient scope
// instead of opening a second transaction. When a session cannot be opened the
// error is ErrUnavailable: the unit of work never executes without
// transactional safety.
func (r *Runner) Run(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	if ambient, ok := TxFromContext(ctx); ok {
		return fn(ctx, ambient)
	}

	sqlTx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		r.logger.Error("failed to open transaction", slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	scope := &Tx{tx: sqlTx}
	ctx = context.WithValue(ctx, txCtxKey{}, scope)

	committed := false
	defer func() {
		if !committed {
			if rbErr := sqlTx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				r.logger.Error("rollback failed", slog.String("error", rbErr.Error()))
			}
		}
	}()

	if err := fn(ctx, scope); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	committed = true
	return nil
}
