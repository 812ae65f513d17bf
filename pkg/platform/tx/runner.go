package tx

import (
	"context"
	"database/sql"
	"fmt"
)

// Runner executes a unit of work that must commit or fail atomically across
// stores. Services depend on this interface so the same orchestration code
// runs against memory stores (no-op runner) and Postgres (real tx).
type Runner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// NoopRunner runs the unit of work directly. Memory stores take their own
// locks per call; callers that need cross-call atomicity against memory
// stores serialize with a key mutex instead.
type NoopRunner struct{}

func (NoopRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// SQLRunner opens a database transaction, stores it in the context for
// participating stores, and commits or rolls back as one unit.
type SQLRunner struct {
	DB *sql.DB
}

func (r SQLRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := From(ctx); ok {
		// Already inside a transaction; join it.
		return fn(ctx)
	}
	txn, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(WithTx(ctx, txn)); err != nil {
		_ = txn.Rollback()
		return err
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
