package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ledgercore/internal/core/tx"
	"ledgercore/pkg/logger"
)

var tracer = otel.Tracer("ledgercore/tx")

// Compile-time check that TxManager implements tx.ReadOnlyManager interface.
var _ tx.ReadOnlyManager = (*TxManager)(nil)

// TxOptions configures transaction behavior.
type TxOptions struct {
	// IsolationLevel: pgx.Serializable, pgx.RepeatableRead, pgx.ReadCommitted
	IsolationLevel pgx.TxIsoLevel

	// AccessMode: pgx.ReadWrite, pgx.ReadOnly
	AccessMode pgx.TxAccessMode

	// StatementTimeout protects against long-running queries (default 30s)
	StatementTimeout time.Duration

	// LockTimeout bounds the wait for a row lock (default 5s). A timeout
	// surfaces as apperror.CodeLockTimeout.
	LockTimeout time.Duration
}

// DefaultTxOptions returns production-safe defaults.
func DefaultTxOptions() TxOptions {
	return TxOptions{
		IsolationLevel:   pgx.ReadCommitted,
		AccessMode:       pgx.ReadWrite,
		StatementTimeout: 30 * time.Second,
		LockTimeout:      5 * time.Second,
	}
}

// TxManager manages database transactions with support for:
// - Nested calls reusing the outer transaction
// - Savepoints for best-effort work
// - Statement and lock timeouts
// - Distributed tracing integration
type TxManager struct {
	pool *pgxpool.Pool
	opts TxOptions
}

// NewTxManager creates a new transaction manager.
func NewTxManager(pool *Pool, opts TxOptions) *TxManager {
	return &TxManager{pool: pool.Pool, opts: opts}
}

// txKey is the context key for active transaction.
type txKey struct{}

// Tx wraps pgx.Tx with metadata.
type Tx struct {
	pgx.Tx
	readOnly bool
}

// RunInTransaction executes fn within a transaction.
// If a transaction already exists in ctx, it will be reused.
func (m *TxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.RunInTransactionWithOptions(ctx, m.opts, fn)
}

// RunInTransactionWithOptions executes fn with custom transaction options.
func (m *TxManager) RunInTransactionWithOptions(ctx context.Context, opts TxOptions, fn func(ctx context.Context) error) error {
	if m.GetTx(ctx) != nil {
		return fn(ctx)
	}
	return m.startNewTransaction(ctx, opts, fn)
}

// RunIndependent executes fn in a new transaction even when ctx carries one.
func (m *TxManager) RunIndependent(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx = context.WithValue(ctx, txKey{}, (*Tx)(nil))
	return m.startNewTransaction(ctx, m.opts, fn)
}

// ReadOnly executes fn in a read-only transaction.
func (m *TxManager) ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error {
	opts := m.opts
	opts.AccessMode = pgx.ReadOnly
	return m.RunInTransactionWithOptions(ctx, opts, fn)
}

// RunInSavepoint executes fn inside a savepoint of the current transaction.
// On error only fn's work is rolled back and the transaction stays usable.
// Without a transaction in ctx a new one is started.
func (m *TxManager) RunInSavepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	existing := m.GetTx(ctx)
	if existing == nil {
		return m.startNewTransaction(ctx, m.opts, fn)
	}

	savepointName := fmt.Sprintf("sp_%d", time.Now().UnixNano())
	if _, err := existing.Exec(ctx, "SAVEPOINT "+savepointName); err != nil {
		return fmt.Errorf("create savepoint: %w", mapError(err))
	}

	if err := fn(ctx); err != nil {
		if _, rbErr := existing.Exec(ctx, "ROLLBACK TO SAVEPOINT "+savepointName); rbErr != nil {
			logger.Error(ctx, "rollback to savepoint failed", "savepoint", savepointName, "error", rbErr)
		}
		return err
	}

	if _, err := existing.Exec(ctx, "RELEASE SAVEPOINT "+savepointName); err != nil {
		return fmt.Errorf("release savepoint: %w", mapError(err))
	}
	return nil
}

// startNewTransaction begins a new database transaction.
func (m *TxManager) startNewTransaction(ctx context.Context, opts TxOptions, fn func(ctx context.Context) error) (err error) {
	ctx, span := tracer.Start(ctx, "transaction",
		trace.WithAttributes(
			attribute.String("tx.isolation", string(opts.IsolationLevel)),
			attribute.String("tx.access_mode", string(opts.AccessMode)),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   opts.IsolationLevel,
		AccessMode: opts.AccessMode,
	})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", mapError(err))
	}

	// SET LOCAL does not accept bind parameters; values are integers we format ourselves.
	if opts.StatementTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = '%dms'", opts.StatementTimeout.Milliseconds())); err != nil {
			_ = tx.Rollback(context.Background())
			return fmt.Errorf("set statement_timeout: %w", err)
		}
	}
	if opts.LockTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", opts.LockTimeout.Milliseconds())); err != nil {
			_ = tx.Rollback(context.Background())
			return fmt.Errorf("set lock_timeout: %w", err)
		}
	}

	wrappedTx := &Tx{Tx: tx, readOnly: opts.AccessMode == pgx.ReadOnly}
	txCtx := context.WithValue(ctx, txKey{}, wrappedTx)

	if err := m.executeWithRollbackProtection(txCtx, tx, fn); err != nil {
		return mapError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", mapError(err))
	}
	return nil
}

// executeWithRollbackProtection runs fn and rolls back on error or panic.
func (m *TxManager) executeWithRollbackProtection(ctx context.Context, tx pgx.Tx, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.Background())
			panic(p)
		}
	}()

	if err = fn(ctx); err != nil {
		// Use background context for rollback to ensure it completes
		// even if the original context was cancelled
		if rbErr := tx.Rollback(context.Background()); rbErr != nil {
			logger.Error(ctx, "rollback failed", "error", rbErr, "original_error", err)
		}
		return err
	}
	return nil
}

// GetTx returns the current transaction from context, or nil if none.
func (m *TxManager) GetTx(ctx context.Context) *Tx {
	if tx, ok := ctx.Value(txKey{}).(*Tx); ok && tx != nil {
		return tx
	}
	return nil
}

// Querier is implemented by both pgx.Tx and pgxpool.Pool.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// GetQuerier returns the transaction in ctx, or the pool when there is none.
// This allows repos to work both inside and outside transactions.
func (m *TxManager) GetQuerier(ctx context.Context) Querier {
	if tx := m.GetTx(ctx); tx != nil {
		return tx.Tx
	}
	return m.pool
}

// Pool returns the underlying pool.
func (m *TxManager) Pool() *pgxpool.Pool {
	return m.pool
}
