// Package tx provides transaction management abstractions.
// Domain services depend on these interfaces; the postgres and memory stores
// provide the implementations.
package tx

import (
	"context"
)

// Manager defines the contract for transaction management.
type Manager interface {
	// RunInTransaction executes fn within a transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn succeeds, the transaction is committed.
	//
	// Nested calls reuse the existing transaction from context, so a
	// sequence allocation made inside a sale commits or rolls back with it.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	// RunInSavepoint executes fn inside a savepoint of the current
	// transaction (or a fresh transaction when none is active). A failure
	// rolls back only fn's work and is returned; the enclosing transaction
	// stays usable. Used for best-effort work: audit records, variance
	// checks, escalations.
	RunInSavepoint(ctx context.Context, fn func(ctx context.Context) error) error

	// RunIndependent executes fn in a brand-new transaction that ignores any
	// transaction already in ctx. It commits on its own.
	RunIndependent(ctx context.Context, fn func(ctx context.Context) error) error
}

// ReadOnlyManager extends Manager with read-only transaction support.
type ReadOnlyManager interface {
	Manager

	// ReadOnly executes fn in a read-only transaction.
	ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error
}

// ReadOnly runs fn in a read-only transaction when m supports one and in a
// regular transaction otherwise. Inside an active transaction fn joins it.
func ReadOnly(ctx context.Context, m Manager, fn func(ctx context.Context) error) error {
	if ro, ok := m.(ReadOnlyManager); ok {
		return ro.ReadOnly(ctx, fn)
	}
	return m.RunInTransaction(ctx, fn)
}
