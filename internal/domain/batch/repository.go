// Package batch maintains per-product stock as a set of batches with FEFO allocation.
package batch

import (
	"context"

	"ledgercore/internal/core/entity"
)

// Repository defines storage operations for batches and their change events.
type Repository interface {
	// Create inserts a new batch.
	Create(ctx context.Context, b *entity.ProductBatch) error

	// Get returns a batch without locking it.
	Get(ctx context.Context, id entity.ID) (*entity.ProductBatch, error)

	// GetForUpdate returns a batch with an exclusive row lock held until the
	// transaction ends.
	GetForUpdate(ctx context.Context, id entity.ID) (*entity.ProductBatch, error)

	// ListSellableForUpdate locks and returns the ACTIVE, non-retired batches
	// of a product with stock left, in FEFO order: expiry date ascending
	// (batches without expiry last), then batch id ascending.
	ListSellableForUpdate(ctx context.Context, productID string) ([]*entity.ProductBatch, error)

	// Update persists remaining quantity, status and the active flag.
	Update(ctx context.Context, b *entity.ProductBatch) error

	// List returns batches matching the filter in FEFO order.
	List(ctx context.Context, filter entity.BatchFilter) ([]*entity.ProductBatch, error)

	// ProductStock sums the remaining quantity over ACTIVE, non-retired batches.
	ProductStock(ctx context.Context, productID string) (int64, error)

	// AppendEvents stores change events. Events are never updated.
	AppendEvents(ctx context.Context, events []entity.QuantityChangeEvent) error

	// ListEvents returns the events of a batch in occurrence order.
	ListEvents(ctx context.Context, batchID entity.ID) ([]entity.QuantityChangeEvent, error)
}

// Observer receives every change the ledger makes, inside the mutating
// transaction. It runs in a savepoint: an error discards only the
// observer's own writes and is otherwise ignored.
type Observer interface {
	ObserveChanges(ctx context.Context, events []entity.QuantityChangeEvent) ([]entity.VarianceAlert, error)
}
