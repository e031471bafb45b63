// Package expiry moves batches past their expiry date to EXPIRED and reports
// stock that is about to expire.
package expiry

import (
	"context"
	"time"

	"ledgercore/internal/core/entity"
)

// Repository defines the batch queries the expiry monitor needs.
type Repository interface {
	// ListExpiringForUpdate locks the ACTIVE, non-retired batches whose
	// expiry date is on or before day. Rows are locked in FEFO order, so a
	// sale holding one of them finishes first.
	ListExpiringForUpdate(ctx context.Context, day time.Time) ([]*entity.ProductBatch, error)

	// ListNearExpiry returns ACTIVE, non-retired batches with stock left whose
	// expiry date falls within [from, to], ordered by expiry date.
	ListNearExpiry(ctx context.Context, from, to time.Time) ([]*entity.ProductBatch, error)

	Update(ctx context.Context, b *entity.ProductBatch) error
	AppendEvents(ctx context.Context, events []entity.QuantityChangeEvent) error
}
