package variance

import (
	"context"
	"time"

	"ledgercore/internal/core/entity"
)

// Repository defines the queries of the variance detector.
type Repository interface {
	// CountManualChanges counts ADJUSTMENT and WRITE_OFF events by actor
	// with from < occurred_at <= to.
	CountManualChanges(ctx context.Context, actor string, from, to time.Time) (int64, error)

	// ProductStock sums remaining quantity over ACTIVE, non-retired batches.
	ProductStock(ctx context.Context, productID string) (int64, error)

	// NegativeStock lists products whose ACTIVE-batch remainder is below zero.
	NegativeStock(ctx context.Context) ([]entity.ProductStock, error)

	// ListEvents returns events with from <= occurred_at < to, oldest first.
	ListEvents(ctx context.Context, from, to time.Time) ([]entity.QuantityChangeEvent, error)

	// UpsertSummary stores the summary of its day, replacing an earlier one.
	// ID and CreatedAt of an existing row are kept and written back to s.
	UpsertSummary(ctx context.Context, s *entity.DailyVarianceSummary) error

	// GetSummary returns NotFound when the day has no summary.
	GetSummary(ctx context.Context, day time.Time) (*entity.DailyVarianceSummary, error)

	// ListSummaries returns summaries with from <= day <= to, oldest first.
	ListSummaries(ctx context.Context, from, to time.Time) ([]entity.DailyVarianceSummary, error)
}
