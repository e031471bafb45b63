// Package sale posts point-of-sale checkouts and returns against the batch
// ledger. A checkout deducts every line FEFO and takes the next receipt
// number in one transaction: either all of it commits or none of it does.
package sale

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ledgercore/internal/core/apperror"
	"ledgercore/internal/core/clock"
	"ledgercore/internal/core/entity"
	"ledgercore/internal/core/tx"
	"ledgercore/internal/domain/batch"
	"ledgercore/pkg/logger"
)

var tracer = otel.Tracer("ledgercore/sale")

// DefaultSeries numbers sales receipts.
const DefaultSeries = "INV"

// Numberer hands out document numbers.
type Numberer interface {
	Allocate(ctx context.Context, series string) (entity.DocumentNumber, error)
}

// Ledger moves stock.
type Ledger interface {
	AllocateForSale(ctx context.Context, productID string, qty int64, reference string) ([]batch.Allocation, error)
	RestoreForReturn(ctx context.Context, batchID entity.ID, qty int64, reference string) (*entity.ProductBatch, error)
}

// Line is one product line of a checkout.
type Line struct {
	ProductID string `json:"productId"`
	Quantity  int64  `json:"quantity"`
}

// Checkout is a basket to post.
type Checkout struct {
	Lines []Line `json:"lines"`
	// Reference identifies the till session or basket; stored on every event.
	Reference string `json:"reference,omitempty"`
}

// Validate checks the basket.
func (c Checkout) Validate() error {
	if len(c.Lines) == 0 {
		return apperror.NewValidation("checkout has no lines")
	}
	for i, l := range c.Lines {
		if strings.TrimSpace(l.ProductID) == "" {
			return apperror.NewValidation("product id is required").WithDetail("line", i)
		}
		if l.Quantity <= 0 {
			return apperror.NewValidation("quantity must be positive").WithDetail("line", i)
		}
	}
	return nil
}

// LineResult is a posted line with the batches it was taken from.
type LineResult struct {
	Line
	Allocations []batch.Allocation `json:"allocations"`
}

// Receipt is a posted checkout.
type Receipt struct {
	Number   entity.DocumentNumber `json:"number"`
	Lines    []LineResult          `json:"lines"`
	PostedAt time.Time             `json:"postedAt"`
}

// Return puts sold units back into their batch.
type Return struct {
	BatchID   entity.ID `json:"batchId"`
	Quantity  int64     `json:"quantity"`
	Reference string    `json:"reference,omitempty"`
}

// Service posts checkouts and returns.
type Service struct {
	numbers Numberer
	ledger  Ledger
	txm     tx.Manager
	clock   clock.Clock
	series  string
	retry   tx.RetryPolicy
}

// NewService creates a sale service numbering receipts in series.
func NewService(numbers Numberer, ledger Ledger, txm tx.Manager, clk clock.Clock, series string) *Service {
	if series == "" {
		series = DefaultSeries
	}
	return &Service{
		numbers: numbers,
		ledger:  ledger,
		txm:     txm,
		clock:   clk,
		series:  series,
		retry:   tx.DefaultRetryPolicy(),
	}
}

// WithRetryPolicy overrides the contention retry policy.
func (s *Service) WithRetryPolicy(p tx.RetryPolicy) *Service {
	s.retry = p
	return s
}

// Series returns the receipt series.
func (s *Service) Series() string {
	return s.series
}

// Post deducts every line and allocates the receipt number. Lines are
// locked in product order so concurrent baskets sharing products queue up
// instead of deadlocking. The number is taken last to keep the period row
// locked for as short as possible. Lock timeouts rerun the whole posting.
func (s *Service) Post(ctx context.Context, in Checkout) (*Receipt, error) {
	ctx, span := tracer.Start(ctx, "sale.Post",
		trace.WithAttributes(
			attribute.String("sale.series", s.series),
			attribute.Int("sale.lines", len(in.Lines)),
		))
	defer span.End()

	if err := in.Validate(); err != nil {
		return nil, err
	}

	order := make([]int, len(in.Lines))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return in.Lines[order[a]].ProductID < in.Lines[order[b]].ProductID
	})

	var receipt *Receipt
	err := tx.RetryOnContention(ctx, s.txm, s.retry, func(ctx context.Context) error {
		lines := make([]LineResult, len(in.Lines))
		for _, i := range order {
			l := in.Lines[i]
			allocs, err := s.ledger.AllocateForSale(ctx, l.ProductID, l.Quantity, in.Reference)
			if err != nil {
				return err
			}
			lines[i] = LineResult{Line: l, Allocations: allocs}
		}

		number, err := s.numbers.Allocate(ctx, s.series)
		if err != nil {
			return fmt.Errorf("allocate receipt number: %w", err)
		}

		receipt = &Receipt{Number: number, Lines: lines, PostedAt: s.clock.Now()}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("sale.number", receipt.Number.Formatted))
	logger.Info(ctx, "sale posted",
		"number", receipt.Number.Formatted,
		"lines", len(receipt.Lines),
		"reference", in.Reference,
	)
	return receipt, nil
}

// Return restores a returned quantity to its batch.
func (s *Service) Return(ctx context.Context, in Return) (*entity.ProductBatch, error) {
	var b *entity.ProductBatch
	err := tx.RetryOnContention(ctx, s.txm, s.retry, func(ctx context.Context) error {
		var err error
		b, err = s.ledger.RestoreForReturn(ctx, in.BatchID, in.Quantity, in.Reference)
		return err
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}
