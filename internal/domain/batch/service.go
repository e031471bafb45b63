package batch

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ledgercore/internal/core/appctx"
	"ledgercore/internal/core/apperror"
	"ledgercore/internal/core/clock"
	"ledgercore/internal/core/entity"
	"ledgercore/internal/core/tx"
	"ledgercore/internal/domain/audit"
	"ledgercore/pkg/logger"
)

var tracer = otel.Tracer("ledgercore/batch")

// Service is the batch ledger. Every quantity mutation locks the affected
// batch rows and appends its change events in the same transaction.
type Service struct {
	repo     Repository
	txm      tx.Manager
	clock    clock.Clock
	audit    audit.Recorder
	observer Observer
}

// NewService creates a batch ledger.
func NewService(repo Repository, txm tx.Manager, clk clock.Clock) *Service {
	return &Service{
		repo:  repo,
		txm:   txm,
		clock: clk,
	}
}

// WithAudit records write-offs and retirements.
func (s *Service) WithAudit(r audit.Recorder) *Service {
	s.audit = r
	return s
}

// WithObserver attaches the variance detector.
func (s *Service) WithObserver(o Observer) *Service {
	s.observer = o
	return s
}

// Receive creates an ACTIVE batch from a goods receipt line.
func (s *Service) Receive(ctx context.Context, in ReceiveInput) (*entity.ProductBatch, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	b := &entity.ProductBatch{
		ID:                entity.NewID(),
		ProductID:         strings.TrimSpace(in.ProductID),
		BatchNumber:       strings.TrimSpace(in.BatchNumber),
		ExpiryDate:        in.ExpiryDate,
		QuantityReceived:  in.Quantity,
		QuantityRemaining: in.Quantity,
		UnitCost:          in.UnitCost,
		Status:            entity.BatchStatusActive,
		Active:            true,
		ReceivedAt:        now,
		UpdatedAt:         now,
	}
	if b.ExpiryDate != nil {
		d := clock.DateOf(*b.ExpiryDate)
		b.ExpiryDate = &d
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}

	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, b); err != nil {
			return fmt.Errorf("create batch: %w", err)
		}
		event := entity.NewQuantityChangeEvent(b, in.Quantity, entity.ReasonReceipt, appctx.GetActor(ctx), in.Reference, now)
		if err := s.repo.AppendEvents(ctx, []entity.QuantityChangeEvent{event}); err != nil {
			return fmt.Errorf("append events: %w", err)
		}
		s.observe(ctx, []entity.QuantityChangeEvent{event})
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "batch received",
		"batch_id", b.ID,
		"product_id", b.ProductID,
		"batch_number", b.BatchNumber,
		"quantity", b.QuantityReceived,
	)
	return b, nil
}

// AllocateForSale deducts qty units of a product, earliest expiry first.
// Either the whole quantity is deducted or nothing is: on InsufficientStock
// the enclosing transaction is rolled back.
func (s *Service) AllocateForSale(ctx context.Context, productID string, qty int64, reference string) ([]Allocation, error) {
	ctx, span := tracer.Start(ctx, "batch.AllocateForSale",
		trace.WithAttributes(
			attribute.String("batch.product_id", productID),
			attribute.Int64("batch.quantity", qty),
		))
	defer span.End()

	if productID == "" {
		return nil, apperror.NewValidation("product id is required")
	}
	if qty <= 0 {
		return nil, apperror.NewValidation("quantity must be positive").WithDetail("quantity", qty)
	}

	var allocations []Allocation
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		batches, err := s.repo.ListSellableForUpdate(ctx, productID)
		if err != nil {
			return fmt.Errorf("lock batches: %w", err)
		}

		var available int64
		for _, b := range batches {
			available += b.QuantityRemaining
		}
		if available < qty {
			return apperror.NewInsufficientStock(productID, qty, available)
		}

		now := s.clock.Now()
		actor := appctx.GetActor(ctx)
		remaining := qty
		events := make([]entity.QuantityChangeEvent, 0, len(batches))
		allocations = allocations[:0]

		for _, b := range batches {
			if remaining == 0 {
				break
			}
			take := min(b.QuantityRemaining, remaining)
			if take <= 0 {
				continue
			}

			b.QuantityRemaining -= take
			b.UpdatedAt = now
			if err := s.repo.Update(ctx, b); err != nil {
				return fmt.Errorf("update batch %s: %w", b.ID, err)
			}

			events = append(events, entity.NewQuantityChangeEvent(b, -take, entity.ReasonSale, actor, reference, now))
			allocations = append(allocations, Allocation{
				BatchID:     b.ID,
				BatchNumber: b.BatchNumber,
				ExpiryDate:  b.ExpiryDate,
				Quantity:    take,
			})
			remaining -= take
		}

		if err := s.repo.AppendEvents(ctx, events); err != nil {
			return fmt.Errorf("append events: %w", err)
		}
		s.observe(ctx, events)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("batch.touched", len(allocations)))
	return allocations, nil
}

// RestoreForReturn puts qty units back into the batch they were sold from.
// Remaining quantity may not exceed the quantity received. Expired batches
// accept returns; their status does not change.
func (s *Service) RestoreForReturn(ctx context.Context, batchID entity.ID, qty int64, reference string) (*entity.ProductBatch, error) {
	if qty <= 0 {
		return nil, apperror.NewValidation("quantity must be positive").WithDetail("quantity", qty)
	}

	var result *entity.ProductBatch
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		b, err := s.repo.GetForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		if !b.Active {
			return apperror.NewValidation("batch is retired").WithDetail("batch_id", batchID)
		}
		if qty > b.Returnable() {
			return apperror.NewOverReturn(batchID.String(), qty, b.Returnable())
		}

		now := s.clock.Now()
		b.QuantityRemaining += qty
		b.UpdatedAt = now
		if err := s.repo.Update(ctx, b); err != nil {
			return fmt.Errorf("update batch: %w", err)
		}

		event := entity.NewQuantityChangeEvent(b, qty, entity.ReasonReturn, appctx.GetActor(ctx), reference, now)
		if err := s.repo.AppendEvents(ctx, []entity.QuantityChangeEvent{event}); err != nil {
			return fmt.Errorf("append events: %w", err)
		}
		s.observe(ctx, []entity.QuantityChangeEvent{event})
		result = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Adjust applies a manual stock correction (count differences, breakage).
// The result must stay within [0, quantity received].
func (s *Service) Adjust(ctx context.Context, batchID entity.ID, delta int64, note string) (*ChangeResult, error) {
	if delta == 0 {
		return nil, apperror.NewValidation("adjustment must not be zero")
	}

	var result *ChangeResult
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		b, err := s.repo.GetForUpdate(ctx, batchID)
		if err != nil {
			return err
		}

		next := b.QuantityRemaining + delta
		if next < 0 {
			return apperror.NewInsufficientStock(b.ProductID, -delta, b.QuantityRemaining).
				WithDetail("batch_id", batchID.String())
		}
		if next > b.QuantityReceived {
			return apperror.NewOverReturn(batchID.String(), delta, b.Returnable())
		}

		now := s.clock.Now()
		b.QuantityRemaining = next
		b.UpdatedAt = now
		if err := s.repo.Update(ctx, b); err != nil {
			return fmt.Errorf("update batch: %w", err)
		}

		event := entity.NewQuantityChangeEvent(b, delta, entity.ReasonAdjustment, appctx.GetActor(ctx), note, now)
		if err := s.repo.AppendEvents(ctx, []entity.QuantityChangeEvent{event}); err != nil {
			return fmt.Errorf("append events: %w", err)
		}

		result = &ChangeResult{Batch: b, Event: event}
		result.Alerts = s.observe(ctx, []entity.QuantityChangeEvent{event})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// WriteOff expires a batch manually and removes what is left of it.
// Only ACTIVE batches can be written off.
func (s *Service) WriteOff(ctx context.Context, batchID entity.ID, note string) (*ChangeResult, error) {
	var result *ChangeResult
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		b, err := s.repo.GetForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		if b.Status != entity.BatchStatusActive {
			return apperror.NewInvalidTransition(batchID.String(), string(b.Status), string(entity.BatchStatusExpired))
		}

		now := s.clock.Now()
		removed := b.QuantityRemaining
		b.QuantityRemaining = 0
		b.Status = entity.BatchStatusExpired
		b.UpdatedAt = now
		if err := s.repo.Update(ctx, b); err != nil {
			return fmt.Errorf("update batch: %w", err)
		}

		event := entity.NewQuantityChangeEvent(b, -removed, entity.ReasonWriteOff, appctx.GetActor(ctx), note, now)
		if err := s.repo.AppendEvents(ctx, []entity.QuantityChangeEvent{event}); err != nil {
			return fmt.Errorf("append events: %w", err)
		}

		audit.RecordQuietly(ctx, s.txm, s.audit, audit.Entry{
			EntityType: "product_batch",
			EntityID:   b.ID.String(),
			Action:     audit.ActionWriteOff,
			Changes: map[string]any{
				"status":   map[string]any{"old": entity.BatchStatusActive, "new": entity.BatchStatusExpired},
				"removed":  removed,
				"value":    event.Value().String(),
				"note":     note,
				"product":  b.ProductID,
				"batch_no": b.BatchNumber,
			},
		})

		result = &ChangeResult{Batch: b, Event: event}
		result.Alerts = s.observe(ctx, []entity.QuantityChangeEvent{event})
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "batch written off",
		"batch_id", batchID,
		"removed", -result.Event.Delta,
	)
	return result, nil
}

// Retire hides a batch from allocation and listings. Batches are never
// deleted: their events must stay resolvable.
func (s *Service) Retire(ctx context.Context, batchID entity.ID) error {
	return s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		b, err := s.repo.GetForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		if !b.Active {
			return nil
		}
		b.Active = false
		b.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, b); err != nil {
			return fmt.Errorf("update batch: %w", err)
		}
		audit.RecordQuietly(ctx, s.txm, s.audit, audit.Entry{
			EntityType: "product_batch",
			EntityID:   b.ID.String(),
			Action:     audit.ActionRetire,
			Changes:    map[string]any{"active": map[string]any{"old": true, "new": false}},
		})
		return nil
	})
}

// GetBatch returns one batch.
func (s *Service) GetBatch(ctx context.Context, batchID entity.ID) (*entity.ProductBatch, error) {
	return s.repo.Get(ctx, batchID)
}

// ProductStock returns the sellable stock of a product.
func (s *Service) ProductStock(ctx context.Context, productID string) (int64, error) {
	return s.repo.ProductStock(ctx, productID)
}

// ListBatches returns batches in FEFO order.
func (s *Service) ListBatches(ctx context.Context, filter entity.BatchFilter) ([]*entity.ProductBatch, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperror.NewValidation("unknown batch status").WithDetail("status", filter.Status)
	}
	return s.repo.List(ctx, filter)
}

// History returns the change events of a batch.
func (s *Service) History(ctx context.Context, batchID entity.ID) ([]entity.QuantityChangeEvent, error) {
	var events []entity.QuantityChangeEvent
	err := tx.ReadOnly(ctx, s.txm, func(ctx context.Context) error {
		if _, err := s.repo.Get(ctx, batchID); err != nil {
			return err
		}
		var err error
		events, err = s.repo.ListEvents(ctx, batchID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// observe hands events to the observer inside a savepoint.
func (s *Service) observe(ctx context.Context, events []entity.QuantityChangeEvent) []entity.VarianceAlert {
	if s.observer == nil || len(events) == 0 {
		return nil
	}
	var alerts []entity.VarianceAlert
	err := s.txm.RunInSavepoint(ctx, func(ctx context.Context) error {
		var err error
		alerts, err = s.observer.ObserveChanges(ctx, events)
		return err
	})
	if err != nil {
		logger.Warn(ctx, "variance check discarded", "error", err)
	}
	return alerts
}
