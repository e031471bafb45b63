package expiry

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"ledgercore/internal/core/appctx"
	"ledgercore/internal/core/apperror"
	"ledgercore/internal/core/clock"
	"ledgercore/internal/core/entity"
	"ledgercore/internal/core/tx"
	"ledgercore/internal/core/types"
	"ledgercore/internal/domain/audit"
	"ledgercore/pkg/logger"
)

var tracer = otel.Tracer("ledgercore/expiry")

// Service is the expiry monitor.
type Service struct {
	repo       Repository
	txm        tx.Manager
	clock      clock.Clock
	audit      audit.Recorder
	thresholds []int
}

// NewService creates an expiry monitor.
func NewService(repo Repository, txm tx.Manager, clk clock.Clock, recorder audit.Recorder) *Service {
	return &Service{
		repo:       repo,
		txm:        txm,
		clock:      clk,
		audit:      recorder,
		thresholds: DefaultThresholds,
	}
}

// WithThresholds replaces the default near-expiry horizons.
func (s *Service) WithThresholds(days []int) *Service {
	if len(days) > 0 {
		s.thresholds = slices.Clone(days)
	}
	return s
}

// MarkExpiredBatches moves every ACTIVE batch whose expiry date has been
// reached to EXPIRED, in one transaction. Remaining quantity is kept for
// valuation; an EXPIRY event with zero delta records the transition.
//
// The status predicate makes reruns harmless: a second run on the same day
// finds nothing. Audit records are written per batch plus one for the run;
// audit failures are logged and ignored.
func (s *Service) MarkExpiredBatches(ctx context.Context) (*RunResult, error) {
	ctx, span := tracer.Start(ctx, "expiry.MarkExpiredBatches")
	defer span.End()

	if !appctx.HasActor(ctx) {
		ctx = appctx.WithActor(ctx, appctx.SystemActor)
	}

	now := s.clock.Now()
	today := clock.DateOf(now)
	result := &RunResult{Day: today, RanAt: now, ValueExpired: types.Zero()}

	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		result.Expired = result.Expired[:0]
		result.ValueExpired = types.Zero()

		batches, err := s.repo.ListExpiringForUpdate(ctx, today)
		if err != nil {
			return fmt.Errorf("lock expiring batches: %w", err)
		}

		actor := appctx.GetActor(ctx)
		events := make([]entity.QuantityChangeEvent, 0, len(batches))
		for _, b := range batches {
			if b.Status != entity.BatchStatusActive {
				continue
			}
			b.Status = entity.BatchStatusExpired
			b.UpdatedAt = now
			if err := s.repo.Update(ctx, b); err != nil {
				return fmt.Errorf("expire batch %s: %w", b.ID, err)
			}
			events = append(events, entity.NewQuantityChangeEvent(b, 0, entity.ReasonExpiry, actor, "scheduled expiry", now))

			ref := refOf(b)
			result.Expired = append(result.Expired, ref)
			result.ValueExpired = result.ValueExpired.Add(ref.Value)
		}

		if len(events) > 0 {
			if err := s.repo.AppendEvents(ctx, events); err != nil {
				return fmt.Errorf("append expiry events: %w", err)
			}
		}

		for _, ref := range result.Expired {
			audit.RecordQuietly(ctx, s.txm, s.audit, audit.Entry{
				EntityType: "product_batch",
				EntityID:   ref.BatchID.String(),
				Action:     audit.ActionExpire,
				At:         now,
				Changes: map[string]any{
					"status":      map[string]any{"old": entity.BatchStatusActive, "new": entity.BatchStatusExpired},
					"product_id":  ref.ProductID,
					"batch":       ref.BatchNumber,
					"expiry_date": ref.ExpiryDate.Format(time.DateOnly),
					"remaining":   ref.QuantityRemaining,
					"value":       ref.Value.String(),
				},
			})
		}
		audit.RecordQuietly(ctx, s.txm, s.audit, audit.Entry{
			EntityType: "expiry_run",
			EntityID:   today.Format(time.DateOnly),
			Action:     audit.ActionExpiryRun,
			At:         now,
			Changes: map[string]any{
				"count":         len(result.Expired),
				"value_expired": result.ValueExpired.String(),
			},
		})
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	result.Count = len(result.Expired)
	span.SetAttributes(attribute.Int("expiry.count", result.Count))
	logger.Info(ctx, "expiry run finished",
		"day", today.Format(time.DateOnly),
		"expired", result.Count,
		"value_expired", result.ValueExpired.String(),
	)
	return result, nil
}

// CheckNearExpiry groups the sellable batches by how soon they expire.
// An empty list uses the configured thresholds.
func (s *Service) CheckNearExpiry(ctx context.Context, thresholds []int) ([]NearExpiryBucket, error) {
	if len(thresholds) == 0 {
		thresholds = s.thresholds
	}
	days := slices.Clone(thresholds)
	for _, d := range days {
		if d <= 0 {
			return nil, apperror.NewValidation("thresholds must be positive").WithDetail("threshold", d)
		}
	}
	slices.Sort(days)
	days = slices.Compact(days)

	today := clock.Today(s.clock)
	horizon := today.AddDate(0, 0, days[len(days)-1])

	var batches []*entity.ProductBatch
	err := tx.ReadOnly(ctx, s.txm, func(ctx context.Context) error {
		var err error
		batches, err = s.repo.ListNearExpiry(ctx, today, horizon)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list near expiry: %w", err)
	}

	buckets := make([]NearExpiryBucket, 0, len(days))
	for _, d := range days {
		to := today.AddDate(0, 0, d)
		bucket := NearExpiryBucket{
			ThresholdDays: d,
			From:          today,
			To:            to,
			Batches:       []BatchExposure{},
			ValueAtRisk:   types.Zero(),
		}
		for _, b := range batches {
			if b.ExpiryDate == nil || b.ExpiryDate.Before(today) || b.ExpiryDate.After(to) {
				continue
			}
			ref := refOf(b)
			bucket.Batches = append(bucket.Batches, BatchExposure{
				BatchRef:     ref,
				DaysToExpiry: clock.DaysBetween(today, *b.ExpiryDate),
			})
			bucket.TotalQuantity += ref.QuantityRemaining
			bucket.ValueAtRisk = bucket.ValueAtRisk.Add(ref.Value)
		}
		bucket.BatchCount = len(bucket.Batches)
		buckets = append(buckets, bucket)
	}
	return buckets, nil
}
