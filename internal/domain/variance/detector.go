package variance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"ledgercore/internal/core/apperror"
	"ledgercore/internal/core/clock"
	"ledgercore/internal/core/entity"
	"ledgercore/internal/core/tx"
	"ledgercore/internal/core/types"
	"ledgercore/internal/domain/audit"
	"ledgercore/pkg/logger"
)

var tracer = otel.Tracer("ledgercore/variance")

// Detector is the variance detector. It is observational: nothing it does
// can fail the mutation it inspects.
type Detector struct {
	repo      Repository
	txm       tx.Manager
	clock     clock.Clock
	cfg       Config
	escalator audit.Escalator
}

// NewDetector creates a detector. cfg must be valid.
func NewDetector(repo Repository, txm tx.Manager, clk clock.Clock, cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{
		repo:  repo,
		txm:   txm,
		clock: clk,
		cfg:   cfg,
	}, nil
}

// WithEscalator sends CRITICAL alerts to the outbox.
func (d *Detector) WithEscalator(e audit.Escalator) *Detector {
	d.escalator = e
	return d
}

// Config returns the thresholds in use.
func (d *Detector) Config() Config {
	return d.cfg
}

// CheckAdjustment evaluates one change event right after it was recorded
// and returns the alerts for immediate display. Errors are logged; the
// alerts found before the error are still returned.
func (d *Detector) CheckAdjustment(ctx context.Context, event entity.QuantityChangeEvent) []Alert {
	var alerts []Alert
	err := d.txm.RunInSavepoint(ctx, func(ctx context.Context) error {
		var err error
		alerts, err = d.ObserveChanges(ctx, []entity.QuantityChangeEvent{event})
		return err
	})
	if err != nil {
		logger.Error(ctx, "variance check failed", "event_id", event.ID, "error", err)
	}
	return alerts
}

// ObserveChanges evaluates the events of one ledger mutation. Manual changes
// are checked against the adjustment rules; every touched product is checked
// for negative stock. CRITICAL alerts are escalated.
func (d *Detector) ObserveChanges(ctx context.Context, events []entity.QuantityChangeEvent) ([]Alert, error) {
	var (
		alerts   []Alert
		errs     []error
		products = make(map[string]struct{})
		order    []string
	)

	for _, e := range events {
		if _, seen := products[e.ProductID]; !seen {
			products[e.ProductID] = struct{}{}
			order = append(order, e.ProductID)
		}
		if !e.Reason.IsManual() {
			continue
		}

		if a, ok := d.cfg.largeAdjustment(e); ok {
			alerts = append(alerts, a)
		}
		if a, ok := d.cfg.afterHours(e); ok {
			alerts = append(alerts, a)
		}

		count, err := d.repo.CountManualChanges(ctx, e.Actor, e.OccurredAt.Add(-d.cfg.ActivityWindow), e.OccurredAt)
		if err != nil {
			errs = append(errs, fmt.Errorf("count manual changes: %w", err))
		} else if a, ok := d.cfg.multipleAdjustments(e.Actor, count, e.OccurredAt); ok {
			alerts = append(alerts, a)
		}
	}

	now := d.clock.Now()
	for _, productID := range order {
		stock, err := d.repo.ProductStock(ctx, productID)
		if err != nil {
			errs = append(errs, fmt.Errorf("product stock %s: %w", productID, err))
			continue
		}
		if stock < 0 {
			alerts = append(alerts, negativeStock(productID, stock, now))
		}
	}

	sortAlerts(alerts)
	d.report(ctx, alerts)
	return alerts, errors.Join(errs...)
}

// report logs alerts and escalates the CRITICAL ones.
func (d *Detector) report(ctx context.Context, alerts []Alert) {
	for _, a := range alerts {
		if a.Type == entity.AlertNegativeStock {
			logger.Error(ctx, "negative stock detected",
				"product_id", a.ProductID,
				"quantity", a.Quantity,
				"severity", a.Severity,
			)
		} else {
			logger.Warn(ctx, "variance alert",
				"type", a.Type,
				"severity", a.Severity,
				"product_id", a.ProductID,
				"actor", a.Actor,
				"quantity", a.Quantity,
			)
		}
		if a.Severity == entity.SeverityCritical {
			d.escalate(ctx, a)
		}
	}
}

func (d *Detector) escalate(ctx context.Context, a Alert) {
	aggregateID := a.ProductID
	if aggregateID == "" {
		aggregateID = a.Actor
	}
	audit.EscalateQuietly(ctx, d.txm, d.escalator, audit.Escalation{
		AggregateType: "variance_alert",
		AggregateID:   aggregateID,
		EventType:     string(a.Type),
		Payload:       a,
	})
}

// RunDailySummary aggregates the change events of one day into a
// DailyVarianceSummary and stores it, replacing an earlier run for the same
// day. A zero day means yesterday. Storage errors are returned to the
// scheduler.
func (d *Detector) RunDailySummary(ctx context.Context, day time.Time) (*entity.DailyVarianceSummary, error) {
	ctx, span := tracer.Start(ctx, "variance.RunDailySummary")
	defer span.End()

	loc := d.cfg.location()
	if day.IsZero() {
		day = d.clock.Now().In(loc).AddDate(0, 0, -1)
	}
	date := clock.DateOf(day)
	from := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
	to := from.AddDate(0, 0, 1)
	span.SetAttributes(attribute.String("variance.day", date.Format(time.DateOnly)))

	var summary *entity.DailyVarianceSummary
	err := d.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		events, err := d.repo.ListEvents(ctx, from, to)
		if err != nil {
			return fmt.Errorf("list events: %w", err)
		}
		negative, err := d.repo.NegativeStock(ctx)
		if err != nil {
			return fmt.Errorf("negative stock: %w", err)
		}

		summary = d.summarize(date, events, negative)
		id := summary.ID
		if err := d.repo.UpsertSummary(ctx, summary); err != nil {
			return fmt.Errorf("store summary: %w", err)
		}
		if summary.ID != id {
			// A rerun replaced the day's row; its alerts were escalated before.
			return nil
		}

		// Adjustment alerts were escalated when the change was made.
		for _, a := range summary.CriticalAlerts() {
			if a.Type == entity.AlertNegativeStock {
				d.escalate(ctx, a)
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	for _, p := range summary.NegativeStockProducts {
		logger.Error(ctx, "negative stock detected", "product_id", p, "severity", entity.SeverityCritical)
	}
	logger.Info(ctx, "variance summary stored",
		"day", date.Format(time.DateOnly),
		"adjustments", summary.AdjustmentCount,
		"alerts", len(summary.Alerts),
		"value_at_risk", summary.ValueAtRisk.String(),
	)
	return summary, nil
}

func (d *Detector) summarize(date time.Time, events []entity.QuantityChangeEvent, negative []entity.ProductStock) *entity.DailyVarianceSummary {
	now := d.clock.Now()
	s := &entity.DailyVarianceSummary{
		ID:                    entity.NewID(),
		SummaryDate:           date,
		EventCounts:           make(map[string]int64, len(entity.AllReasons)),
		ValueAtRisk:           types.Zero(),
		Alerts:                []Alert{},
		NegativeStockProducts: []string{},
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	for _, r := range entity.AllReasons {
		s.EventCounts[string(r)] = 0
	}

	for _, e := range events {
		s.EventCounts[string(e.Reason)]++
		if !e.Reason.IsManual() {
			continue
		}
		s.AdjustmentCount++
		if e.Delta < 0 {
			s.ValueAtRisk = s.ValueAtRisk.Add(e.Value())
		}
		if a, ok := d.cfg.largeAdjustment(e); ok {
			s.Alerts = append(s.Alerts, a)
		}
		if a, ok := d.cfg.afterHours(e); ok {
			s.Alerts = append(s.Alerts, a)
		}
	}

	for actor, peak := range peakActivity(events, d.cfg.ActivityWindow) {
		if a, ok := d.cfg.multipleAdjustments(actor, peak.Count, peak.At); ok {
			s.Alerts = append(s.Alerts, a)
		}
	}

	for _, p := range negative {
		s.NegativeStockProducts = append(s.NegativeStockProducts, p.ProductID)
		s.Alerts = append(s.Alerts, negativeStock(p.ProductID, p.Quantity, now))
	}

	sortAlerts(s.Alerts)
	return s
}

// GetSummary returns the stored summary of a day.
func (d *Detector) GetSummary(ctx context.Context, day time.Time) (*entity.DailyVarianceSummary, error) {
	var s *entity.DailyVarianceSummary
	err := tx.ReadOnly(ctx, d.txm, func(ctx context.Context) error {
		var err error
		s, err = d.repo.GetSummary(ctx, clock.DateOf(day))
		return err
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ListSummaries returns the stored summaries between two days, inclusive.
func (d *Detector) ListSummaries(ctx context.Context, from, to time.Time) ([]entity.DailyVarianceSummary, error) {
	from, to = clock.DateOf(from), clock.DateOf(to)
	if to.Before(from) {
		return nil, apperror.NewValidation("from must not be after to").
			WithDetail("from", from.Format(time.DateOnly)).
			WithDetail("to", to.Format(time.DateOnly))
	}
	var out []entity.DailyVarianceSummary
	err := tx.ReadOnly(ctx, d.txm, func(ctx context.Context) error {
		var err error
		out, err = d.repo.ListSummaries(ctx, from, to)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
