package sequence

import (
	"context"
	"fmt"
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
	"ledgercore/internal/domain/audit"
	"ledgercore/pkg/logger"
)

var tracer = otel.Tracer("ledgercore/sequence")

// Service allocates document numbers.
type Service struct {
	repo  Repository
	txm   tx.Manager
	clock clock.Clock
	cfg   Config
	audit audit.Recorder
}

// NewService creates a sequence allocator.
func NewService(repo Repository, txm tx.Manager, clk clock.Clock, cfg Config) *Service {
	return &Service{
		repo:  repo,
		txm:   txm,
		clock: clk,
		cfg:   cfg,
	}
}

// WithAudit records period provisioning and counter resets.
func (s *Service) WithAudit(r audit.Recorder) *Service {
	s.audit = r
	return s
}

// Config returns the numbering configuration.
func (s *Service) Config() Config {
	return s.cfg
}

// Allocate returns the next number of series for the fiscal period covering today.
//
// With the strict strategy the increment joins the transaction in ctx (one
// is opened when absent) and the period row stays locked until that
// transaction ends. Callers allocate as late as possible so the lock is
// held briefly.
func (s *Service) Allocate(ctx context.Context, series string) (entity.DocumentNumber, error) {
	ctx, span := tracer.Start(ctx, "sequence.Allocate",
		trace.WithAttributes(
			attribute.String("sequence.series", series),
			attribute.String("sequence.strategy", s.cfg.Strategy.String()),
		))
	defer span.End()

	if strings.TrimSpace(series) == "" {
		return entity.DocumentNumber{}, apperror.NewValidation("series is required")
	}

	run := s.txm.RunInTransaction
	if s.cfg.Strategy == StrategyIndependent {
		run = s.txm.RunIndependent
	}

	var number entity.DocumentNumber
	err := run(ctx, func(ctx context.Context) error {
		n, err := s.next(ctx, series)
		if err != nil {
			return err
		}
		number = n
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return entity.DocumentNumber{}, err
	}

	span.SetAttributes(attribute.Int64("sequence.value", number.Value))
	return number, nil
}

func (s *Service) next(ctx context.Context, series string) (entity.DocumentNumber, error) {
	today := clock.Today(s.clock)

	period, err := s.repo.FindCurrentForUpdate(ctx, series, today)
	if err != nil {
		if apperror.IsNotFound(err) {
			return entity.DocumentNumber{}, apperror.NewPeriodNotFound(series, today.Format(time.DateOnly))
		}
		return entity.DocumentNumber{}, err
	}

	value := period.LastIssued + 1
	if err := s.repo.UpdateLastIssued(ctx, period.ID, value); err != nil {
		return entity.DocumentNumber{}, fmt.Errorf("update last issued: %w", err)
	}

	return entity.DocumentNumber{
		Series:      series,
		PeriodStart: period.PeriodStart,
		Value:       value,
		Formatted:   s.cfg.Format(series, period.PeriodStart, value),
	}, nil
}

// ProvisionPeriod creates a fiscal period for series starting at start.
// Numbering in the period begins at base+1.
func (s *Service) ProvisionPeriod(ctx context.Context, series string, start time.Time, base int64) (*entity.FiscalPeriod, error) {
	if strings.TrimSpace(series) == "" {
		return nil, apperror.NewValidation("series is required")
	}
	if base < 0 {
		return nil, apperror.NewValidation("base number must not be negative")
	}

	period := entity.NewFiscalPeriod(series, start, base)
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, period); err != nil {
			return err
		}
		audit.RecordQuietly(ctx, s.txm, s.audit, audit.Entry{
			EntityType: "fiscal_period",
			EntityID:   period.ID.String(),
			Action:     audit.ActionProvision,
			Changes: map[string]any{
				"series":       series,
				"period_start": period.PeriodStart.Format(time.DateOnly),
				"last_issued":  base,
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "fiscal period provisioned",
		"series", series,
		"period_start", period.PeriodStart.Format(time.DateOnly),
		"base", base,
	)
	return period, nil
}

// CurrentPeriod returns the period of series covering today without locking it.
func (s *Service) CurrentPeriod(ctx context.Context, series string) (*entity.FiscalPeriod, error) {
	today := clock.Today(s.clock)
	period, err := s.repo.FindCurrent(ctx, series, today)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, apperror.NewPeriodNotFound(series, today.Format(time.DateOnly))
		}
		return nil, err
	}
	return period, nil
}

// ListPeriods returns every period of series ordered by start.
func (s *Service) ListPeriods(ctx context.Context, series string) ([]entity.FiscalPeriod, error) {
	return s.repo.List(ctx, series)
}

// SetLastIssued moves the counter of a period forward, e.g. when importing
// numbers issued by a previous system. Moving it backwards would reissue
// numbers and is refused.
func (s *Service) SetLastIssued(ctx context.Context, series string, start time.Time, value int64) error {
	start = clock.DateOf(start)
	return s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		period, err := s.repo.GetForUpdate(ctx, series, start)
		if err != nil {
			if apperror.IsNotFound(err) {
				return apperror.NewPeriodNotFound(series, start.Format(time.DateOnly))
			}
			return err
		}
		if value < period.LastIssued {
			return apperror.NewConflict("counter cannot move backwards").
				WithDetail("last_issued", period.LastIssued).
				WithDetail("requested", value)
		}
		if value == period.LastIssued {
			return nil
		}
		if err := s.repo.UpdateLastIssued(ctx, period.ID, value); err != nil {
			return fmt.Errorf("update last issued: %w", err)
		}
		audit.RecordQuietly(ctx, s.txm, s.audit, audit.Entry{
			EntityType: "fiscal_period",
			EntityID:   period.ID.String(),
			Action:     audit.ActionReset,
			Changes: map[string]any{
				"last_issued": map[string]any{"old": period.LastIssued, "new": value},
			},
		})
		return nil
	})
}
