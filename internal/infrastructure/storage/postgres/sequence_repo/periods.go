// Package sequence_repo provides the PostgreSQL fiscal period repository.
package sequence_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"ledgercore/internal/core/apperror"
	"ledgercore/internal/core/entity"
	"ledgercore/internal/domain/sequence"
	"ledgercore/internal/infrastructure/storage/postgres"
)

const periodsTable = "fiscal_periods"

var periodColumns = postgres.ExtractDBColumns[entity.FiscalPeriod]()

// PeriodRepo implements sequence.Repository.
type PeriodRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

var _ sequence.Repository = (*PeriodRepo)(nil)

// NewPeriodRepo creates a new fiscal period repository.
func NewPeriodRepo(txm *postgres.TxManager) *PeriodRepo {
	return &PeriodRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// currentQuery selects the latest period of series starting on or before day.
func (r *PeriodRepo) currentQuery(series string, day time.Time) squirrel.SelectBuilder {
	return r.builder.Select(periodColumns...).
		From(periodsTable).
		Where(squirrel.Eq{"series": series}).
		Where(squirrel.LtOrEq{"period_start": day}).
		OrderBy("period_start DESC").
		Limit(1)
}

func (r *PeriodRepo) getOne(ctx context.Context, q squirrel.SelectBuilder, notFoundID string) (*entity.FiscalPeriod, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var p entity.FiscalPeriod
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &p, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("fiscal_period", notFoundID)
		}
		return nil, fmt.Errorf("get fiscal period: %w", postgres.MapError(err))
	}
	return &p, nil
}

// FindCurrentForUpdate locks the current period row. The wait is bounded by
// the transaction's lock_timeout.
func (r *PeriodRepo) FindCurrentForUpdate(ctx context.Context, series string, day time.Time) (*entity.FiscalPeriod, error) {
	return r.getOne(ctx, r.currentQuery(series, day).Suffix("FOR UPDATE"), series)
}

// FindCurrent returns the current period without locking.
func (r *PeriodRepo) FindCurrent(ctx context.Context, series string, day time.Time) (*entity.FiscalPeriod, error) {
	return r.getOne(ctx, r.currentQuery(series, day), series)
}

// GetForUpdate locks the period of series starting at start.
func (r *PeriodRepo) GetForUpdate(ctx context.Context, series string, start time.Time) (*entity.FiscalPeriod, error) {
	q := r.builder.Select(periodColumns...).
		From(periodsTable).
		Where(squirrel.Eq{"series": series, "period_start": start}).
		Suffix("FOR UPDATE")
	return r.getOne(ctx, q, series+"/"+start.Format(time.DateOnly))
}

// UpdateLastIssued stores the counter value.
func (r *PeriodRepo) UpdateLastIssued(ctx context.Context, periodID entity.ID, lastIssued int64) error {
	sql, args, err := r.builder.Update(periodsTable).
		Set("last_issued", lastIssued).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": periodID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update last issued: %w", postgres.MapError(err))
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("fiscal_period", periodID)
	}
	return nil
}

// Create inserts a period. The unique (series, period_start) constraint
// surfaces as Duplicate.
func (r *PeriodRepo) Create(ctx context.Context, period *entity.FiscalPeriod) error {
	sql, args, err := r.builder.Insert(periodsTable).
		SetMap(postgres.StructToMap(period)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		err = postgres.MapError(err)
		if apperror.IsCode(err, apperror.CodeDuplicate) {
			return apperror.NewDuplicate("fiscal_period", "period_start", period.PeriodStart.Format(time.DateOnly)).WithCause(err)
		}
		return fmt.Errorf("insert fiscal period: %w", err)
	}
	return nil
}

// List returns the periods of series ordered by start.
func (r *PeriodRepo) List(ctx context.Context, series string) ([]entity.FiscalPeriod, error) {
	sql, args, err := r.builder.Select(periodColumns...).
		From(periodsTable).
		Where(squirrel.Eq{"series": series}).
		OrderBy("period_start").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var periods []entity.FiscalPeriod
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &periods, sql, args...); err != nil {
		return nil, fmt.Errorf("list fiscal periods: %w", postgres.MapError(err))
	}
	return periods, nil
}
