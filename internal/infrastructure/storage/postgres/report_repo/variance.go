// Package report_repo provides the PostgreSQL variance reporting repository.
package report_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"ledgercore/internal/core/apperror"
	"ledgercore/internal/core/entity"
	"ledgercore/internal/domain/variance"
	"ledgercore/internal/infrastructure/storage/postgres"
)

const (
	batchesTable   = "product_batches"
	eventsTable    = "quantity_change_events"
	summariesTable = "daily_variance_summaries"
)

var (
	eventColumns   = postgres.ExtractDBColumns[entity.QuantityChangeEvent]()
	summaryColumns = postgres.ExtractDBColumns[entity.DailyVarianceSummary]()
)

// manualReasons are the reasons keyed in by staff.
var manualReasons = []string{string(entity.ReasonAdjustment), string(entity.ReasonWriteOff)}

// ReportRepo implements variance.Repository.
type ReportRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

var _ variance.Repository = (*ReportRepo)(nil)

// NewReportRepo creates a new report repository.
func NewReportRepo(txm *postgres.TxManager) *ReportRepo {
	return &ReportRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (r *ReportRepo) manualCountQuery(actor string, from, to time.Time) squirrel.SelectBuilder {
	return r.builder.Select("COUNT(*)").
		From(eventsTable).
		Where(squirrel.Eq{"actor": actor, "reason": manualReasons}).
		Where(squirrel.Gt{"occurred_at": from}).
		Where(squirrel.LtOrEq{"occurred_at": to})
}

// CountManualChanges counts an actor's ADJUSTMENT and WRITE_OFF events in (from, to].
func (r *ReportRepo) CountManualChanges(ctx context.Context, actor string, from, to time.Time) (int64, error) {
	sql, args, err := r.manualCountQuery(actor, from, to).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}

	var n int64
	if err := r.txm.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count manual changes: %w", postgres.MapError(err))
	}
	return n, nil
}

// ProductStock sums remaining quantity over ACTIVE, non-retired batches.
func (r *ReportRepo) ProductStock(ctx context.Context, productID string) (int64, error) {
	sql, args, err := r.builder.Select("COALESCE(SUM(quantity_remaining), 0)::bigint").
		From(batchesTable).
		Where(squirrel.Eq{"product_id": productID, "status": string(entity.BatchStatusActive), "active": true}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}

	var qty int64
	if err := r.txm.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&qty); err != nil {
		return 0, fmt.Errorf("product stock: %w", postgres.MapError(err))
	}
	return qty, nil
}

func (r *ReportRepo) negativeStockQuery() squirrel.SelectBuilder {
	return r.builder.Select("product_id", "SUM(quantity_remaining)::bigint AS quantity").
		From(batchesTable).
		Where(squirrel.Eq{"status": string(entity.BatchStatusActive), "active": true}).
		GroupBy("product_id").
		Having("SUM(quantity_remaining) < ?", 0).
		OrderBy("product_id")
}

// NegativeStock lists products whose ACTIVE-batch remainder is below zero.
// The batch CHECK constraint keeps this empty unless rows were written
// around the ledger; it is reported, never blocking.
func (r *ReportRepo) NegativeStock(ctx context.Context) ([]entity.ProductStock, error) {
	sql, args, err := r.negativeStockQuery().ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var out []entity.ProductStock
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &out, sql, args...); err != nil {
		return nil, fmt.Errorf("negative stock: %w", postgres.MapError(err))
	}
	return out, nil
}

// ListEvents returns events with from <= occurred_at < to, oldest first.
func (r *ReportRepo) ListEvents(ctx context.Context, from, to time.Time) ([]entity.QuantityChangeEvent, error) {
	sql, args, err := r.builder.Select(eventColumns...).
		From(eventsTable).
		Where(squirrel.GtOrEq{"occurred_at": from}).
		Where(squirrel.Lt{"occurred_at": to}).
		OrderBy("occurred_at", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var events []entity.QuantityChangeEvent
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &events, sql, args...); err != nil {
		return nil, fmt.Errorf("list events: %w", postgres.MapError(err))
	}
	return events, nil
}

func (r *ReportRepo) upsertQuery(s *entity.DailyVarianceSummary) squirrel.InsertBuilder {
	alerts := s.Alerts
	if alerts == nil {
		alerts = []entity.VarianceAlert{}
	}
	negative := s.NegativeStockProducts
	if negative == nil {
		negative = []string{}
	}

	return r.builder.Insert(summariesTable).
		Columns(summaryColumns...).
		Values(s.ID, s.SummaryDate, s.EventCounts, s.AdjustmentCount, s.ValueAtRisk,
			alerts, negative, s.CreatedAt, s.UpdatedAt).
		Suffix(`ON CONFLICT (summary_date) DO UPDATE SET
			event_counts = EXCLUDED.event_counts,
			adjustment_count = EXCLUDED.adjustment_count,
			value_at_risk = EXCLUDED.value_at_risk,
			alerts = EXCLUDED.alerts,
			negative_stock_products = EXCLUDED.negative_stock_products,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at`)
}

// UpsertSummary stores the summary of its day. A rerun keeps the row's ID and
// CreatedAt and writes them back to s.
func (r *ReportRepo) UpsertSummary(ctx context.Context, s *entity.DailyVarianceSummary) error {
	sql, args, err := r.upsertQuery(s).ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	if err := r.txm.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&s.ID, &s.CreatedAt); err != nil {
		return fmt.Errorf("upsert variance summary: %w", postgres.MapError(err))
	}
	return nil
}

// GetSummary returns the summary of day.
func (r *ReportRepo) GetSummary(ctx context.Context, day time.Time) (*entity.DailyVarianceSummary, error) {
	sql, args, err := r.builder.Select(summaryColumns...).
		From(summariesTable).
		Where(squirrel.Eq{"summary_date": day}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var s entity.DailyVarianceSummary
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &s, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("daily_variance_summary", day.Format(time.DateOnly))
		}
		return nil, fmt.Errorf("get variance summary: %w", postgres.MapError(err))
	}
	return &s, nil
}

// ListSummaries returns summaries with from <= day <= to, oldest first.
func (r *ReportRepo) ListSummaries(ctx context.Context, from, to time.Time) ([]entity.DailyVarianceSummary, error) {
	sql, args, err := r.builder.Select(summaryColumns...).
		From(summariesTable).
		Where(squirrel.GtOrEq{"summary_date": from}).
		Where(squirrel.LtOrEq{"summary_date": to}).
		OrderBy("summary_date").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	summaries := []entity.DailyVarianceSummary{}
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &summaries, sql, args...); err != nil {
		return nil, fmt.Errorf("list variance summaries: %w", postgres.MapError(err))
	}
	return summaries, nil
}
