// Package register_repo provides the PostgreSQL batch ledger repository:
// product batches and their append-only quantity change events.
package register_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"ledgercore/internal/core/apperror"
	"ledgercore/internal/core/entity"
	"ledgercore/internal/domain/batch"
	"ledgercore/internal/domain/expiry"
	"ledgercore/internal/infrastructure/storage/postgres"
)

const (
	batchesTable = "product_batches"
	eventsTable  = "quantity_change_events"

	// fefoOrder: earliest expiry first, undated batches last, batch id breaks ties.
	fefoOrder = "expiry_date ASC NULLS LAST, id ASC"
)

var (
	batchColumns = postgres.ExtractDBColumns[entity.ProductBatch]()
	eventColumns = postgres.ExtractDBColumns[entity.QuantityChangeEvent]()
)

// BatchRepo implements batch.Repository and expiry.Repository.
type BatchRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

var (
	_ batch.Repository  = (*BatchRepo)(nil)
	_ expiry.Repository = (*BatchRepo)(nil)
)

// NewBatchRepo creates a new batch repository.
func NewBatchRepo(txm *postgres.TxManager) *BatchRepo {
	return &BatchRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// sellable restricts a query to batches taking part in allocation.
func sellable() squirrel.Sqlizer {
	return squirrel.Eq{"status": string(entity.BatchStatusActive), "active": true}
}

func (r *BatchRepo) selectBatches() squirrel.SelectBuilder {
	return r.builder.Select(batchColumns...).From(batchesTable)
}

func (r *BatchRepo) list(ctx context.Context, q squirrel.SelectBuilder) ([]*entity.ProductBatch, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var batches []*entity.ProductBatch
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &batches, sql, args...); err != nil {
		return nil, fmt.Errorf("select batches: %w", postgres.MapError(err))
	}
	return batches, nil
}

func (r *BatchRepo) getOne(ctx context.Context, q squirrel.SelectBuilder, id entity.ID) (*entity.ProductBatch, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var b entity.ProductBatch
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &b, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("product_batch", id)
		}
		return nil, fmt.Errorf("get batch: %w", postgres.MapError(err))
	}
	return &b, nil
}

// Create inserts a new batch.
func (r *BatchRepo) Create(ctx context.Context, b *entity.ProductBatch) error {
	sql, args, err := r.builder.Insert(batchesTable).
		SetMap(postgres.StructToMap(b)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert batch: %w", postgres.MapError(err))
	}
	return nil
}

// Get returns a batch without locking it.
func (r *BatchRepo) Get(ctx context.Context, id entity.ID) (*entity.ProductBatch, error) {
	return r.getOne(ctx, r.selectBatches().Where(squirrel.Eq{"id": id}), id)
}

// GetForUpdate returns a batch holding its row lock.
func (r *BatchRepo) GetForUpdate(ctx context.Context, id entity.ID) (*entity.ProductBatch, error) {
	return r.getOne(ctx, r.selectBatches().Where(squirrel.Eq{"id": id}).Suffix("FOR UPDATE"), id)
}

// sellableQuery selects the allocatable batches of a product in FEFO order.
func (r *BatchRepo) sellableQuery(productID string) squirrel.SelectBuilder {
	return r.selectBatches().
		Where(squirrel.Eq{"product_id": productID}).
		Where(sellable()).
		Where(squirrel.Gt{"quantity_remaining": 0}).
		OrderBy(fefoOrder).
		Suffix("FOR UPDATE")
}

// ListSellableForUpdate locks the product's sellable batches in FEFO order.
// Locks are taken in the same order by every sale, so two sales of the
// same product cannot deadlock on each other.
func (r *BatchRepo) ListSellableForUpdate(ctx context.Context, productID string) ([]*entity.ProductBatch, error) {
	return r.list(ctx, r.sellableQuery(productID))
}

// expiringQuery selects batches due to expire on or before day.
func (r *BatchRepo) expiringQuery(day time.Time) squirrel.SelectBuilder {
	return r.selectBatches().
		Where(sellable()).
		Where(squirrel.LtOrEq{"expiry_date": day}).
		OrderBy(fefoOrder).
		Suffix("FOR UPDATE")
}

// ListExpiringForUpdate locks the batches due to expire on or before day.
func (r *BatchRepo) ListExpiringForUpdate(ctx context.Context, day time.Time) ([]*entity.ProductBatch, error) {
	return r.list(ctx, r.expiringQuery(day))
}

// nearExpiryQuery selects batches with stock expiring within [from, to].
func (r *BatchRepo) nearExpiryQuery(from, to time.Time) squirrel.SelectBuilder {
	return r.selectBatches().
		Where(sellable()).
		Where(squirrel.Gt{"quantity_remaining": 0}).
		Where(squirrel.GtOrEq{"expiry_date": from}).
		Where(squirrel.LtOrEq{"expiry_date": to}).
		OrderBy(fefoOrder)
}

// ListNearExpiry returns batches with stock expiring within [from, to].
func (r *BatchRepo) ListNearExpiry(ctx context.Context, from, to time.Time) ([]*entity.ProductBatch, error) {
	return r.list(ctx, r.nearExpiryQuery(from, to))
}

// Update persists remaining quantity, status and the active flag.
func (r *BatchRepo) Update(ctx context.Context, b *entity.ProductBatch) error {
	if err := b.Validate(); err != nil {
		return err
	}

	sql, args, err := r.builder.Update(batchesTable).
		Set("quantity_remaining", b.QuantityRemaining).
		Set("status", string(b.Status)).
		Set("active", b.Active).
		Set("updated_at", b.UpdatedAt).
		Where(squirrel.Eq{"id": b.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update batch: %w", postgres.MapError(err))
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("product_batch", b.ID)
	}
	return nil
}

// listQuery applies filter to a batch listing.
func (r *BatchRepo) listQuery(filter entity.BatchFilter) squirrel.SelectBuilder {
	q := r.selectBatches()
	if filter.ProductID != "" {
		q = q.Where(squirrel.Eq{"product_id": filter.ProductID})
	}
	if filter.Status != "" {
		q = q.Where(squirrel.Eq{"status": string(filter.Status)})
	}
	if !filter.IncludeInactive {
		q = q.Where(squirrel.Eq{"active": true})
	}
	q = q.OrderBy(fefoOrder)
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}
	return q
}

// List returns batches matching the filter in FEFO order.
func (r *BatchRepo) List(ctx context.Context, filter entity.BatchFilter) ([]*entity.ProductBatch, error) {
	return r.list(ctx, r.listQuery(filter))
}

// stockQuery sums the sellable remainder of a product.
func (r *BatchRepo) stockQuery(productID string) squirrel.SelectBuilder {
	return r.builder.Select("COALESCE(SUM(quantity_remaining), 0)::bigint").
		From(batchesTable).
		Where(squirrel.Eq{"product_id": productID}).
		Where(sellable())
}

// ProductStock sums remaining quantity over ACTIVE, non-retired batches.
func (r *BatchRepo) ProductStock(ctx context.Context, productID string) (int64, error) {
	sql, args, err := r.stockQuery(productID).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}

	var qty int64
	if err := r.txm.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&qty); err != nil {
		return 0, fmt.Errorf("product stock: %w", postgres.MapError(err))
	}
	return qty, nil
}

// AppendEvents batch inserts change events.
func (r *BatchRepo) AppendEvents(ctx context.Context, events []entity.QuantityChangeEvent) error {
	if len(events) == 0 {
		return nil
	}

	// Fast path: COPY when inside a transaction.
	if tx := r.txm.GetTx(ctx); tx != nil {
		inserter := postgres.NewBatchInserter(r.txm)
		rows := postgres.StructRows(events, eventColumns)
		if _, err := inserter.CopyFromSlice(ctx, eventsTable, eventColumns, rows); err != nil {
			return fmt.Errorf("copy events: %w", err)
		}
		return nil
	}

	sql, args, err := r.insertEventsQuery(events).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert events: %w", postgres.MapError(err))
	}
	return nil
}

// insertEventsQuery is the multi-row INSERT used outside a transaction.
func (r *BatchRepo) insertEventsQuery(events []entity.QuantityChangeEvent) squirrel.InsertBuilder {
	q := r.builder.Insert(eventsTable).Columns(eventColumns...)
	for _, e := range events {
		q = q.Values(e.ID, e.BatchID, e.ProductID, e.Delta, string(e.Reason), e.Actor, e.UnitCost, e.Reference, e.OccurredAt)
	}
	return q
}

// ListEvents returns the events of a batch in occurrence order.
func (r *BatchRepo) ListEvents(ctx context.Context, batchID entity.ID) ([]entity.QuantityChangeEvent, error) {
	sql, args, err := r.builder.Select(eventColumns...).
		From(eventsTable).
		Where(squirrel.Eq{"batch_id": batchID}).
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
