package memory

import (
	"context"
	"sort"
	"time"

	"ledgercore/internal/core/apperror"
	"ledgercore/internal/core/entity"
)

// ReportRepo implements variance.Repository.
type ReportRepo struct {
	s *Store
}

func summaryKey(day time.Time) string { return day.Format(time.DateOnly) }

// CountManualChanges counts an actor's ADJUSTMENT and WRITE_OFF events in (from, to].
func (r *ReportRepo) CountManualChanges(ctx context.Context, actor string, from, to time.Time) (int64, error) {
	var n int64
	err := r.s.within(ctx, func(ctx context.Context, t *memTx) error {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		for _, rw := range r.s.events {
			e := rw.visible(t.id)
			if e == nil || e.Actor != actor || !e.Reason.IsManual() {
				continue
			}
			if e.OccurredAt.After(from) && !e.OccurredAt.After(to) {
				n++
			}
		}
		return nil
	})
	return n, err
}

// ProductStock sums remaining quantity over ACTIVE, non-retired batches.
func (r *ReportRepo) ProductStock(ctx context.Context, productID string) (int64, error) {
	return r.s.productStock(ctx, productID)
}

// NegativeStock lists products whose ACTIVE-batch remainder is below zero.
func (r *ReportRepo) NegativeStock(ctx context.Context) ([]entity.ProductStock, error) {
	totals := make(map[string]int64)
	err := r.s.within(ctx, func(ctx context.Context, t *memTx) error {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		for _, rw := range r.s.batches {
			if b := rw.visible(t.id); b != nil && b.Active && b.Status == entity.BatchStatusActive {
				totals[b.ProductID] += b.QuantityRemaining
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var out []entity.ProductStock
	for product, qty := range totals {
		if qty < 0 {
			out = append(out, entity.ProductStock{ProductID: product, Quantity: qty})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

// ListEvents returns events with from <= occurred_at < to.
func (r *ReportRepo) ListEvents(ctx context.Context, from, to time.Time) ([]entity.QuantityChangeEvent, error) {
	var out []entity.QuantityChangeEvent
	err := r.s.within(ctx, func(ctx context.Context, t *memTx) error {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		for _, rw := range r.s.events {
			if e := rw.visible(t.id); e != nil && !e.OccurredAt.Before(from) && e.OccurredAt.Before(to) {
				out = append(out, *e)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, err
}

// UpsertSummary stores the summary of its day.
func (r *ReportRepo) UpsertSummary(ctx context.Context, s *entity.DailyVarianceSummary) error {
	key := summaryKey(s.SummaryDate)
	return r.s.within(ctx, func(ctx context.Context, t *memTx) error {
		if err := writable(t); err != nil {
			return err
		}
		if err := r.s.lock(ctx, t, "daily_variance_summaries:"+key); err != nil {
			return err
		}

		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		rw, ok := r.s.summaries[key]
		if !ok {
			rw = &row[entity.DailyVarianceSummary]{}
			r.s.summaries[key] = rw
		}
		if existing := rw.visible(t.id); existing != nil {
			s.ID = existing.ID
			s.CreatedAt = existing.CreatedAt
		}
		write(t, rw, cloneSummary(s))
		return nil
	})
}

// GetSummary returns the summary of day.
func (r *ReportRepo) GetSummary(ctx context.Context, day time.Time) (*entity.DailyVarianceSummary, error) {
	var out *entity.DailyVarianceSummary
	err := r.s.within(ctx, func(ctx context.Context, t *memTx) error {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		if rw, ok := r.s.summaries[summaryKey(day)]; ok {
			if s := rw.visible(t.id); s != nil {
				c := cloneSummary(s)
				out = &c
				return nil
			}
		}
		return apperror.NewNotFound("daily_variance_summary", summaryKey(day))
	})
	return out, err
}

// ListSummaries returns summaries with from <= day <= to.
func (r *ReportRepo) ListSummaries(ctx context.Context, from, to time.Time) ([]entity.DailyVarianceSummary, error) {
	out := []entity.DailyVarianceSummary{}
	err := r.s.within(ctx, func(ctx context.Context, t *memTx) error {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		for _, rw := range r.s.summaries {
			s := rw.visible(t.id)
			if s == nil || s.SummaryDate.Before(from) || s.SummaryDate.After(to) {
				continue
			}
			out = append(out, cloneSummary(s))
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].SummaryDate.Before(out[j].SummaryDate) })
	return out, err
}

func cloneSummary(s *entity.DailyVarianceSummary) entity.DailyVarianceSummary {
	c := *s
	c.EventCounts = make(map[string]int64, len(s.EventCounts))
	for k, v := range s.EventCounts {
		c.EventCounts[k] = v
	}
	c.Alerts = append([]entity.VarianceAlert{}, s.Alerts...)
	c.NegativeStockProducts = append([]string{}, s.NegativeStockProducts...)
	return c
}
