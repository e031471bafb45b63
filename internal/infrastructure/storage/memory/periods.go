package memory

import (
	"context"
	"sort"
	"time"

	"ledgercore/internal/core/apperror"
	"ledgercore/internal/core/entity"
)

// PeriodRepo implements sequence.Repository.
type PeriodRepo struct {
	s *Store
}

func periodLockKey(id entity.ID) string { return "fiscal_periods:" + id.String() }

// current finds the id of the latest period of series starting on or before day.
func (r *PeriodRepo) current(t *memTx, series string, day time.Time) (entity.ID, bool) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var (
		best  *entity.FiscalPeriod
		found bool
	)
	for _, rw := range r.s.periods {
		p := rw.visible(t.id)
		if p == nil || p.Series != series || p.PeriodStart.After(day) {
			continue
		}
		if !found || p.PeriodStart.After(best.PeriodStart) {
			best, found = p, true
		}
	}
	if !found {
		return entity.ID{}, false
	}
	return best.ID, true
}

func (r *PeriodRepo) get(t *memTx, id entity.ID) *entity.FiscalPeriod {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if rw, ok := r.s.periods[id]; ok {
		if p := rw.visible(t.id); p != nil {
			c := *p
			return &c
		}
	}
	return nil
}

// FindCurrentForUpdate locks the current period of series.
func (r *PeriodRepo) FindCurrentForUpdate(ctx context.Context, series string, day time.Time) (*entity.FiscalPeriod, error) {
	var out *entity.FiscalPeriod
	err := r.s.within(ctx, func(ctx context.Context, t *memTx) error {
		id, ok := r.current(t, series, day)
		if !ok {
			return apperror.NewNotFound("fiscal_period", series)
		}
		if err := r.s.lock(ctx, t, periodLockKey(id)); err != nil {
			return err
		}
		out = r.get(t, id)
		return nil
	})
	return out, err
}

// FindCurrent returns the current period of series without locking.
func (r *PeriodRepo) FindCurrent(ctx context.Context, series string, day time.Time) (*entity.FiscalPeriod, error) {
	var out *entity.FiscalPeriod
	err := r.s.within(ctx, func(ctx context.Context, t *memTx) error {
		id, ok := r.current(t, series, day)
		if !ok {
			return apperror.NewNotFound("fiscal_period", series)
		}
		out = r.get(t, id)
		return nil
	})
	return out, err
}

// GetForUpdate locks the period of series starting at start.
func (r *PeriodRepo) GetForUpdate(ctx context.Context, series string, start time.Time) (*entity.FiscalPeriod, error) {
	var out *entity.FiscalPeriod
	err := r.s.within(ctx, func(ctx context.Context, t *memTx) error {
		var (
			id    entity.ID
			found bool
		)
		r.s.mu.Lock()
		for _, rw := range r.s.periods {
			if p := rw.visible(t.id); p != nil && p.Series == series && p.PeriodStart.Equal(start) {
				id, found = p.ID, true
				break
			}
		}
		r.s.mu.Unlock()
		if !found {
			return apperror.NewNotFound("fiscal_period", series+"/"+start.Format(time.DateOnly))
		}
		if err := r.s.lock(ctx, t, periodLockKey(id)); err != nil {
			return err
		}
		out = r.get(t, id)
		return nil
	})
	return out, err
}

// UpdateLastIssued stores the counter value.
func (r *PeriodRepo) UpdateLastIssued(ctx context.Context, periodID entity.ID, lastIssued int64) error {
	return r.s.within(ctx, func(ctx context.Context, t *memTx) error {
		if err := writable(t); err != nil {
			return err
		}
		if err := r.s.lock(ctx, t, periodLockKey(periodID)); err != nil {
			return err
		}

		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		rw, ok := r.s.periods[periodID]
		if !ok || rw.visible(t.id) == nil {
			return apperror.NewNotFound("fiscal_period", periodID)
		}
		p := *rw.visible(t.id)
		p.LastIssued = lastIssued
		p.UpdatedAt = time.Now().UTC()
		write(t, rw, p)
		return nil
	})
}

// Create inserts a period.
func (r *PeriodRepo) Create(ctx context.Context, period *entity.FiscalPeriod) error {
	return r.s.within(ctx, func(ctx context.Context, t *memTx) error {
		if err := writable(t); err != nil {
			return err
		}

		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		for _, rw := range r.s.periods {
			if !rw.exists() {
				continue
			}
			p := rw.pending
			if p == nil {
				p = rw.committed
			}
			if p.Series == period.Series && p.PeriodStart.Equal(period.PeriodStart) {
				return apperror.NewDuplicate("fiscal_period", "period_start", period.PeriodStart.Format(time.DateOnly))
			}
		}
		rw := &row[entity.FiscalPeriod]{}
		r.s.periods[period.ID] = rw
		write(t, rw, *period)
		return nil
	})
}

// List returns the periods of series ordered by start.
func (r *PeriodRepo) List(ctx context.Context, series string) ([]entity.FiscalPeriod, error) {
	var out []entity.FiscalPeriod
	err := r.s.within(ctx, func(ctx context.Context, t *memTx) error {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		for _, rw := range r.s.periods {
			if p := rw.visible(t.id); p != nil && p.Series == series {
				out = append(out, *p)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodStart.Before(out[j].PeriodStart) })
	return out, err
}
