package memory

import (
	"context"
	"sort"
	"time"

	"ledgercore/internal/core/apperror"
	"ledgercore/internal/core/entity"
)

// BatchRepo implements batch.Repository and expiry.Repository.
type BatchRepo struct {
	s *Store
}

func batchLockKey(id entity.ID) string { return "product_batches:" + id.String() }

// fefoLess orders by expiry date (missing dates last), then id.
func fefoLess(a, b *entity.ProductBatch) bool {
	switch {
	case a.ExpiryDate == nil && b.ExpiryDate != nil:
		return false
	case a.ExpiryDate != nil && b.ExpiryDate == nil:
		return true
	case a.ExpiryDate != nil && b.ExpiryDate != nil && !a.ExpiryDate.Equal(*b.ExpiryDate):
		return a.ExpiryDate.Before(*b.ExpiryDate)
	}
	return entity.CompareIDs(a.ID, b.ID) < 0
}

// scan returns copies of the batches visible to t that match keep, in FEFO order.
func (r *BatchRepo) scan(t *memTx, keep func(*entity.ProductBatch) bool) []*entity.ProductBatch {
	r.s.mu.Lock()
	var out []*entity.ProductBatch
	for _, rw := range r.s.batches {
		if b := rw.visible(t.id); b != nil && keep(b) {
			out = append(out, b.Clone())
		}
	}
	r.s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return fefoLess(out[i], out[j]) })
	return out
}

func (r *BatchRepo) get(t *memTx, id entity.ID) *entity.ProductBatch {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if rw, ok := r.s.batches[id]; ok {
		if b := rw.visible(t.id); b != nil {
			return b.Clone()
		}
	}
	return nil
}

// lockMatching locks candidates one by one in the given order and keeps the
// rows that still match after the lock is held.
func (r *BatchRepo) lockMatching(ctx context.Context, t *memTx, candidates []*entity.ProductBatch, keep func(*entity.ProductBatch) bool) ([]*entity.ProductBatch, error) {
	out := make([]*entity.ProductBatch, 0, len(candidates))
	for _, c := range candidates {
		if err := r.s.lock(ctx, t, batchLockKey(c.ID)); err != nil {
			return nil, err
		}
		if b := r.get(t, c.ID); b != nil && keep(b) {
			out = append(out, b)
		}
	}
	return out, nil
}

// Create inserts a batch.
func (r *BatchRepo) Create(ctx context.Context, b *entity.ProductBatch) error {
	return r.s.within(ctx, func(ctx context.Context, t *memTx) error {
		if err := writable(t); err != nil {
			return err
		}
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		if rw, ok := r.s.batches[b.ID]; ok && rw.exists() {
			return apperror.NewDuplicate("product_batch", "id", b.ID.String())
		}
		rw := &row[entity.ProductBatch]{}
		r.s.batches[b.ID] = rw
		write(t, rw, *b.Clone())
		return nil
	})
}

// Get returns a batch.
func (r *BatchRepo) Get(ctx context.Context, id entity.ID) (*entity.ProductBatch, error) {
	var out *entity.ProductBatch
	err := r.s.within(ctx, func(ctx context.Context, t *memTx) error {
		out = r.get(t, id)
		if out == nil {
			return apperror.NewNotFound("product_batch", id)
		}
		return nil
	})
	return out, err
}

// GetForUpdate returns a batch with its row lock held.
func (r *BatchRepo) GetForUpdate(ctx context.Context, id entity.ID) (*entity.ProductBatch, error) {
	var out *entity.ProductBatch
	err := r.s.within(ctx, func(ctx context.Context, t *memTx) error {
		if r.get(t, id) == nil {
			return apperror.NewNotFound("product_batch", id)
		}
		if err := r.s.lock(ctx, t, batchLockKey(id)); err != nil {
			return err
		}
		out = r.get(t, id)
		return nil
	})
	return out, err
}

// ListSellableForUpdate locks the sellable batches of a product in FEFO order.
func (r *BatchRepo) ListSellableForUpdate(ctx context.Context, productID string) ([]*entity.ProductBatch, error) {
	keep := func(b *entity.ProductBatch) bool {
		return b.ProductID == productID && b.Sellable()
	}
	var out []*entity.ProductBatch
	err := r.s.within(ctx, func(ctx context.Context, t *memTx) error {
		var err error
		out, err = r.lockMatching(ctx, t, r.scan(t, keep), keep)
		return err
	})
	return out, err
}

// ListExpiringForUpdate locks ACTIVE batches expiring on or before day.
func (r *BatchRepo) ListExpiringForUpdate(ctx context.Context, day time.Time) ([]*entity.ProductBatch, error) {
	keep := func(b *entity.ProductBatch) bool {
		return b.Active && b.Status == entity.BatchStatusActive && b.ExpiresOnOrBefore(day)
	}
	var out []*entity.ProductBatch
	err := r.s.within(ctx, func(ctx context.Context, t *memTx) error {
		var err error
		out, err = r.lockMatching(ctx, t, r.scan(t, keep), keep)
		return err
	})
	return out, err
}

// ListNearExpiry returns sellable batches expiring within [from, to].
func (r *BatchRepo) ListNearExpiry(ctx context.Context, from, to time.Time) ([]*entity.ProductBatch, error) {
	var out []*entity.ProductBatch
	err := r.s.within(ctx, func(ctx context.Context, t *memTx) error {
		out = r.scan(t, func(b *entity.ProductBatch) bool {
			return b.Sellable() && b.ExpiryDate != nil &&
				!b.ExpiryDate.Before(from) && !b.ExpiryDate.After(to)
		})
		return nil
	})
	return out, err
}

// Update persists the mutable batch fields.
func (r *BatchRepo) Update(ctx context.Context, b *entity.ProductBatch) error {
	if err := b.Validate(); err != nil {
		return err
	}
	return r.s.within(ctx, func(ctx context.Context, t *memTx) error {
		if err := writable(t); err != nil {
			return err
		}
		if err := r.s.lock(ctx, t, batchLockKey(b.ID)); err != nil {
			return err
		}

		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		rw, ok := r.s.batches[b.ID]
		if !ok || rw.visible(t.id) == nil {
			return apperror.NewNotFound("product_batch", b.ID)
		}
		current := rw.visible(t.id).Clone()
		current.QuantityRemaining = b.QuantityRemaining
		current.Status = b.Status
		current.Active = b.Active
		current.UpdatedAt = b.UpdatedAt
		write(t, rw, *current)
		return nil
	})
}

// List returns batches matching filter in FEFO order.
func (r *BatchRepo) List(ctx context.Context, filter entity.BatchFilter) ([]*entity.ProductBatch, error) {
	var out []*entity.ProductBatch
	err := r.s.within(ctx, func(ctx context.Context, t *memTx) error {
		out = r.scan(t, func(b *entity.ProductBatch) bool {
			if filter.ProductID != "" && b.ProductID != filter.ProductID {
				return false
			}
			if filter.Status != "" && b.Status != filter.Status {
				return false
			}
			return b.Active || filter.IncludeInactive
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []*entity.ProductBatch{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ProductStock sums remaining quantity over ACTIVE, non-retired batches.
func (r *BatchRepo) ProductStock(ctx context.Context, productID string) (int64, error) {
	return r.s.productStock(ctx, productID)
}

func (s *Store) productStock(ctx context.Context, productID string) (int64, error) {
	var total int64
	err := s.within(ctx, func(ctx context.Context, t *memTx) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, rw := range s.batches {
			if b := rw.visible(t.id); b != nil && b.ProductID == productID && b.Active && b.Status == entity.BatchStatusActive {
				total += b.QuantityRemaining
			}
		}
		return nil
	})
	return total, err
}

// AppendEvents stores change events.
func (r *BatchRepo) AppendEvents(ctx context.Context, events []entity.QuantityChangeEvent) error {
	if len(events) == 0 {
		return nil
	}
	return r.s.within(ctx, func(ctx context.Context, t *memTx) error {
		if err := writable(t); err != nil {
			return err
		}
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		for _, e := range events {
			rw := &row[entity.QuantityChangeEvent]{}
			r.s.events = append(r.s.events, rw)
			write(t, rw, e)
		}
		return nil
	})
}

// ListEvents returns the events of a batch in occurrence order.
func (r *BatchRepo) ListEvents(ctx context.Context, batchID entity.ID) ([]entity.QuantityChangeEvent, error) {
	out := []entity.QuantityChangeEvent{}
	err := r.s.within(ctx, func(ctx context.Context, t *memTx) error {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		for _, rw := range r.s.events {
			if e := rw.visible(t.id); e != nil && e.BatchID == batchID {
				out = append(out, *e)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, err
}

// SeedBatch stores b as committed without validation. Tests use it to set
// up states the ledger itself refuses to produce.
func (s *Store) SeedBatch(b *entity.ProductBatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[b.ID] = &row[entity.ProductBatch]{committed: b.Clone()}
}
