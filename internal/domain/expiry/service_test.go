package expiry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgercore/internal/core/appctx"
	"ledgercore/internal/core/apperror"
	"ledgercore/internal/core/clock"
	"ledgercore/internal/core/entity"
	"ledgercore/internal/core/types"
	"ledgercore/internal/domain/audit"
	"ledgercore/internal/domain/batch"
	"ledgercore/internal/infrastructure/storage/memory"
)

type fixture struct {
	store  *memory.Store
	clock  *clock.Fixed
	ledger *batch.Service
	svc    *Service
	ctx    context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	clk := clock.NewFixed(time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC))
	return &fixture{
		store:  store,
		clock:  clk,
		ledger: batch.NewService(store.Batches(), store, clk),
		svc:    NewService(store.Batches(), store, clk, store.AuditLog()),
		ctx:    context.Background(),
	}
}

func (f *fixture) receive(t *testing.T, number string, expiry *time.Time, qty int64, cost string) *entity.ProductBatch {
	t.Helper()
	b, err := f.ledger.Receive(appctx.WithActor(f.ctx, "receiver"), batch.ReceiveInput{
		ProductID:   "AMOX",
		BatchNumber: number,
		ExpiryDate:  expiry,
		Quantity:    qty,
		UnitCost:    types.MustMoney(cost),
	})
	require.NoError(t, err)
	return b
}

func day(y int, m time.Month, d int) *time.Time {
	t := clock.Date(y, m, d)
	return &t
}

func TestMarkExpiredBatches(t *testing.T) {
	f := newFixture(t)
	today := f.receive(t, "TODAY", day(2025, 1, 10), 5, "2.00")
	past := f.receive(t, "PAST", day(2025, 1, 9), 3, "2.00")
	future := f.receive(t, "FUTURE", day(2025, 2, 1), 7, "2.00")
	f.receive(t, "NOEXP", nil, 1, "2.00")

	res, err := f.svc.MarkExpiredBatches(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, clock.Date(2025, 1, 10), res.Day)
	assert.True(t, res.ValueExpired.Equal(types.MustMoney("16")), res.ValueExpired.String())

	ids := []entity.ID{res.Expired[0].BatchID, res.Expired[1].BatchID}
	assert.ElementsMatch(t, []entity.ID{today.ID, past.ID}, ids)

	for _, id := range ids {
		b, err := f.ledger.GetBatch(f.ctx, id)
		require.NoError(t, err)
		assert.Equal(t, entity.BatchStatusExpired, b.Status)
		assert.NotZero(t, b.QuantityRemaining, "expiry keeps the quantity for valuation")

		history, err := f.ledger.History(f.ctx, id)
		require.NoError(t, err)
		last := history[len(history)-1]
		assert.Equal(t, entity.ReasonExpiry, last.Reason)
		assert.Zero(t, last.Delta)
		assert.Equal(t, appctx.SystemActor, last.Actor)
	}

	b, err := f.ledger.GetBatch(f.ctx, future.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.BatchStatusActive, b.Status)

	stock, err := f.ledger.ProductStock(f.ctx, "AMOX")
	require.NoError(t, err)
	assert.Equal(t, int64(8), stock)

	entries := f.store.AuditLog().Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, audit.ActionExpire, entries[0].Action)
	assert.Equal(t, audit.ActionExpire, entries[1].Action)
	assert.Equal(t, audit.ActionExpiryRun, entries[2].Action)
	assert.Equal(t, "2025-01-10", entries[2].EntityID)
	assert.Equal(t, appctx.SystemActor, entries[2].Actor)
}

func TestMarkExpiredBatches_RerunIsNoop(t *testing.T) {
	f := newFixture(t)
	f.receive(t, "TODAY", day(2025, 1, 10), 5, "2.00")

	first, err := f.svc.MarkExpiredBatches(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Count)

	second, err := f.svc.MarkExpiredBatches(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Count)
	assert.True(t, second.ValueExpired.IsZero())
}

func TestMarkExpiredBatches_NextDayPicksUpNewlyExpired(t *testing.T) {
	f := newFixture(t)
	f.receive(t, "TOMORROW", day(2025, 1, 11), 5, "2.00")

	res, err := f.svc.MarkExpiredBatches(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Count)

	f.clock.Advance(24 * time.Hour)
	res, err = f.svc.MarkExpiredBatches(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
}

func TestMarkExpiredBatches_SkipsRetired(t *testing.T) {
	f := newFixture(t)
	b := f.receive(t, "OLD", day(2025, 1, 1), 5, "2.00")
	require.NoError(t, f.ledger.Retire(f.ctx, b.ID))

	res, err := f.svc.MarkExpiredBatches(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Count)
}

func TestMarkExpiredBatches_AuditFailureIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.svc = NewService(f.store.Batches(), f.store, f.clock, f.store.AuditLog().FailWith(errors.New("disk full")))
	b := f.receive(t, "TODAY", day(2025, 1, 10), 5, "2.00")

	res, err := f.svc.MarkExpiredBatches(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)

	got, err := f.ledger.GetBatch(f.ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.BatchStatusExpired, got.Status)
	assert.Empty(t, f.store.AuditLog().Entries())
}

func TestMarkExpiredBatches_KeepsCallerActor(t *testing.T) {
	f := newFixture(t)
	b := f.receive(t, "TODAY", day(2025, 1, 10), 5, "2.00")

	_, err := f.svc.MarkExpiredBatches(appctx.WithActor(f.ctx, "night-shift"))
	require.NoError(t, err)

	history, err := f.ledger.History(f.ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "night-shift", history[len(history)-1].Actor)
}

func TestCheckNearExpiry(t *testing.T) {
	f := newFixture(t)
	soon := f.receive(t, "SOON", day(2025, 1, 25), 4, "100")
	f.receive(t, "LATER", day(2025, 2, 24), 1, "10")
	f.receive(t, "FAR", day(2025, 12, 31), 9, "1")
	f.receive(t, "GONE", day(2025, 1, 5), 2, "50")

	buckets, err := f.svc.CheckNearExpiry(f.ctx, []int{30, 60, 90})
	require.NoError(t, err)
	require.Len(t, buckets, 3)

	b30 := buckets[0]
	assert.Equal(t, 30, b30.ThresholdDays)
	assert.Equal(t, clock.Date(2025, 1, 10), b30.From)
	assert.Equal(t, clock.Date(2025, 2, 9), b30.To)
	require.Equal(t, 1, b30.BatchCount)
	assert.Equal(t, soon.ID, b30.Batches[0].BatchID)
	assert.Equal(t, 15, b30.Batches[0].DaysToExpiry)
	assert.Equal(t, int64(4), b30.TotalQuantity)
	assert.True(t, b30.ValueAtRisk.Equal(types.MustMoney("400")), b30.ValueAtRisk.String())

	for _, b := range buckets[1:] {
		assert.Equal(t, 2, b.BatchCount, "buckets are cumulative")
		assert.Equal(t, int64(5), b.TotalQuantity)
		assert.True(t, b.ValueAtRisk.Equal(types.MustMoney("410")), b.ValueAtRisk.String())
	}
}

func TestCheckNearExpiry_Thresholds(t *testing.T) {
	f := newFixture(t)
	f.receive(t, "SOON", day(2025, 1, 25), 4, "100")

	buckets, err := f.svc.CheckNearExpiry(f.ctx, []int{60, 30, 30})
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Equal(t, 30, buckets[0].ThresholdDays)
	assert.Equal(t, 60, buckets[1].ThresholdDays)

	buckets, err = f.svc.CheckNearExpiry(f.ctx, nil)
	require.NoError(t, err)
	assert.Len(t, buckets, len(DefaultThresholds))

	f.svc.WithThresholds([]int{7})
	buckets, err = f.svc.CheckNearExpiry(f.ctx, nil)
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Zero(t, buckets[0].BatchCount)
	assert.NotNil(t, buckets[0].Batches)
	assert.True(t, buckets[0].ValueAtRisk.IsZero())

	_, err = f.svc.CheckNearExpiry(f.ctx, []int{30, 0})
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))
	_, err = f.svc.CheckNearExpiry(f.ctx, []int{-5})
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))
}

func TestCheckNearExpiry_ExcludesExpiredStatus(t *testing.T) {
	f := newFixture(t)
	b := f.receive(t, "SOON", day(2025, 1, 25), 4, "100")
	_, err := f.ledger.WriteOff(f.ctx, b.ID, "")
	require.NoError(t, err)

	buckets, err := f.svc.CheckNearExpiry(f.ctx, []int{30})
	require.NoError(t, err)
	assert.Zero(t, buckets[0].BatchCount)
}
