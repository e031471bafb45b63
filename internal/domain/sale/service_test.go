package sale

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgercore/internal/core/appctx"
	"ledgercore/internal/core/apperror"
	"ledgercore/internal/core/clock"
	"ledgercore/internal/core/entity"
	"ledgercore/internal/core/types"
	"ledgercore/internal/domain/batch"
	"ledgercore/internal/domain/sequence"
	"ledgercore/internal/infrastructure/storage/memory"
)

type fixture struct {
	svc     *Service
	ledger  *batch.Service
	numbers *sequence.Service
	ctx     context.Context
}

func newFixture(t *testing.T, provision bool) *fixture {
	t.Helper()
	store := memory.New()
	clk := clock.NewFixed(time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC))
	numbers := sequence.NewService(store.Periods(), store, clk, sequence.DefaultConfig())
	ledger := batch.NewService(store.Batches(), store, clk)
	f := &fixture{
		svc:     NewService(numbers, ledger, store, clk, ""),
		ledger:  ledger,
		numbers: numbers,
		ctx:     appctx.WithActor(context.Background(), "till-3"),
	}
	if provision {
		_, err := numbers.ProvisionPeriod(f.ctx, DefaultSeries, clock.Date(2025, 1, 1), 0)
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) receive(t *testing.T, product, number string, expiry time.Time, qty int64) *entity.ProductBatch {
	t.Helper()
	b, err := f.ledger.Receive(f.ctx, batch.ReceiveInput{
		ProductID:   product,
		BatchNumber: number,
		ExpiryDate:  &expiry,
		Quantity:    qty,
		UnitCost:    types.MustMoney("1.50"),
	})
	require.NoError(t, err)
	return b
}

func (f *fixture) stock(t *testing.T, product string) int64 {
	t.Helper()
	qty, err := f.ledger.ProductStock(f.ctx, product)
	require.NoError(t, err)
	return qty
}

func TestPost(t *testing.T) {
	f := newFixture(t, true)
	early := f.receive(t, "AMOX", "A1", clock.Date(2025, 1, 20), 4)
	late := f.receive(t, "AMOX", "A2", clock.Date(2025, 3, 1), 10)
	f.receive(t, "PARA", "P1", clock.Date(2025, 6, 1), 5)

	receipt, err := f.svc.Post(f.ctx, Checkout{
		Lines:     []Line{{ProductID: "PARA", Quantity: 2}, {ProductID: "AMOX", Quantity: 6}},
		Reference: "basket-77",
	})
	require.NoError(t, err)

	assert.Equal(t, "INV-2025-00001", receipt.Number.Formatted)
	require.Len(t, receipt.Lines, 2)
	assert.Equal(t, "PARA", receipt.Lines[0].ProductID, "lines keep input order")
	assert.Equal(t, "AMOX", receipt.Lines[1].ProductID)

	amox := receipt.Lines[1].Allocations
	require.Len(t, amox, 2)
	assert.Equal(t, early.ID, amox[0].BatchID)
	assert.Equal(t, int64(4), amox[0].Quantity)
	assert.Equal(t, late.ID, amox[1].BatchID)
	assert.Equal(t, int64(2), amox[1].Quantity)

	assert.Equal(t, int64(8), f.stock(t, "AMOX"))
	assert.Equal(t, int64(3), f.stock(t, "PARA"))

	history, err := f.ledger.History(f.ctx, late.ID)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, entity.ReasonSale, last.Reason)
	assert.Equal(t, "till-3", last.Actor)
	assert.Equal(t, "basket-77", last.Reference)
}

func TestPost_ShortLineRollsBackEverything(t *testing.T) {
	f := newFixture(t, true)
	f.receive(t, "AMOX", "A1", clock.Date(2025, 2, 1), 10)
	f.receive(t, "PARA", "P1", clock.Date(2025, 2, 1), 1)

	_, err := f.svc.Post(f.ctx, Checkout{Lines: []Line{
		{ProductID: "AMOX", Quantity: 3},
		{ProductID: "PARA", Quantity: 2},
	}})
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeInsufficientStock))
	assert.False(t, apperror.IsRetryable(err))

	assert.Equal(t, int64(10), f.stock(t, "AMOX"))
	assert.Equal(t, int64(1), f.stock(t, "PARA"))

	receipt, err := f.svc.Post(f.ctx, Checkout{Lines: []Line{{ProductID: "AMOX", Quantity: 1}}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), receipt.Number.Value, "failed sale does not burn a number")
}

func TestPost_MissingPeriodRollsBackStock(t *testing.T) {
	f := newFixture(t, false)
	f.receive(t, "AMOX", "A1", clock.Date(2025, 2, 1), 10)

	_, err := f.svc.Post(f.ctx, Checkout{Lines: []Line{{ProductID: "AMOX", Quantity: 3}}})
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodePeriodNotFound))
	assert.Equal(t, int64(10), f.stock(t, "AMOX"))
}

func TestPost_Validation(t *testing.T) {
	f := newFixture(t, true)

	tests := []struct {
		name string
		in   Checkout
	}{
		{name: "empty", in: Checkout{}},
		{name: "no product", in: Checkout{Lines: []Line{{Quantity: 1}}}},
		{name: "zero quantity", in: Checkout{Lines: []Line{{ProductID: "AMOX"}}}},
		{name: "negative quantity", in: Checkout{Lines: []Line{{ProductID: "AMOX", Quantity: -2}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Post(f.ctx, tt.in)
			assert.True(t, apperror.IsCode(err, apperror.CodeValidation))
		})
	}
}

func TestPost_ConcurrentCheckoutsNumberEverySale(t *testing.T) {
	f := newFixture(t, true)
	f.receive(t, "AMOX", "A1", clock.Date(2025, 2, 1), 15)

	const buyers = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers []int64
		short   int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := f.svc.Post(f.ctx, Checkout{Lines: []Line{{ProductID: "AMOX", Quantity: 1}}})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.True(t, apperror.IsCode(err, apperror.CodeInsufficientStock), "unexpected error: %v", err)
				short++
				return
			}
			numbers = append(numbers, r.Number.Value)
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, short)
	require.Len(t, numbers, 15)
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	for i, v := range numbers {
		assert.Equal(t, int64(i+1), v)
	}
	assert.Equal(t, int64(0), f.stock(t, "AMOX"))
}

func TestReturn(t *testing.T) {
	f := newFixture(t, true)
	b := f.receive(t, "AMOX", "A1", clock.Date(2025, 2, 1), 5)
	_, err := f.svc.Post(f.ctx, Checkout{Lines: []Line{{ProductID: "AMOX", Quantity: 3}}})
	require.NoError(t, err)

	restored, err := f.svc.Return(f.ctx, Return{BatchID: b.ID, Quantity: 2, Reference: "INV-2025-00001"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), restored.QuantityRemaining)

	_, err = f.svc.Return(f.ctx, Return{BatchID: b.ID, Quantity: 2})
	assert.True(t, apperror.IsCode(err, apperror.CodeOverReturn))
}
