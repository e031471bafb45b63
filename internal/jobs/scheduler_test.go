package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgercore/internal/core/appctx"
	"ledgercore/internal/core/apperror"
	"ledgercore/internal/core/clock"
)

type recorder struct {
	mu   sync.Mutex
	runs []string
}

func (r *recorder) job(name string, err error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		r.mu.Lock()
		r.runs = append(r.runs, name+":"+appctx.GetActor(ctx))
		r.mu.Unlock()
		return err
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func newScheduler(t *testing.T, start time.Time) (*Scheduler, *clock.Fixed, *recorder) {
	t.Helper()
	clk := clock.NewFixed(start)
	s := NewScheduler(clk, time.UTC, WithRetryDelay(10*time.Minute))
	rec := &recorder{}
	require.NoError(t, s.Add("variance-summary", "00:30", rec.job("variance", nil)))
	require.NoError(t, s.Add("expiry", "00:05", rec.job("expiry", nil)))
	return s, clk, rec
}

func TestRunDue_FiresOncePerDay(t *testing.T) {
	ctx := context.Background()
	s, clk, rec := newScheduler(t, time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC))

	assert.Empty(t, s.RunDue(ctx))

	clk.Set(time.Date(2025, 1, 10, 0, 5, 0, 0, time.UTC))
	assert.Equal(t, []string{"expiry"}, s.RunDue(ctx))
	assert.Empty(t, s.RunDue(ctx))

	clk.Set(time.Date(2025, 1, 10, 0, 31, 0, 0, time.UTC))
	assert.Equal(t, []string{"variance-summary"}, s.RunDue(ctx))

	clk.Set(time.Date(2025, 1, 10, 23, 59, 0, 0, time.UTC))
	assert.Empty(t, s.RunDue(ctx))

	clk.Set(time.Date(2025, 1, 11, 0, 6, 0, 0, time.UTC))
	assert.Equal(t, []string{"expiry"}, s.RunDue(ctx))

	assert.Equal(t, []string{"expiry:system", "variance:system", "expiry:system"}, rec.runs)
}

func TestRunDue_CatchesUpInTimeOrder(t *testing.T) {
	s, _, rec := newScheduler(t, time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC))

	assert.Equal(t, []string{"expiry", "variance-summary"}, s.RunDue(context.Background()))
	assert.Equal(t, 2, rec.count())
}

func TestRunDue_UsesZone(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	clk := clock.NewFixed(time.Date(2025, 1, 9, 21, 4, 0, 0, time.UTC))
	s := NewScheduler(clk, loc)
	rec := &recorder{}
	require.NoError(t, s.Add("expiry", "00:05", rec.job("expiry", nil)))

	assert.Empty(t, s.RunDue(context.Background()))
	clk.Advance(time.Minute)
	assert.Equal(t, []string{"expiry"}, s.RunDue(context.Background()))
}

func TestRunDue_FailureIsRetriedAfterDelay(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFixed(time.Date(2025, 1, 10, 0, 5, 0, 0, time.UTC))
	s := NewScheduler(clk, time.UTC, WithRetryDelay(10*time.Minute))

	var calls int
	require.NoError(t, s.Add("expiry", "00:05", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("database unavailable")
		}
		return nil
	}))
	rec := &recorder{}
	require.NoError(t, s.Add("variance-summary", "00:05", rec.job("variance", nil)))

	assert.Equal(t, []string{"expiry", "variance-summary"}, s.RunDue(ctx), "a failure does not stop later jobs")
	st := s.Statuses()
	assert.Equal(t, "database unavailable", st[0].LastErr)
	assert.Equal(t, time.Date(2025, 1, 10, 0, 15, 0, 0, time.UTC), st[0].NextRun)

	clk.Advance(5 * time.Minute)
	assert.Empty(t, s.RunDue(ctx))

	clk.Advance(5 * time.Minute)
	assert.Equal(t, []string{"expiry"}, s.RunDue(ctx))
	assert.Equal(t, 2, calls)
	assert.Empty(t, s.Statuses()[0].LastErr)
}

func TestRunDue_RecoversPanics(t *testing.T) {
	clk := clock.NewFixed(time.Date(2025, 1, 10, 1, 0, 0, 0, time.UTC))
	s := NewScheduler(clk, time.UTC)
	require.NoError(t, s.Add("broken", "00:05", func(ctx context.Context) error {
		panic("nil map")
	}))

	assert.NotPanics(t, func() { s.RunDue(context.Background()) })
	assert.Contains(t, s.Statuses()[0].LastErr, "panicked")
}

func TestRunNow(t *testing.T) {
	s, clk, rec := newScheduler(t, time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC))

	require.NoError(t, s.RunNow(context.Background(), "expiry"))
	assert.Equal(t, 1, rec.count())

	err := s.RunNow(context.Background(), "payroll")
	assert.True(t, apperror.IsNotFound(err))

	clk.Set(time.Date(2025, 1, 10, 0, 5, 0, 0, time.UTC))
	assert.Equal(t, []string{"expiry"}, s.RunDue(context.Background()), "manual runs do not consume the daily run")
}

func TestAdd_Validation(t *testing.T) {
	s := NewScheduler(clock.NewReal(nil), nil)
	noop := func(context.Context) error { return nil }

	assert.True(t, apperror.IsCode(s.Add("expiry", "25:00", noop), apperror.CodeValidation))
	assert.True(t, apperror.IsCode(s.Add("expiry", "midnight", noop), apperror.CodeValidation))
	assert.True(t, apperror.IsCode(s.Add("", "00:05", noop), apperror.CodeValidation))
	assert.True(t, apperror.IsCode(s.Add("expiry", "00:05", nil), apperror.CodeValidation))

	require.NoError(t, s.Add("expiry", "00:05", noop))
	assert.True(t, apperror.IsCode(s.Add("expiry", "01:00", noop), apperror.CodeDuplicate))
}

func TestStatuses(t *testing.T) {
	s, clk, _ := newScheduler(t, time.Date(2025, 1, 10, 0, 10, 0, 0, time.UTC))
	clk.Set(time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC))

	st := s.Statuses()
	require.Len(t, st, 2)
	assert.Equal(t, "expiry", st[0].Name)
	assert.Equal(t, "00:05", st[0].At)
	assert.Equal(t, time.Date(2025, 1, 10, 0, 5, 0, 0, time.UTC), st[0].NextRun)

	clk.Set(time.Date(2025, 1, 10, 0, 10, 0, 0, time.UTC))
	s.RunDue(context.Background())
	st = s.Statuses()
	assert.Equal(t, time.Date(2025, 1, 11, 0, 5, 0, 0, time.UTC), st[0].NextRun)
	assert.Equal(t, time.Date(2025, 1, 10, 0, 30, 0, 0, time.UTC), st[1].NextRun)
}

func TestStart_StopsWithContext(t *testing.T) {
	clk := clock.NewFixed(time.Date(2025, 1, 10, 1, 0, 0, 0, time.UTC))
	s := NewScheduler(clk, time.UTC, WithTick(5*time.Millisecond))
	rec := &recorder{}
	require.NoError(t, s.Add("expiry", "00:05", rec.job("expiry", nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, rec.count())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
