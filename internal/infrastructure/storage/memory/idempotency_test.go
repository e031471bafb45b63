package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgercore/internal/core/apperror"
	"ledgercore/internal/core/idempotency"
)

func newIdempotency(start time.Time) (*IdempotencyStore, *time.Time) {
	now := start
	s := NewIdempotencyStore(time.Hour)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestIdempotency_ReplaysCompletedResponse(t *testing.T) {
	ctx := context.Background()
	s, _ := newIdempotency(time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC))
	req := idempotency.Request{Key: "k1", Actor: "till-1", Operation: "POST /api/v1/sales", RequestHash: "abc"}

	replay, err := s.Acquire(ctx, req)
	require.NoError(t, err)
	assert.Nil(t, replay)

	_, err = s.Acquire(ctx, req)
	assert.True(t, apperror.IsCode(err, apperror.CodeIdempotencyConflict), "in-flight key")

	require.NoError(t, s.Complete(ctx, "k1", idempotency.Replay{StatusCode: 201, ContentType: "application/json", Body: []byte(`{"n":1}`)}))

	replay, err = s.Acquire(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, replay)
	assert.Equal(t, 201, replay.StatusCode)
	assert.JSONEq(t, `{"n":1}`, string(replay.Body))
}

func TestIdempotency_RejectsDifferentRequest(t *testing.T) {
	ctx := context.Background()
	s, _ := newIdempotency(time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC))
	req := idempotency.Request{Key: "k1", Actor: "till-1", Operation: "POST /api/v1/sales", RequestHash: "abc"}
	_, err := s.Acquire(ctx, req)
	require.NoError(t, err)

	other := req
	other.RequestHash = "def"
	_, err = s.Acquire(ctx, other)
	assert.True(t, apperror.IsCode(err, apperror.CodeIdempotencyMismatch))
}

func TestIdempotency_ReleaseAndStaleTakeover(t *testing.T) {
	ctx := context.Background()
	s, now := newIdempotency(time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC))
	req := idempotency.Request{Key: "k1", Actor: "a", Operation: "op", RequestHash: "h"}

	_, err := s.Acquire(ctx, req)
	require.NoError(t, err)
	require.NoError(t, s.Release(ctx, "k1"))

	replay, err := s.Acquire(ctx, req)
	require.NoError(t, err, "released key can be claimed again")
	assert.Nil(t, replay)

	*now = now.Add(2 * idempotency.StaleAfter)
	replay, err = s.Acquire(ctx, req)
	require.NoError(t, err, "stale pending key is taken over")
	assert.Nil(t, replay)
}

func TestIdempotency_CleanupExpired(t *testing.T) {
	ctx := context.Background()
	s, now := newIdempotency(time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC))
	_, err := s.Acquire(ctx, idempotency.Request{Key: "old"})
	require.NoError(t, err)

	*now = now.Add(2 * time.Hour)
	_, err = s.Acquire(ctx, idempotency.Request{Key: "new"})
	require.NoError(t, err)

	n, err := s.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
