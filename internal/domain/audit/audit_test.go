package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgercore/internal/core/appctx"
)

type savepointManager struct {
	savepoints int
}

func (m *savepointManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (m *savepointManager) RunInSavepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	m.savepoints++
	return fn(ctx)
}

func (m *savepointManager) RunIndependent(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeRecorder struct {
	entries []Entry
	err     error
}

func (r *fakeRecorder) Record(_ context.Context, e Entry) error {
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, e)
	return nil
}

type fakeEscalator struct {
	got []Escalation
	err error
}

func (f *fakeEscalator) Escalate(_ context.Context, e Escalation) error {
	if f.err != nil {
		return f.err
	}
	f.got = append(f.got, e)
	return nil
}

func TestRecordQuietly(t *testing.T) {
	txm := &savepointManager{}
	rec := &fakeRecorder{}
	ctx := appctx.WithActor(context.Background(), "pharmacist")

	RecordQuietly(ctx, txm, rec, Entry{EntityType: "product_batch", EntityID: "b1", Action: ActionWriteOff})

	require.Len(t, rec.entries, 1)
	assert.Equal(t, "pharmacist", rec.entries[0].Actor)
	assert.False(t, rec.entries[0].At.IsZero())
	assert.Equal(t, 1, txm.savepoints)
}

func TestRecordQuietly_KeepsExplicitActor(t *testing.T) {
	rec := &fakeRecorder{}
	RecordQuietly(context.Background(), &savepointManager{}, rec, Entry{Actor: "scheduler", Action: ActionExpiryRun})
	require.Len(t, rec.entries, 1)
	assert.Equal(t, "scheduler", rec.entries[0].Actor)
}

func TestRecordQuietly_SwallowsErrors(t *testing.T) {
	txm := &savepointManager{}
	rec := &fakeRecorder{err: errors.New("audit table locked")}

	assert.NotPanics(t, func() {
		RecordQuietly(context.Background(), txm, rec, Entry{Action: ActionExpire})
	})
	assert.Empty(t, rec.entries)
	assert.Equal(t, 1, txm.savepoints)
}

func TestRecordQuietly_NilRecorder(t *testing.T) {
	txm := &savepointManager{}
	RecordQuietly(context.Background(), txm, nil, Entry{Action: ActionExpire})
	assert.Zero(t, txm.savepoints)
}

func TestEscalateQuietly(t *testing.T) {
	txm := &savepointManager{}
	esc := &fakeEscalator{}
	EscalateQuietly(context.Background(), txm, esc, Escalation{AggregateType: "variance_alert", EventType: "NEGATIVE_STOCK"})
	require.Len(t, esc.got, 1)

	failing := &fakeEscalator{err: errors.New("outbox down")}
	EscalateQuietly(context.Background(), txm, failing, Escalation{})
	assert.Empty(t, failing.got)
	assert.Equal(t, 2, txm.savepoints)

	EscalateQuietly(context.Background(), txm, nil, Escalation{})
	assert.Equal(t, 2, txm.savepoints)
}

func TestLogHandler(t *testing.T) {
	err := LogHandler{}.Handle(context.Background(), &Message{AggregateType: "variance_alert", Payload: []byte(`{}`)})
	assert.NoError(t, err)
}
