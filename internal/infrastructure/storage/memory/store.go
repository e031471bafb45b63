// Package memory is an in-process transactional store implementing the same
// repository and transaction contracts as the postgres package.
//
// Isolation is read committed: a transaction sees committed rows plus its own
// writes. Every write takes an exclusive row lock held until commit or
// rollback; waiting for a lock is bounded and ends in LockTimeout. Used by
// tests and by single-process local runs.
package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"ledgercore/internal/core/apperror"
	"ledgercore/internal/core/entity"
	"ledgercore/internal/core/tx"
	"ledgercore/internal/domain/audit"
	"ledgercore/pkg/logger"
)

// Compile-time check that Store implements tx.ReadOnlyManager.
var _ tx.ReadOnlyManager = (*Store)(nil)

var errReadOnly = errors.New("cannot write in a read-only transaction")

// DefaultLockWait matches the postgres default lock_timeout.
const DefaultLockWait = 5 * time.Second

// Store holds all tables.
type Store struct {
	mu       sync.Mutex
	lockWait time.Duration
	nextTxID atomic.Int64
	locks    map[string]chan struct{}

	periods   map[entity.ID]*row[entity.FiscalPeriod]
	batches   map[entity.ID]*row[entity.ProductBatch]
	events    []*row[entity.QuantityChangeEvent]
	summaries map[string]*row[entity.DailyVarianceSummary]
	audit     []*row[audit.Entry]
	outbox    []*row[audit.Message]
}

// Option configures a Store.
type Option func(*Store)

// WithLockWait bounds how long a transaction waits for a row lock.
func WithLockWait(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockWait = d
		}
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		lockWait:  DefaultLockWait,
		locks:     make(map[string]chan struct{}),
		periods:   make(map[entity.ID]*row[entity.FiscalPeriod]),
		batches:   make(map[entity.ID]*row[entity.ProductBatch]),
		summaries: make(map[string]*row[entity.DailyVarianceSummary]),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// row is one record with its committed version and the uncommitted version
// of the transaction that owns it.
type row[T any] struct {
	committed *T
	pending   *T
	owner     int64
}

func (r *row[T]) visible(txID int64) *T {
	if r.owner != 0 && r.owner == txID && r.pending != nil {
		return r.pending
	}
	return r.committed
}

// exists reports whether the row is committed or pending in any transaction.
func (r *row[T]) exists() bool {
	return r.committed != nil || r.pending != nil
}

type journalEntry struct {
	undo   func()
	commit func()
}

// memTx is one transaction. It is used by a single goroutine at a time.
type memTx struct {
	id       int64
	readOnly bool
	held     map[string]chan struct{}
	journal  []journalEntry
}

type txKey struct{}

func txFrom(ctx context.Context) *memTx {
	if t, ok := ctx.Value(txKey{}).(*memTx); ok {
		return t
	}
	return nil
}

// write stages v as the new version of r. Caller holds s.mu and the row lock.
func write[T any](t *memTx, r *row[T], v T) {
	prevPending, prevOwner := r.pending, r.owner
	r.pending = &v
	r.owner = t.id
	t.journal = append(t.journal, journalEntry{
		undo: func() {
			r.pending, r.owner = prevPending, prevOwner
		},
		commit: func() {
			if r.owner == t.id && r.pending != nil {
				r.committed = r.pending
				r.pending = nil
				r.owner = 0
			}
		},
	})
}

// --- tx.Manager ---

// RunInTransaction executes fn within a transaction, reusing one from ctx.
func (s *Store) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}
	return s.runNew(ctx, false, fn)
}

// RunInSavepoint executes fn and undoes only fn's writes when it fails.
func (s *Store) RunInSavepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	t := txFrom(ctx)
	if t == nil {
		return s.runNew(ctx, false, fn)
	}

	s.mu.Lock()
	mark := len(t.journal)
	s.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.undoTo(t, mark)
		s.mu.Unlock()
		return err
	}
	return nil
}

// RunIndependent executes fn in a new transaction regardless of ctx.
func (s *Store) RunIndependent(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.runNew(ctx, false, fn)
}

// ReadOnly executes fn in a read-only transaction.
func (s *Store) ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}
	return s.runNew(ctx, true, fn)
}

func (s *Store) runNew(ctx context.Context, readOnly bool, fn func(ctx context.Context) error) (err error) {
	t := &memTx{
		id:       s.nextTxID.Add(1),
		readOnly: readOnly,
		held:     make(map[string]chan struct{}),
	}
	txCtx := context.WithValue(ctx, txKey{}, t)

	defer func() {
		if p := recover(); p != nil {
			s.rollback(t)
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		s.rollback(t)
		return err
	}
	if err := ctx.Err(); err != nil {
		s.rollback(t)
		logger.Warn(ctx, "transaction rolled back: context done", "error", err)
		return err
	}
	s.commit(t)
	return nil
}

func (s *Store) commit(t *memTx) {
	s.mu.Lock()
	for _, e := range t.journal {
		e.commit()
	}
	t.journal = nil
	s.mu.Unlock()
	s.release(t)
}

func (s *Store) rollback(t *memTx) {
	s.mu.Lock()
	s.undoTo(t, 0)
	s.mu.Unlock()
	s.release(t)
}

// undoTo reverts journal entries after mark. Caller holds s.mu.
func (s *Store) undoTo(t *memTx, mark int) {
	for i := len(t.journal) - 1; i >= mark; i-- {
		t.journal[i].undo()
	}
	t.journal = t.journal[:mark]
}

func (s *Store) release(t *memTx) {
	for key, ch := range t.held {
		<-ch
		delete(t.held, key)
	}
}

// lock takes the exclusive row lock key for the transaction in ctx.
// Re-locking a row the transaction already holds is a no-op.
func (s *Store) lock(ctx context.Context, t *memTx, key string) error {
	if _, ok := t.held[key]; ok {
		return nil
	}

	s.mu.Lock()
	ch, ok := s.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[key] = ch
	}
	s.mu.Unlock()

	select {
	case ch <- struct{}{}:
		t.held[key] = ch
		return nil
	default:
	}

	timer := time.NewTimer(s.lockWait)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		t.held[key] = ch
		return nil
	case <-timer.C:
		return apperror.NewLockTimeout(key)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// within runs fn in the transaction from ctx, or in a short transaction of
// its own (autocommit) when there is none.
func (s *Store) within(ctx context.Context, fn func(ctx context.Context, t *memTx) error) error {
	if t := txFrom(ctx); t != nil {
		return fn(ctx, t)
	}
	return s.runNew(ctx, false, func(ctx context.Context) error {
		return fn(ctx, txFrom(ctx))
	})
}

// writable returns errReadOnly for read-only transactions.
func writable(t *memTx) error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}

// --- Repositories ---

// Periods returns the fiscal period repository.
func (s *Store) Periods() *PeriodRepo { return &PeriodRepo{s: s} }

// Batches returns the batch and change event repository.
func (s *Store) Batches() *BatchRepo { return &BatchRepo{s: s} }

// Reports returns the variance reporting repository.
func (s *Store) Reports() *ReportRepo { return &ReportRepo{s: s} }

// AuditLog returns the audit recorder.
func (s *Store) AuditLog() *AuditLog { return &AuditLog{s: s} }

// Outbox returns the escalation outbox.
func (s *Store) Outbox() *Outbox { return &Outbox{s: s} }
