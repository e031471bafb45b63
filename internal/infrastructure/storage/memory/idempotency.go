package memory

import (
	"context"
	"sync"
	"time"

	"ledgercore/internal/core/apperror"
	"ledgercore/internal/core/idempotency"
)

var _ idempotency.Store = (*IdempotencyStore)(nil)

type idempotencyRecord struct {
	req       idempotency.Request
	status    idempotency.Status
	replay    idempotency.Replay
	updatedAt time.Time
	expiresAt time.Time
}

// IdempotencyStore keeps idempotency keys in process memory. Keys are not
// transactional: they are claimed before and completed after the request.
type IdempotencyStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	keys map[string]*idempotencyRecord
	now  func() time.Time
}

// NewIdempotencyStore creates a store replaying responses for ttl.
func NewIdempotencyStore(ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = idempotency.DefaultTTL
	}
	return &IdempotencyStore{
		ttl:  ttl,
		keys: make(map[string]*idempotencyRecord),
		now:  time.Now,
	}
}

// Acquire implements idempotency.Store.
func (s *IdempotencyStore) Acquire(_ context.Context, req idempotency.Request) (*idempotency.Replay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()

	rec, ok := s.keys[req.Key]
	if !ok || now.After(rec.expiresAt) {
		s.keys[req.Key] = &idempotencyRecord{
			req:       req,
			status:    idempotency.StatusPending,
			updatedAt: now,
			expiresAt: now.Add(s.ttl),
		}
		return nil, nil
	}

	if rec.req != req {
		return nil, apperror.NewIdempotencyMismatch(req.Key).
			WithDetail("stored_operation", rec.req.Operation).
			WithDetail("request_operation", req.Operation)
	}
	if rec.status == idempotency.StatusSuccess {
		replay := rec.replay
		replay.Body = append([]byte(nil), rec.replay.Body...)
		return &replay, nil
	}
	if now.Sub(rec.updatedAt) <= idempotency.StaleAfter {
		return nil, apperror.NewIdempotencyConflict(req.Key)
	}
	rec.updatedAt = now
	return nil, nil
}

// Complete implements idempotency.Store.
func (s *IdempotencyStore) Complete(_ context.Context, key string, r idempotency.Replay) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.keys[key]
	if !ok {
		return apperror.NewNotFound("idempotency_key", key)
	}
	rec.status = idempotency.StatusSuccess
	rec.replay = idempotency.Replay{
		StatusCode:  r.StatusCode,
		ContentType: r.ContentType,
		Body:        append([]byte(nil), r.Body...),
	}
	rec.updatedAt = s.now()
	return nil
}

// Release implements idempotency.Store.
func (s *IdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.keys[key]; ok && rec.status == idempotency.StatusPending {
		delete(s.keys, key)
	}
	return nil
}

// CleanupExpired implements idempotency.Store.
func (s *IdempotencyStore) CleanupExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var n int64
	for key, rec := range s.keys {
		if now.After(rec.expiresAt) {
			delete(s.keys, key)
			n++
		}
	}
	return n, nil
}
