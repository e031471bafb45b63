package postgres

import (
	"context"
	"fmt"
	"time"

	"ledgercore/internal/core/apperror"
	"ledgercore/internal/core/idempotency"
)

var _ idempotency.Store = (*IdempotencyStore)(nil)

// idempotencyRecord is a row of sys_idempotency.
type idempotencyRecord struct {
	Actor       string
	Operation   string
	RequestHash string
	Status      idempotency.Status
	Response    []byte
	StatusCode  *int
	ContentType *string
	UpdatedAt   time.Time
}

// IdempotencyStore manages idempotency keys.
type IdempotencyStore struct {
	txManager *TxManager
	ttl       time.Duration
}

// NewIdempotencyStore creates a new idempotency store.
func NewIdempotencyStore(txManager *TxManager, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = idempotency.DefaultTTL
	}
	return &IdempotencyStore{txManager: txManager, ttl: ttl}
}

// Acquire attempts to claim an idempotency key. Expired keys and keys left
// pending by a crashed request are taken over.
func (s *IdempotencyStore) Acquire(ctx context.Context, req idempotency.Request) (*idempotency.Replay, error) {
	q := s.txManager.GetQuerier(ctx)
	now := time.Now().UTC()
	expiresAt := now.Add(s.ttl)

	tag, err := q.Exec(ctx, `
		INSERT INTO sys_idempotency (idempotency_key, actor, operation, status, request_hash, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6, $7)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, req.Key, req.Actor, req.Operation, idempotency.StatusPending, req.RequestHash, now, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("acquire idempotency key: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil, nil
	}

	// An expired key belongs to whoever claims it first.
	tag, err = q.Exec(ctx, `
		UPDATE sys_idempotency
		SET actor = $2, operation = $3, status = $4, request_hash = $5,
		    response = NULL, response_status = NULL, response_content_type = NULL,
		    created_at = $6, updated_at = $6, expires_at = $7
		WHERE idempotency_key = $1 AND expires_at < $6
	`, req.Key, req.Actor, req.Operation, idempotency.StatusPending, req.RequestHash, now, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("reclaim expired key: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil, nil
	}

	var rec idempotencyRecord
	err = q.QueryRow(ctx, `
		SELECT actor, operation, request_hash, status, response, response_status, response_content_type, updated_at
		FROM sys_idempotency
		WHERE idempotency_key = $1
	`, req.Key).Scan(
		&rec.Actor, &rec.Operation, &rec.RequestHash, &rec.Status,
		&rec.Response, &rec.StatusCode, &rec.ContentType, &rec.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			// Released between our insert and select.
			return nil, apperror.NewIdempotencyConflict(req.Key)
		}
		return nil, fmt.Errorf("load idempotency key: %w", err)
	}

	// Key exists: protect against reuse for a different request.
	if rec.Actor != req.Actor || rec.Operation != req.Operation || rec.RequestHash != req.RequestHash {
		return nil, apperror.NewIdempotencyMismatch(req.Key).
			WithDetail("stored_operation", rec.Operation).
			WithDetail("request_operation", req.Operation)
	}

	switch rec.Status {
	case idempotency.StatusSuccess:
		return &idempotency.Replay{
			StatusCode:  normalizeReplayStatus(rec.StatusCode),
			ContentType: normalizeReplayContentType(rec.ContentType),
			Body:        rec.Response,
		}, nil

	default:
		if now.Sub(rec.UpdatedAt) <= idempotency.StaleAfter {
			return nil, apperror.NewIdempotencyConflict(req.Key)
		}
		// Reclaim stale key; the updated_at guard lets one request win.
		tag, err := q.Exec(ctx, `
			UPDATE sys_idempotency
			SET updated_at = $2
			WHERE idempotency_key = $1 AND status = $3 AND updated_at = $4
		`, req.Key, now, idempotency.StatusPending, rec.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("reclaim stale key: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil, apperror.NewIdempotencyConflict(req.Key)
		}
		return nil, nil
	}
}

// Complete marks an idempotency key as completed with its HTTP response.
func (s *IdempotencyStore) Complete(ctx context.Context, key string, r idempotency.Replay) error {
	_, err := s.txManager.GetQuerier(ctx).Exec(ctx, `
		UPDATE sys_idempotency
		SET status = $1,
		    response = $2,
		    response_status = $3,
		    response_content_type = $4,
		    updated_at = $5
		WHERE idempotency_key = $6
	`, idempotency.StatusSuccess, r.Body, r.StatusCode, r.ContentType, time.Now().UTC(), key)
	if err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	return nil
}

// Release deletes a pending key.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	_, err := s.txManager.GetQuerier(ctx).Exec(ctx, `
		DELETE FROM sys_idempotency WHERE idempotency_key = $1 AND status = $2
	`, key, idempotency.StatusPending)
	if err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// CleanupExpired removes expired idempotency records.
func (s *IdempotencyStore) CleanupExpired(ctx context.Context) (int64, error) {
	result, err := s.txManager.GetQuerier(ctx).Exec(ctx, `
		DELETE FROM sys_idempotency WHERE expires_at < $1
	`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

func normalizeReplayStatus(status *int) int {
	if status == nil || *status == 0 {
		return 200
	}
	return *status
}

func normalizeReplayContentType(ct *string) string {
	if ct == nil || *ct == "" {
		return "application/json"
	}
	return *ct
}
