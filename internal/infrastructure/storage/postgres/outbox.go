package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"ledgercore/internal/core/entity"
	"ledgercore/internal/domain/audit"
	"ledgercore/pkg/logger"
)

// OutboxStatus represents the state of an outbox message.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// MaxOutboxRetries is the delivery attempts after which a message is failed.
const MaxOutboxRetries = 5

// OutboxPublisher writes escalations to the outbox table. It implements audit.Escalator.
type OutboxPublisher struct {
	txManager *TxManager
}

var _ audit.Escalator = (*OutboxPublisher)(nil)

// NewOutboxPublisher creates a new outbox publisher.
func NewOutboxPublisher(txManager *TxManager) *OutboxPublisher {
	return &OutboxPublisher{txManager: txManager}
}

// Escalate writes e to the outbox within the current transaction.
// MUST be called inside a transaction context.
func (p *OutboxPublisher) Escalate(ctx context.Context, e audit.Escalation) error {
	tx := p.txManager.GetTx(ctx)
	if tx == nil {
		return fmt.Errorf("outbox publish requires transaction context")
	}

	payloadBytes, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO sys_outbox (id, aggregate_type, aggregate_id, event_type, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entity.NewID(), e.AggregateType, e.AggregateID, e.EventType, payloadBytes, OutboxStatusPending, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert outbox message: %w", mapError(err))
	}

	return nil
}

// OutboxRelay reads pending messages and hands them to a handler.
// Used by the worker to deliver escalations.
type OutboxRelay struct {
	txManager *TxManager
	batchSize int
}

// NewOutboxRelay creates a new outbox relay.
func NewOutboxRelay(txManager *TxManager, batchSize int) *OutboxRelay {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxRelay{txManager: txManager, batchSize: batchSize}
}

// ProcessBatch locks a batch of due messages and delivers them.
// Rows locked by a concurrent relay are skipped.
// Returns number of delivered messages.
func (r *OutboxRelay) ProcessBatch(ctx context.Context, h audit.MessageHandler) (int, error) {
	processed := 0
	err := r.txManager.RunIndependent(ctx, func(ctx context.Context) error {
		q := r.txManager.GetQuerier(ctx)

		rows, err := q.Query(ctx, `
			SELECT id, aggregate_type, aggregate_id, event_type, payload, retry_count, created_at
			FROM sys_outbox
			WHERE status = $1
			  AND (next_retry_at IS NULL OR next_retry_at <= NOW())
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		`, OutboxStatusPending, r.batchSize)
		if err != nil {
			return fmt.Errorf("fetch outbox messages: %w", err)
		}

		messages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*audit.Message, error) {
			var msg audit.Message
			err := row.Scan(&msg.ID, &msg.AggregateType, &msg.AggregateID, &msg.EventType,
				&msg.Payload, &msg.RetryCount, &msg.CreatedAt)
			return &msg, err
		})
		if err != nil {
			return fmt.Errorf("scan outbox messages: %w", err)
		}

		for _, msg := range messages {
			if err := r.processMessage(ctx, q, h, msg); err != nil {
				// Log but continue processing other messages
				logger.Warn(ctx, "escalation delivery failed", "message_id", msg.ID, "error", err)
				continue
			}
			processed++
		}
		return nil
	})
	return processed, err
}

// processMessage handles a single outbox message.
func (r *OutboxRelay) processMessage(ctx context.Context, q Querier, h audit.MessageHandler, msg *audit.Message) error {
	if err := h.Handle(ctx, msg); err != nil {
		// Increment retry count and push the next attempt back linearly
		nextRetry := time.Now().Add(time.Duration(msg.RetryCount+1) * time.Minute)

		_, updateErr := q.Exec(ctx, `
			UPDATE sys_outbox
			SET retry_count = retry_count + 1,
			    last_error = $1,
			    next_retry_at = $2,
			    status = CASE WHEN retry_count + 1 >= $3 THEN $4 ELSE status END
			WHERE id = $5
		`, err.Error(), nextRetry, MaxOutboxRetries, OutboxStatusFailed, msg.ID)
		if updateErr != nil {
			return fmt.Errorf("update failed message: %w", updateErr)
		}
		return err
	}

	_, err := q.Exec(ctx, `
		UPDATE sys_outbox
		SET status = $1, published_at = $2
		WHERE id = $3
	`, OutboxStatusPublished, time.Now().UTC(), msg.ID)
	return err
}

// MoveToDLQ moves failed messages to the dead letter queue.
func (r *OutboxRelay) MoveToDLQ(ctx context.Context) (int64, error) {
	result, err := r.txManager.GetQuerier(ctx).Exec(ctx, `
		WITH moved AS (
			DELETE FROM sys_outbox
			WHERE status = $1
			RETURNING id, aggregate_type, aggregate_id, event_type, payload, retry_count, last_error, created_at
		)
		INSERT INTO sys_outbox_dlq (id, aggregate_type, aggregate_id, event_type, payload, retry_count, failure_reason, created_at, failed_at)
		SELECT id, aggregate_type, aggregate_id, event_type, payload, retry_count, last_error, created_at, NOW() FROM moved
	`, OutboxStatusFailed)
	if err != nil {
		return 0, fmt.Errorf("move to DLQ: %w", err)
	}

	return result.RowsAffected(), nil
}
