// Package audit defines the audit trail and escalation contracts.
// Both are observational: a failed write is logged and swallowed so it never
// rolls back the business change it describes.
package audit

import (
	"context"
	"time"

	"ledgercore/internal/core/appctx"
	"ledgercore/internal/core/entity"
	"ledgercore/internal/core/tx"
	"ledgercore/pkg/logger"
)

// Action is the audited operation.
type Action string

const (
	ActionExpire    Action = "expire"
	ActionExpiryRun Action = "expiry_run"
	ActionWriteOff  Action = "write_off"
	ActionRetire    Action = "retire"
	ActionProvision Action = "provision"
	ActionReset     Action = "reset_counter"
)

// Entry is one audit record.
type Entry struct {
	EntityType string
	EntityID   string
	Action     Action
	Actor      string
	Changes    map[string]any
	At         time.Time
}

// Recorder persists audit entries.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// Escalation is a notification that must reach an operator, written through
// the transactional outbox.
type Escalation struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       any
}

// Escalator hands escalations to the outbox.
type Escalator interface {
	Escalate(ctx context.Context, e Escalation) error
}

// RecordQuietly writes entry inside a savepoint of the current transaction.
// Failures are logged and dropped.
func RecordQuietly(ctx context.Context, txm tx.Manager, r Recorder, entry Entry) {
	if r == nil {
		return
	}
	if entry.Actor == "" {
		entry.Actor = appctx.GetActor(ctx)
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	err := txm.RunInSavepoint(ctx, func(ctx context.Context) error {
		return r.Record(ctx, entry)
	})
	if err != nil {
		logger.Error(ctx, "audit write failed",
			"entity_type", entry.EntityType,
			"entity_id", entry.EntityID,
			"action", entry.Action,
			"error", err,
		)
	}
}

// EscalateQuietly is RecordQuietly for escalations.
func EscalateQuietly(ctx context.Context, txm tx.Manager, esc Escalator, e Escalation) {
	if esc == nil {
		return
	}
	err := txm.RunInSavepoint(ctx, func(ctx context.Context) error {
		return esc.Escalate(ctx, e)
	})
	if err != nil {
		logger.Error(ctx, "escalation write failed",
			"aggregate_type", e.AggregateType,
			"aggregate_id", e.AggregateID,
			"event_type", e.EventType,
			"error", err,
		)
	}
}

// Message is an escalation as stored in the outbox.
type Message struct {
	ID            entity.ID `json:"id"`
	AggregateType string    `json:"aggregateType"`
	AggregateID   string    `json:"aggregateId"`
	EventType     string    `json:"eventType"`
	Payload       []byte    `json:"payload"`
	RetryCount    int       `json:"retryCount"`
	CreatedAt     time.Time `json:"createdAt"`
}

// MessageHandler delivers outbox messages. A returned error leaves the
// message pending for a later retry.
type MessageHandler interface {
	Handle(ctx context.Context, msg *Message) error
}

// LogHandler delivers escalations to the operator log.
type LogHandler struct{}

// Handle implements MessageHandler.
func (LogHandler) Handle(ctx context.Context, msg *Message) error {
	logger.Error(ctx, "escalation",
		"aggregate_type", msg.AggregateType,
		"aggregate_id", msg.AggregateID,
		"event_type", msg.EventType,
		"payload", string(msg.Payload),
		"created_at", msg.CreatedAt,
	)
	return nil
}
