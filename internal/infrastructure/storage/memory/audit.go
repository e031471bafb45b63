package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ledgercore/internal/core/entity"
	"ledgercore/internal/domain/audit"
	"ledgercore/pkg/logger"
)

// AuditLog implements audit.Recorder.
type AuditLog struct {
	s *Store
	// failWith makes Record fail; tests use it to check audit failures are swallowed.
	failWith error
}

// FailWith makes every Record call return err.
func (a *AuditLog) FailWith(err error) *AuditLog {
	a.failWith = err
	return a
}

// Record stores entry in the current transaction.
func (a *AuditLog) Record(ctx context.Context, entry audit.Entry) error {
	if a.failWith != nil {
		return a.failWith
	}
	return a.s.within(ctx, func(ctx context.Context, t *memTx) error {
		if err := writable(t); err != nil {
			return err
		}
		a.s.mu.Lock()
		defer a.s.mu.Unlock()
		rw := &row[audit.Entry]{}
		a.s.audit = append(a.s.audit, rw)
		write(t, rw, entry)
		return nil
	})
}

// Entries returns committed audit entries, oldest first.
func (a *AuditLog) Entries() []audit.Entry {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	var out []audit.Entry
	for _, rw := range a.s.audit {
		if rw.committed != nil {
			out = append(out, *rw.committed)
		}
	}
	return out
}

// Outbox implements audit.Escalator and drains escalations to a handler.
type Outbox struct {
	s *Store
}

// Escalate stores the escalation in the current transaction.
func (o *Outbox) Escalate(ctx context.Context, e audit.Escalation) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal escalation payload: %w", err)
	}
	msg := audit.Message{
		ID:            entity.NewID(),
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		EventType:     e.EventType,
		Payload:       payload,
		CreatedAt:     time.Now().UTC(),
	}
	return o.s.within(ctx, func(ctx context.Context, t *memTx) error {
		if err := writable(t); err != nil {
			return err
		}
		o.s.mu.Lock()
		defer o.s.mu.Unlock()
		rw := &row[audit.Message]{}
		o.s.outbox = append(o.s.outbox, rw)
		write(t, rw, msg)
		return nil
	})
}

// Pending returns committed, undelivered messages.
func (o *Outbox) Pending() []audit.Message {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	var out []audit.Message
	for _, rw := range o.s.outbox {
		if rw.committed != nil {
			out = append(out, *rw.committed)
		}
	}
	return out
}

// Drain hands every pending message to h and removes the delivered ones.
// Returns the number delivered.
func (o *Outbox) Drain(ctx context.Context, h audit.MessageHandler) (int, error) {
	delivered := 0
	for _, msg := range o.Pending() {
		m := msg
		if err := h.Handle(ctx, &m); err != nil {
			logger.Warn(ctx, "escalation delivery failed", "message_id", m.ID, "error", err)
			o.bumpRetry(m.ID)
			continue
		}
		o.remove(m.ID)
		delivered++
	}
	return delivered, nil
}

func (o *Outbox) bumpRetry(id entity.ID) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	for _, rw := range o.s.outbox {
		if rw.committed != nil && rw.committed.ID == id {
			rw.committed.RetryCount++
		}
	}
}

func (o *Outbox) remove(id entity.ID) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	kept := o.s.outbox[:0]
	for _, rw := range o.s.outbox {
		if rw.committed != nil && rw.committed.ID == id {
			continue
		}
		kept = append(kept, rw)
	}
	o.s.outbox = kept
}
