package entity

import (
	"time"

	"ledgercore/internal/core/types"
)

// ChangeReason classifies a quantity change.
type ChangeReason string

const (
	ReasonReceipt    ChangeReason = "RECEIPT"
	ReasonSale       ChangeReason = "SALE"
	ReasonReturn     ChangeReason = "RETURN"
	ReasonAdjustment ChangeReason = "ADJUSTMENT"
	ReasonWriteOff   ChangeReason = "WRITE_OFF"
	// ReasonExpiry records the ACTIVE -> EXPIRED transition. Delta is 0.
	ReasonExpiry ChangeReason = "EXPIRY"
)

// AllReasons lists reasons in report order.
var AllReasons = []ChangeReason{
	ReasonReceipt, ReasonSale, ReasonReturn, ReasonAdjustment, ReasonWriteOff, ReasonExpiry,
}

// IsManual reports whether the change was keyed in by a person rather than
// produced by a sale, return or receipt.
func (r ChangeReason) IsManual() bool {
	return r == ReasonAdjustment || r == ReasonWriteOff
}

// QuantityChangeEvent is an append-only record of one change to one batch.
// Events are never updated or deleted.
type QuantityChangeEvent struct {
	ID        ID           `db:"id" json:"id"`
	BatchID   ID           `db:"batch_id" json:"batchId"`
	ProductID string       `db:"product_id" json:"productId"`
	Delta     int64        `db:"delta" json:"delta"`
	Reason    ChangeReason `db:"reason" json:"reason"`
	Actor     string       `db:"actor" json:"actor"`
	// UnitCost snapshot of the batch when the event was recorded.
	UnitCost types.Money `db:"unit_cost" json:"unitCost"`
	// Reference is the business document (sale number, receipt, note).
	Reference  string    `db:"reference" json:"reference,omitempty"`
	OccurredAt time.Time `db:"occurred_at" json:"occurredAt"`
}

// NewQuantityChangeEvent builds an event for batch b.
func NewQuantityChangeEvent(b *ProductBatch, delta int64, reason ChangeReason, actor, reference string, at time.Time) QuantityChangeEvent {
	return QuantityChangeEvent{
		ID:         NewID(),
		BatchID:    b.ID,
		ProductID:  b.ProductID,
		Delta:      delta,
		Reason:     reason,
		Actor:      actor,
		UnitCost:   b.UnitCost,
		Reference:  reference,
		OccurredAt: at,
	}
}

// Value is |Delta| × UnitCost.
func (e QuantityChangeEvent) Value() types.Money {
	return types.Extend(types.AbsInt64(e.Delta), e.UnitCost)
}
