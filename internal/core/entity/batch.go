package entity

import (
	"time"

	"ledgercore/internal/core/apperror"
	"ledgercore/internal/core/types"
)

// BatchStatus is the lifecycle state of a product batch.
// The only transition is ACTIVE -> EXPIRED.
type BatchStatus string

const (
	BatchStatusActive  BatchStatus = "ACTIVE"
	BatchStatusExpired BatchStatus = "EXPIRED"
)

// Valid reports whether s is a known status.
func (s BatchStatus) Valid() bool {
	return s == BatchStatusActive || s == BatchStatusExpired
}

// ProductBatch is a received lot of a product sharing one expiry date and cost.
type ProductBatch struct {
	ID                ID          `db:"id" json:"id"`
	ProductID         string      `db:"product_id" json:"productId"`
	BatchNumber       string      `db:"batch_number" json:"batchNumber"`
	ExpiryDate        *time.Time  `db:"expiry_date" json:"expiryDate,omitempty"`
	QuantityReceived  int64       `db:"quantity_received" json:"quantityReceived"`
	QuantityRemaining int64       `db:"quantity_remaining" json:"quantityRemaining"`
	UnitCost          types.Money `db:"unit_cost" json:"unitCost"`
	Status            BatchStatus `db:"status" json:"status"`
	// Active is false once the batch is retired. Batches are never deleted.
	Active     bool      `db:"active" json:"active"`
	ReceivedAt time.Time `db:"received_at" json:"receivedAt"`
	UpdatedAt  time.Time `db:"updated_at" json:"updatedAt"`
}

// Validate checks the quantity and status invariants.
func (b *ProductBatch) Validate() error {
	if b.ProductID == "" {
		return apperror.NewValidation("product id is required")
	}
	if b.BatchNumber == "" {
		return apperror.NewValidation("batch number is required")
	}
	if b.QuantityReceived < 0 {
		return apperror.NewValidation("quantity received must not be negative")
	}
	if b.QuantityRemaining < 0 || b.QuantityRemaining > b.QuantityReceived {
		return apperror.NewValidation("quantity remaining must be within [0, quantity received]").
			WithDetail("remaining", b.QuantityRemaining).
			WithDetail("received", b.QuantityReceived)
	}
	if b.UnitCost.IsNegative() {
		return apperror.NewValidation("unit cost must not be negative")
	}
	if !b.Status.Valid() {
		return apperror.NewValidation("unknown batch status").WithDetail("status", b.Status)
	}
	return nil
}

// Sellable reports whether the batch takes part in FEFO allocation.
func (b *ProductBatch) Sellable() bool {
	return b.Active && b.Status == BatchStatusActive && b.QuantityRemaining > 0
}

// Returnable is how much can still be put back before reaching QuantityReceived.
func (b *ProductBatch) Returnable() int64 {
	return b.QuantityReceived - b.QuantityRemaining
}

// ExpiresOnOrBefore reports whether the batch has an expiry date not later than day.
func (b *ProductBatch) ExpiresOnOrBefore(day time.Time) bool {
	return b.ExpiryDate != nil && !b.ExpiryDate.After(day)
}

// StockValue is QuantityRemaining × UnitCost.
func (b *ProductBatch) StockValue() types.Money {
	return types.Extend(b.QuantityRemaining, b.UnitCost)
}

// Clone returns a copy that does not share the expiry pointer.
func (b *ProductBatch) Clone() *ProductBatch {
	c := *b
	if b.ExpiryDate != nil {
		d := *b.ExpiryDate
		c.ExpiryDate = &d
	}
	return &c
}
