package batch

import (
	"time"

	"ledgercore/internal/core/apperror"
	"ledgercore/internal/core/entity"
	"ledgercore/internal/core/types"
)

// ReceiveInput describes a goods receipt line.
type ReceiveInput struct {
	ProductID   string      `json:"productId"`
	BatchNumber string      `json:"batchNumber"`
	ExpiryDate  *time.Time  `json:"expiryDate,omitempty"`
	Quantity    int64       `json:"quantity"`
	UnitCost    types.Money `json:"unitCost"`
	Reference   string      `json:"reference,omitempty"`
}

// Validate checks the receipt line.
func (in ReceiveInput) Validate() error {
	if in.Quantity <= 0 {
		return apperror.NewValidation("quantity must be positive").WithDetail("quantity", in.Quantity)
	}
	return nil
}

// Allocation is the quantity taken from one batch by a sale.
type Allocation struct {
	BatchID     entity.ID  `json:"batchId"`
	BatchNumber string     `json:"batchNumber"`
	ExpiryDate  *time.Time `json:"expiryDate,omitempty"`
	Quantity    int64      `json:"quantity"`
}

// ChangeResult is returned by manual changes; Alerts are the variance
// findings for the change, for immediate display.
type ChangeResult struct {
	Batch  *entity.ProductBatch       `json:"batch"`
	Event  entity.QuantityChangeEvent `json:"event"`
	Alerts []entity.VarianceAlert     `json:"alerts"`
}
