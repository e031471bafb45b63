package dto

import (
	"ledgercore/internal/core/types"
	"ledgercore/internal/domain/batch"
	"ledgercore/internal/domain/sale"
)

// ReceiveRequest is a goods receipt line.
type ReceiveRequest struct {
	ProductID   string      `json:"productId" binding:"required"`
	BatchNumber string      `json:"batchNumber" binding:"required"`
	ExpiryDate  string      `json:"expiryDate"`
	Quantity    int64       `json:"quantity" binding:"required,gt=0"`
	UnitCost    types.Money `json:"unitCost"`
	Reference   string      `json:"reference"`
}

// ToInput converts the request to the ledger input.
func (r ReceiveRequest) ToInput() (batch.ReceiveInput, error) {
	expiry, err := ParseOptionalDate("expiryDate", r.ExpiryDate)
	if err != nil {
		return batch.ReceiveInput{}, err
	}
	return batch.ReceiveInput{
		ProductID:   r.ProductID,
		BatchNumber: r.BatchNumber,
		ExpiryDate:  expiry,
		Quantity:    r.Quantity,
		UnitCost:    r.UnitCost,
		Reference:   r.Reference,
	}, nil
}

// AdjustRequest is a manual stock correction.
type AdjustRequest struct {
	Delta int64  `json:"delta" binding:"required"`
	Note  string `json:"note"`
}

// WriteOffRequest removes a batch from sale.
type WriteOffRequest struct {
	Note string `json:"note"`
}

// CheckoutRequest is a basket to post.
type CheckoutRequest struct {
	Lines     []sale.Line `json:"lines" binding:"required,min=1"`
	Reference string      `json:"reference"`
}

// ReturnRequest puts sold units back into a batch.
type ReturnRequest struct {
	BatchID   string `json:"batchId" binding:"required"`
	Quantity  int64  `json:"quantity" binding:"required,gt=0"`
	Reference string `json:"reference"`
}

// StockResponse is a product's sellable quantity.
type StockResponse struct {
	ProductID string `json:"productId"`
	Quantity  int64  `json:"quantity"`
}

// ProvisionPeriodRequest opens a numbering period.
type ProvisionPeriodRequest struct {
	PeriodStart string `json:"periodStart" binding:"required"`
	Base        int64  `json:"base" binding:"min=0"`
}

// SetLastIssuedRequest moves a period counter forward.
type SetLastIssuedRequest struct {
	PeriodStart string `json:"periodStart" binding:"required"`
	LastIssued  int64  `json:"lastIssued" binding:"min=0"`
}
