package entity

// BatchFilter narrows batch listings.
type BatchFilter struct {
	ProductID string
	// Status filters by lifecycle state; empty means any.
	Status BatchStatus
	// IncludeInactive also returns retired batches.
	IncludeInactive bool
	Limit           int
	Offset          int
}

// ProductStock is the aggregate ACTIVE-batch remainder of one product.
type ProductStock struct {
	ProductID string `db:"product_id" json:"productId"`
	Quantity  int64  `db:"quantity" json:"quantity"`
}
