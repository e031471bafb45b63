package expiry

import (
	"time"

	"ledgercore/internal/core/entity"
	"ledgercore/internal/core/types"
)

// DefaultThresholds are the near-expiry horizons in days.
var DefaultThresholds = []int{30, 60, 90}

// BatchRef identifies a batch in job results and reports.
type BatchRef struct {
	BatchID           entity.ID   `json:"batchId"`
	ProductID         string      `json:"productId"`
	BatchNumber       string      `json:"batchNumber"`
	ExpiryDate        time.Time   `json:"expiryDate"`
	QuantityRemaining int64       `json:"quantityRemaining"`
	Value             types.Money `json:"value"`
}

func refOf(b *entity.ProductBatch) BatchRef {
	ref := BatchRef{
		BatchID:           b.ID,
		ProductID:         b.ProductID,
		BatchNumber:       b.BatchNumber,
		QuantityRemaining: b.QuantityRemaining,
		Value:             b.StockValue(),
	}
	if b.ExpiryDate != nil {
		ref.ExpiryDate = *b.ExpiryDate
	}
	return ref
}

// RunResult summarises one MarkExpiredBatches run.
type RunResult struct {
	Day     time.Time  `json:"day"`
	RanAt   time.Time  `json:"ranAt"`
	Expired []BatchRef `json:"expired"`
	Count   int        `json:"count"`
	// ValueExpired is the stock value that left the sellable pool.
	ValueExpired types.Money `json:"valueExpired"`
}

// BatchExposure is a batch inside a near-expiry bucket.
type BatchExposure struct {
	BatchRef
	DaysToExpiry int `json:"daysToExpiry"`
}

// NearExpiryBucket holds every batch expiring within ThresholdDays of today.
// Buckets are cumulative: a batch in the 30-day bucket is also in the 60-
// and 90-day buckets.
type NearExpiryBucket struct {
	ThresholdDays int             `json:"thresholdDays"`
	From          time.Time       `json:"from"`
	To            time.Time       `json:"to"`
	Batches       []BatchExposure `json:"batches"`
	BatchCount    int             `json:"batchCount"`
	TotalQuantity int64           `json:"totalQuantity"`
	ValueAtRisk   types.Money     `json:"valueAtRisk"`
}
