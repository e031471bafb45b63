package entity

import (
	"time"

	"ledgercore/internal/core/types"
)

// AlertType is the kind of variance detected.
type AlertType string

const (
	AlertLargeAdjustment     AlertType = "LARGE_ADJUSTMENT"
	AlertMultipleAdjustments AlertType = "MULTIPLE_ADJUSTMENTS"
	AlertAfterHours          AlertType = "AFTER_HOURS"
	AlertNegativeStock       AlertType = "NEGATIVE_STOCK"
)

// Severity of an alert, ordered LOW < MEDIUM < HIGH < CRITICAL.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities for sorting and thresholds.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// VarianceAlert is one detected anomaly. Fields not relevant to Type are zero.
type VarianceAlert struct {
	Type      AlertType `json:"type"`
	Severity  Severity  `json:"severity"`
	ProductID string    `json:"productId,omitempty"`
	BatchID   *ID       `json:"batchId,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	// Quantity is the adjusted amount, the adjustment count or the negative balance.
	Quantity int64     `json:"quantity"`
	At       time.Time `json:"at"`
	Detail   string    `json:"detail,omitempty"`
}

// DailyVarianceSummary is the persisted result of one daily variance run.
// One row per day; reruns overwrite it.
type DailyVarianceSummary struct {
	ID                    ID               `db:"id" json:"id"`
	SummaryDate           time.Time        `db:"summary_date" json:"summaryDate"`
	EventCounts           map[string]int64 `db:"event_counts" json:"eventCounts"`
	AdjustmentCount       int64            `db:"adjustment_count" json:"adjustmentCount"`
	ValueAtRisk           types.Money      `db:"value_at_risk" json:"valueAtRisk"`
	Alerts                []VarianceAlert  `db:"alerts" json:"alerts"`
	NegativeStockProducts []string         `db:"negative_stock_products" json:"negativeStockProducts"`
	CreatedAt             time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt             time.Time        `db:"updated_at" json:"updatedAt"`
}

// CriticalAlerts returns the alerts that require escalation.
func (s *DailyVarianceSummary) CriticalAlerts() []VarianceAlert {
	var out []VarianceAlert
	for _, a := range s.Alerts {
		if a.Severity == SeverityCritical {
			out = append(out, a)
		}
	}
	return out
}
