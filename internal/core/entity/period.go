package entity

import (
	"fmt"
	"time"
)

// FiscalPeriod is one numbering scope of a document series.
// LastIssued is the last number handed out; the next one is LastIssued+1.
type FiscalPeriod struct {
	ID          ID        `db:"id" json:"id"`
	Series      string    `db:"series" json:"series"`
	PeriodStart time.Time `db:"period_start" json:"periodStart"`
	LastIssued  int64     `db:"last_issued" json:"lastIssued"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

// NewFiscalPeriod creates a period starting at start (truncated to the day).
func NewFiscalPeriod(series string, start time.Time, base int64) *FiscalPeriod {
	y, m, d := start.Date()
	now := time.Now().UTC()
	return &FiscalPeriod{
		ID:          NewID(),
		Series:      series,
		PeriodStart: time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
		LastIssued:  base,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Key identifies the period inside its series.
func (p *FiscalPeriod) Key() string {
	return fmt.Sprintf("%s/%s", p.Series, p.PeriodStart.Format(time.DateOnly))
}

// DocumentNumber is an allocated number.
type DocumentNumber struct {
	Series      string    `json:"series"`
	PeriodStart time.Time `json:"periodStart"`
	Value       int64     `json:"value"`
	Formatted   string    `json:"formatted"`
}

func (n DocumentNumber) String() string {
	return n.Formatted
}
