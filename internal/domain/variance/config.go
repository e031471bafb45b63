// Package variance classifies inventory mutations into anomaly alerts and
// keeps a daily summary of them.
package variance

import (
	"fmt"
	"time"

	"ledgercore/internal/core/apperror"
	"ledgercore/internal/core/entity"
)

// Alert is a detected variance. See entity.VarianceAlert.
type Alert = entity.VarianceAlert

// Config holds the detection thresholds.
type Config struct {
	// LargeAdjustmentThreshold: a negative manual change of more units is LARGE_ADJUSTMENT.
	LargeAdjustmentThreshold int64
	// CriticalAdjustmentThreshold: above this LARGE_ADJUSTMENT becomes CRITICAL.
	CriticalAdjustmentThreshold int64
	// HighActivityThreshold: more manual changes by one actor inside ActivityWindow is MULTIPLE_ADJUSTMENTS.
	HighActivityThreshold int
	ActivityWindow        time.Duration
	// BusinessHoursStart and BusinessHoursEnd are offsets from local midnight.
	// A start after the end describes an overnight shift.
	BusinessHoursStart time.Duration
	BusinessHoursEnd   time.Duration
	// Location is the zone of business hours and of summary days.
	Location *time.Location
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		LargeAdjustmentThreshold:    100,
		CriticalAdjustmentThreshold: 500,
		HighActivityThreshold:       5,
		ActivityWindow:              time.Hour,
		BusinessHoursStart:          9 * time.Hour,
		BusinessHoursEnd:            21 * time.Hour,
		Location:                    time.UTC,
	}
}

// Validate checks the thresholds.
func (c Config) Validate() error {
	if c.LargeAdjustmentThreshold <= 0 {
		return apperror.NewValidation("large adjustment threshold must be positive")
	}
	if c.CriticalAdjustmentThreshold < c.LargeAdjustmentThreshold {
		return apperror.NewValidation("critical adjustment threshold must not be below the large adjustment threshold")
	}
	if c.HighActivityThreshold <= 0 {
		return apperror.NewValidation("high activity threshold must be positive")
	}
	if c.ActivityWindow <= 0 {
		return apperror.NewValidation("activity window must be positive")
	}
	day := 24 * time.Hour
	if c.BusinessHoursStart < 0 || c.BusinessHoursStart >= day || c.BusinessHoursEnd < 0 || c.BusinessHoursEnd > day {
		return apperror.NewValidation("business hours must be within one day")
	}
	if c.BusinessHoursStart == c.BusinessHoursEnd {
		return apperror.NewValidation("business hours must not be empty")
	}
	return nil
}

func (c Config) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// WithinBusinessHours reports whether at falls inside business hours.
func (c Config) WithinBusinessHours(at time.Time) bool {
	local := at.In(c.location())
	y, m, d := local.Date()
	tod := local.Sub(time.Date(y, m, d, 0, 0, 0, 0, local.Location()))
	if c.BusinessHoursStart < c.BusinessHoursEnd {
		return tod >= c.BusinessHoursStart && tod < c.BusinessHoursEnd
	}
	return tod >= c.BusinessHoursStart || tod < c.BusinessHoursEnd
}

func formatOffset(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}
