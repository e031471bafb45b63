package variance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "overnight shift", mutate: func(c *Config) { c.BusinessHoursStart, c.BusinessHoursEnd = 22*time.Hour, 6*time.Hour }},
		{name: "zero large threshold", mutate: func(c *Config) { c.LargeAdjustmentThreshold = 0 }, wantErr: true},
		{name: "critical below large", mutate: func(c *Config) { c.CriticalAdjustmentThreshold = 50 }, wantErr: true},
		{name: "zero window", mutate: func(c *Config) { c.ActivityWindow = 0 }, wantErr: true},
		{name: "empty business hours", mutate: func(c *Config) { c.BusinessHoursEnd = c.BusinessHoursStart }, wantErr: true},
		{name: "end past midnight", mutate: func(c *Config) { c.BusinessHoursEnd = 25 * time.Hour }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWithinBusinessHours(t *testing.T) {
	cfg := DefaultConfig()
	day := func(h, m int) time.Time { return time.Date(2025, 3, 10, h, m, 0, 0, time.UTC) }

	assert.False(t, cfg.WithinBusinessHours(day(8, 59)))
	assert.True(t, cfg.WithinBusinessHours(day(9, 0)))
	assert.True(t, cfg.WithinBusinessHours(day(20, 59)))
	assert.False(t, cfg.WithinBusinessHours(day(21, 0)))

	cfg.BusinessHoursStart, cfg.BusinessHoursEnd = 22*time.Hour, 6*time.Hour
	assert.True(t, cfg.WithinBusinessHours(day(23, 0)))
	assert.True(t, cfg.WithinBusinessHours(day(5, 59)))
	assert.False(t, cfg.WithinBusinessHours(day(12, 0)))
}

func TestWithinBusinessHours_Location(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Location = time.FixedZone("UTC+1", 3600)

	// 08:30 UTC is 09:30 at UTC+1.
	assert.True(t, cfg.WithinBusinessHours(time.Date(2025, 1, 15, 8, 30, 0, 0, time.UTC)))
	assert.False(t, cfg.WithinBusinessHours(time.Date(2025, 1, 15, 20, 30, 0, 0, time.UTC)))
}

func TestPeakActivity(t *testing.T) {
	base := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	events := manualEvents("a", base, 0, 10, 20, 70, 75, 80, 85)
	events = append(events, manualEvents("b", base, 0)...)

	peaks := peakActivity(events, time.Hour)
	assert.Equal(t, int64(4), peaks["a"].Count)
	assert.Equal(t, base.Add(85*time.Minute), peaks["a"].At)
	assert.Equal(t, int64(1), peaks["b"].Count)
}
