package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgercore/internal/domain/sequence"
)

var keys = []string{
	"APP_ENV", "APP_PORT", "LOG_LEVEL", "STORE", "TIMEZONE", "DATABASE_URL",
	"LOCK_TIMEOUT", "STATEMENT_TIMEOUT", "NUMBER_STRATEGY", "NUMBER_SERIES",
	"NUMBER_PAD_WIDTH", "NUMBER_INCLUDE_YEAR", "VARIANCE_LARGE_ADJUSTMENT",
	"VARIANCE_CRITICAL_ADJUSTMENT", "VARIANCE_HIGH_ACTIVITY", "VARIANCE_ACTIVITY_WINDOW",
	"BUSINESS_HOURS_START", "BUSINESS_HOURS_END", "NEAR_EXPIRY_THRESHOLDS",
	"EXPIRY_JOB_AT", "VARIANCE_JOB_AT", "SCHEDULER_TICK", "OUTBOX_INTERVAL", "IDEMPOTENCY_TTL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE", "memory")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.True(t, cfg.Development())
	assert.Equal(t, time.UTC, cfg.Location)
	assert.Equal(t, 5*time.Second, cfg.Database.LockTimeout)
	assert.Equal(t, 30*time.Second, cfg.Database.StatementTimeout)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, sequence.StrategyStrict, cfg.Numbering.Strategy)
	assert.Equal(t, 5, cfg.Numbering.PadWidth)
	assert.Equal(t, int64(100), cfg.Variance.LargeAdjustmentThreshold)
	assert.Equal(t, 9*time.Hour, cfg.Variance.BusinessHoursStart)
	assert.Equal(t, 21*time.Hour, cfg.Variance.BusinessHoursEnd)
	assert.Equal(t, []int{30, 60, 90}, cfg.NearExpiryThresholds)
	assert.Equal(t, "00:05", cfg.ExpiryJobAt)
	assert.Equal(t, "00:30", cfg.VarianceJobAt)
}

func TestFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE", "postgres")
	t.Setenv("DATABASE_URL", "postgres://ledger@localhost/ledger")
	t.Setenv("TIMEZONE", "Asia/Kolkata")
	t.Setenv("LOCK_TIMEOUT", "2s")
	t.Setenv("NUMBER_STRATEGY", "independent")
	t.Setenv("NUMBER_SERIES", "INV=INV, GR=GRN")
	t.Setenv("NUMBER_INCLUDE_YEAR", "false")
	t.Setenv("VARIANCE_LARGE_ADJUSTMENT", "50")
	t.Setenv("BUSINESS_HOURS_START", "22:00")
	t.Setenv("BUSINESS_HOURS_END", "06:00")
	t.Setenv("NEAR_EXPIRY_THRESHOLDS", "7, 14")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Kolkata", cfg.Location.String())
	assert.Equal(t, cfg.Location, cfg.Variance.Location)
	assert.Equal(t, 2*time.Second, cfg.Database.LockTimeout)
	assert.Equal(t, sequence.StrategyIndependent, cfg.Numbering.Strategy)
	assert.Equal(t, map[string]string{"INV": "INV", "GR": "GRN"}, cfg.Numbering.Prefixes)
	assert.False(t, cfg.Numbering.IncludeYear)
	assert.Equal(t, int64(50), cfg.Variance.LargeAdjustmentThreshold)
	assert.Equal(t, 22*time.Hour, cfg.Variance.BusinessHoursStart)
	assert.Equal(t, []int{7, 14}, cfg.NearExpiryThresholds)
}

func TestFromEnv_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "postgres without url", env: map[string]string{"STORE": "postgres"}},
		{name: "unknown store", env: map[string]string{"STORE": "redis"}},
		{name: "bad zone", env: map[string]string{"STORE": "memory", "TIMEZONE": "Mars/Olympus"}},
		{name: "bad strategy", env: map[string]string{"STORE": "memory", "NUMBER_STRATEGY": "lenient"}},
		{name: "bad series", env: map[string]string{"STORE": "memory", "NUMBER_SERIES": "INV"}},
		{name: "bad thresholds", env: map[string]string{"STORE": "memory", "NEAR_EXPIRY_THRESHOLDS": "30,-1"}},
		{name: "bad job time", env: map[string]string{"STORE": "memory", "EXPIRY_JOB_AT": "noon"}},
		{name: "critical below large", env: map[string]string{"STORE": "memory", "VARIANCE_CRITICAL_ADJUSTMENT": "10"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestParseThresholds(t *testing.T) {
	got, err := ParseThresholds("30,60, 90")
	require.NoError(t, err)
	assert.Equal(t, []int{30, 60, 90}, got)

	got, err = ParseThresholds("")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = ParseThresholds("abc")
	assert.Error(t, err)
}
