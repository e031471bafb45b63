// Package config loads process configuration from the environment.
// A .env file in the working directory is read first when present; real
// environment variables win over it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"

	"ledgercore/internal/core/clock"
	"ledgercore/internal/domain/sequence"
	"ledgercore/internal/domain/variance"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config is the full process configuration.
type Config struct {
	AppEnv   string
	Port     string
	LogLevel string
	Store    string
	Location *time.Location

	Database  DatabaseConfig
	Numbering sequence.Config
	Variance  variance.Config

	NearExpiryThresholds []int
	ExpiryJobAt          string
	VarianceJobAt        string
	SchedulerTick        time.Duration
	OutboxInterval       time.Duration
	IdempotencyTTL       time.Duration
}

// DatabaseConfig holds connection and locking settings.
type DatabaseConfig struct {
	URL              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	LockTimeout      time.Duration
	StatementTimeout time.Duration
}

// Development reports whether the process runs in development mode.
func (c *Config) Development() bool {
	return c.AppEnv == "development"
}

// Load reads the configuration.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv reads the configuration from the process environment only.
func FromEnv() (*Config, error) {
	loc, err := time.LoadLocation(getEnv("TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE: %w", err)
	}

	cfg := &Config{
		AppEnv:   getEnv("APP_ENV", "development"),
		Port:     getEnv("APP_PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Store:    strings.ToLower(getEnv("STORE", StorePostgres)),
		Location: loc,
		Database: DatabaseConfig{
			URL:              os.Getenv("DATABASE_URL"),
			MaxConns:         int32(getEnvInt("DB_MAX_CONNS", 25)),
			MinConns:         int32(getEnvInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:  getEnvDuration("DB_MAX_CONN_LIFETIME", time.Hour),
			LockTimeout:      getEnvDuration("LOCK_TIMEOUT", 5*time.Second),
			StatementTimeout: getEnvDuration("STATEMENT_TIMEOUT", 30*time.Second),
		},
		ExpiryJobAt:    getEnv("EXPIRY_JOB_AT", "00:05"),
		VarianceJobAt:  getEnv("VARIANCE_JOB_AT", "00:30"),
		SchedulerTick:  getEnvDuration("SCHEDULER_TICK", 30*time.Second),
		OutboxInterval: getEnvDuration("OUTBOX_INTERVAL", 5*time.Second),
		IdempotencyTTL: getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),
	}

	switch cfg.Store {
	case StorePostgres:
		if cfg.Database.URL == "" {
			return nil, errors.New("DATABASE_URL is required for the postgres store")
		}
	case StoreMemory:
	default:
		return nil, fmt.Errorf("STORE: unknown backend %q", cfg.Store)
	}

	if cfg.Numbering, err = numbering(); err != nil {
		return nil, err
	}
	if cfg.Variance, err = varianceConfig(loc); err != nil {
		return nil, err
	}
	if cfg.NearExpiryThresholds, err = parseInts(getEnv("NEAR_EXPIRY_THRESHOLDS", "30,60,90")); err != nil {
		return nil, fmt.Errorf("NEAR_EXPIRY_THRESHOLDS: %w", err)
	}
	for _, key := range []string{"EXPIRY_JOB_AT", "VARIANCE_JOB_AT"} {
		if _, err := clock.ParseTimeOfDay(getEnv(key, "00:00")); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
	}
	return cfg, nil
}

func numbering() (sequence.Config, error) {
	cfg := sequence.DefaultConfig()
	cfg.PadWidth = getEnvInt("NUMBER_PAD_WIDTH", cfg.PadWidth)
	cfg.IncludeYear = getEnvBool("NUMBER_INCLUDE_YEAR", cfg.IncludeYear)

	strategy, err := sequence.ParseStrategy(getEnv("NUMBER_STRATEGY", "strict"))
	if err != nil {
		return cfg, fmt.Errorf("NUMBER_STRATEGY: %w", err)
	}
	cfg.Strategy = strategy

	prefixes, err := parsePairs(os.Getenv("NUMBER_SERIES"))
	if err != nil {
		return cfg, fmt.Errorf("NUMBER_SERIES: %w", err)
	}
	cfg.Prefixes = prefixes
	return cfg, nil
}

func varianceConfig(loc *time.Location) (variance.Config, error) {
	cfg := variance.DefaultConfig()
	cfg.Location = loc
	cfg.LargeAdjustmentThreshold = int64(getEnvInt("VARIANCE_LARGE_ADJUSTMENT", int(cfg.LargeAdjustmentThreshold)))
	cfg.CriticalAdjustmentThreshold = int64(getEnvInt("VARIANCE_CRITICAL_ADJUSTMENT", int(cfg.CriticalAdjustmentThreshold)))
	cfg.HighActivityThreshold = getEnvInt("VARIANCE_HIGH_ACTIVITY", cfg.HighActivityThreshold)
	cfg.ActivityWindow = getEnvDuration("VARIANCE_ACTIVITY_WINDOW", cfg.ActivityWindow)

	var err error
	if cfg.BusinessHoursStart, err = clock.ParseTimeOfDay(getEnv("BUSINESS_HOURS_START", "09:00")); err != nil {
		return cfg, fmt.Errorf("BUSINESS_HOURS_START: %w", err)
	}
	end := getEnv("BUSINESS_HOURS_END", "21:00")
	if end == "24:00" {
		cfg.BusinessHoursEnd = 24 * time.Hour
	} else if cfg.BusinessHoursEnd, err = clock.ParseTimeOfDay(end); err != nil {
		return cfg, fmt.Errorf("BUSINESS_HOURS_END: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("variance config: %w", err)
	}
	return cfg, nil
}

// parsePairs reads "INV=INV,GR=GRN" into a map.
func parsePairs(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if !ok || key == "" || value == "" {
			return nil, fmt.Errorf("expected SERIES=PREFIX, got %q", part)
		}
		out[key] = value
	}
	return out, nil
}

func parseInts(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("not a number: %q", part)
		}
		if n <= 0 {
			return nil, fmt.Errorf("must be positive: %d", n)
		}
		out = append(out, n)
	}
	return out, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// ParseThresholds reads a comma separated list of positive day counts.
// Used by the near-expiry report query parameter.
func ParseThresholds(s string) ([]int, error) {
	return parseInts(s)
}
