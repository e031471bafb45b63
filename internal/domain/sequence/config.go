package sequence

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Strategy defines how an allocation relates to the caller's transaction.
type Strategy int

const (
	// StrategyStrict increments the counter inside the caller's transaction.
	// The period row stays locked until the caller commits, so numbers are
	// gapless: a rolled-back caller releases its number to the next one.
	StrategyStrict Strategy = iota

	// StrategyIndependent commits the increment in its own short transaction.
	// The period row is locked only for the increment, and a caller that
	// rolls back afterwards loses exactly one number.
	StrategyIndependent
)

// ParseStrategy maps "strict" and "independent" to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return StrategyStrict, nil
	case "independent":
		return StrategyIndependent, nil
	default:
		return StrategyStrict, fmt.Errorf("unknown numbering strategy %q", s)
	}
}

func (s Strategy) String() string {
	if s == StrategyIndependent {
		return "independent"
	}
	return "strict"
}

// Config holds numbering format configuration.
type Config struct {
	// IncludeYear adds the period start year to the number
	IncludeYear bool

	// PadWidth is the minimum number width (default 5)
	PadWidth int

	// Prefixes overrides the prefix per series. The series name is used otherwise.
	Prefixes map[string]string

	Strategy Strategy
}

// DefaultConfig returns PREFIX-YYYY-00001 numbering with the strict strategy.
func DefaultConfig() Config {
	return Config{
		IncludeYear: true,
		PadWidth:    5,
		Strategy:    StrategyStrict,
	}
}

func (c Config) prefix(series string) string {
	if p, ok := c.Prefixes[series]; ok && p != "" {
		return p
	}
	return series
}

// Format renders value for series in the given period.
func (c Config) Format(series string, periodStart time.Time, value int64) string {
	padWidth := c.PadWidth
	if padWidth == 0 {
		padWidth = 5
	}

	prefix := c.prefix(series)
	if c.IncludeYear {
		return fmt.Sprintf("%s-%s-%0*d", prefix, periodStart.Format("2006"), padWidth, value)
	}
	return fmt.Sprintf("%s-%0*d", prefix, padWidth, value)
}

// ParseNumber extracts the numeric part from a formatted number.
// Returns -1 if parsing fails.
func ParseNumber(formatted string) int64 {
	idx := strings.LastIndex(formatted, "-")
	if idx < 0 || idx == len(formatted)-1 {
		return -1
	}
	num, err := strconv.ParseInt(formatted[idx+1:], 10, 64)
	if err != nil || num < 0 {
		return -1
	}
	return num
}
