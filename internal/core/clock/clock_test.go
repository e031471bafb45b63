package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedClock(t *testing.T) {
	c := NewFixed(time.Date(2025, 1, 10, 14, 30, 0, 0, time.UTC))
	assert.Equal(t, Date(2025, 1, 10), Today(c))

	c.Advance(10 * time.Hour)
	assert.Equal(t, Date(2025, 1, 11), Today(c))

	c.Set(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, Date(2025, 3, 1), Today(c))
}

func TestTodayUsesClockLocation(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	// 2025-01-09 20:00 UTC is already the 10th in UTC+5.
	c := NewFixed(time.Date(2025, 1, 9, 20, 0, 0, 0, time.UTC).In(loc))
	assert.Equal(t, Date(2025, 1, 10), Today(c))
	assert.Equal(t, time.UTC, Today(c).Location())
}

func TestDaysBetween(t *testing.T) {
	assert.Equal(t, 15, DaysBetween(Date(2025, 1, 1), Date(2025, 1, 16)))
	assert.Equal(t, -1, DaysBetween(Date(2025, 1, 2), Date(2025, 1, 1)))
	assert.Equal(t, 0, DaysBetween(time.Date(2025, 1, 1, 23, 0, 0, 0, time.UTC), Date(2025, 1, 1)))
}

func TestRealClockLocation(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	assert.Equal(t, loc, NewReal(loc).Now().Location())
	assert.Equal(t, time.UTC, NewReal(nil).Now().Location())
}

func TestParseTimeOfDay(t *testing.T) {
	d, err := ParseTimeOfDay("09:00")
	require.NoError(t, err)
	assert.Equal(t, 9*time.Hour, d)

	d, err = ParseTimeOfDay("21:30")
	require.NoError(t, err)
	assert.Equal(t, 21*time.Hour+30*time.Minute, d)

	_, err = ParseTimeOfDay("25:00")
	assert.Error(t, err)
	_, err = ParseTimeOfDay("nine")
	assert.Error(t, err)
}

func TestTimeOfDay(t *testing.T) {
	at := time.Date(2025, 1, 10, 22, 15, 0, 0, time.UTC)
	assert.Equal(t, 22*time.Hour+15*time.Minute, TimeOfDay(at))
}
