// Package clock resolves "now" and "today" for the ledger.
// Fiscal period selection, expiry and the variance windows all depend on the
// calendar day, so services take a Clock instead of calling time.Now.
package clock

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Clock returns the current instant.
type Clock interface {
	Now() time.Time
}

// Real is the wall clock in a fixed location.
type Real struct {
	Location *time.Location
}

// NewReal returns a wall clock. A nil location means UTC.
func NewReal(loc *time.Location) Real {
	if loc == nil {
		loc = time.UTC
	}
	return Real{Location: loc}
}

// Now implements Clock.
func (r Real) Now() time.Time {
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	return time.Now().In(loc)
}

// Fixed is a settable clock for tests and replays.
type Fixed struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixed returns a clock stopped at t.
func NewFixed(t time.Time) *Fixed {
	return &Fixed{now: t}
}

// Now implements Clock.
func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set moves the clock to t.
func (f *Fixed) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// Advance moves the clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Today is the calendar date of c.Now() in the clock's location, expressed
// as UTC midnight. Dates (expiry dates, period starts) are stored that way.
func Today(c Clock) time.Time {
	return DateOf(c.Now())
}

// DateOf returns the calendar date of t as UTC midnight.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// StartOfDay returns midnight of the day containing t, in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Date builds a calendar day in UTC. Mostly used by tests and the seed command.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DaysBetween counts whole calendar days from a to b (negative when b is earlier).
func DaysBetween(a, b time.Time) int {
	a = StartOfDay(a)
	b = time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, a.Location())
	return int(math.Round(b.Sub(a).Hours() / 24))
}

// ParseTimeOfDay parses "hh:mm" into an offset from midnight.
func ParseTimeOfDay(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// TimeOfDay returns the offset of t from midnight in t's location.
func TimeOfDay(t time.Time) time.Duration {
	return t.Sub(StartOfDay(t))
}
