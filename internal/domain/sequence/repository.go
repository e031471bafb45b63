// Package sequence issues gapless document numbers per fiscal period.
package sequence

import (
	"context"
	"time"

	"ledgercore/internal/core/entity"
)

// Repository defines storage operations for fiscal periods.
// Lookups return apperror NotFound when no row matches.
type Repository interface {
	// FindCurrentForUpdate locks and returns the period of series with the
	// latest start on or before day. Blocks while another transaction holds
	// the row; gives up with LockTimeout after the configured wait.
	FindCurrentForUpdate(ctx context.Context, series string, day time.Time) (*entity.FiscalPeriod, error)

	// FindCurrent is FindCurrentForUpdate without the lock.
	FindCurrent(ctx context.Context, series string, day time.Time) (*entity.FiscalPeriod, error)

	// GetForUpdate locks the period of series starting exactly at start.
	GetForUpdate(ctx context.Context, series string, start time.Time) (*entity.FiscalPeriod, error)

	// UpdateLastIssued stores the new counter value.
	UpdateLastIssued(ctx context.Context, periodID entity.ID, lastIssued int64) error

	// Create inserts a period. Returns Duplicate when (series, start) exists.
	Create(ctx context.Context, period *entity.FiscalPeriod) error

	// List returns the periods of series ordered by start.
	List(ctx context.Context, series string) ([]entity.FiscalPeriod, error)
}
