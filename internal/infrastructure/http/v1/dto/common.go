// Package dto provides Data Transfer Objects for API requests/responses.
package dto

import (
	"strings"
	"time"

	"ledgercore/internal/core/apperror"
	"ledgercore/internal/core/clock"
)

// --- List Response ---

// ListResponse wraps list results.
type ListResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

// NewListResponse never renders a null item list.
func NewListResponse[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items, Count: len(items)}
}

// --- ID Response ---

// IDResponse for create operations.
type IDResponse struct {
	ID string `json:"id"`
}

// --- Success Response ---

// SuccessResponse for operations without data.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// --- Error Response ---

// ErrorResponse for error details.
type ErrorResponse struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
}

// --- Dates ---

// ParseDate parses a YYYY-MM-DD value into a UTC calendar date.
func ParseDate(field, value string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, apperror.NewValidation("invalid date, expected YYYY-MM-DD").
			WithDetail("field", field).
			WithDetail("value", value)
	}
	return clock.DateOf(t), nil
}

// ParseOptionalDate is ParseDate that maps an empty value to nil.
func ParseOptionalDate(field, value string) (*time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	t, err := ParseDate(field, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
