// Package apperror provides structured error handling for the ledger core.
// Business and contention errors must use AppError so callers can tell a
// retryable lock conflict from a rule violation that aborts the transaction.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Infrastructure errors (5xx)
	CodeInternal = "INTERNAL_ERROR"
	CodeDatabase = "DATABASE_ERROR"

	// Contention errors: safe to retry the whole transaction with backoff
	CodeLockTimeout = "LOCK_TIMEOUT"
	CodeContention  = "CONCURRENT_MODIFICATION"

	// Validation errors (400)
	CodeValidation = "VALIDATION_ERROR"

	// Business rule violations (422)
	CodeInsufficientStock = "INSUFFICIENT_STOCK"
	CodeOverReturn        = "OVER_RETURN"
	CodePeriodNotFound    = "PERIOD_NOT_FOUND"
	CodeInvalidTransition = "INVALID_STATE_TRANSITION"

	// Not found (404)
	CodeNotFound = "NOT_FOUND"

	// Conflict (409)
	CodeConflict  = "CONFLICT"
	CodeDuplicate = "DUPLICATE_ENTRY"

	// Idempotency
	CodeIdempotencyConflict = "IDEMPOTENCY_CONFLICT"
	CodeIdempotencyMismatch = "IDEMPOTENCY_KEY_REUSED"
)

// AppError is the standard error type of the ledger core.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (quantities, ids, periods)
	Details map[string]any `json:"details,omitempty"`

	// HTTPStatus is the suggested HTTP status code
	HTTPStatus int `json:"-"`

	// Retryable marks contention errors: the caller may rerun the whole transaction
	Retryable bool `json:"retryable,omitempty"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Contention ---

// NewLockTimeout is returned when a row lock could not be acquired within the
// configured wait. The enclosing transaction has been (or must be) rolled back.
func NewLockTimeout(resource string) *AppError {
	return &AppError{
		Code:       CodeLockTimeout,
		Message:    "Resource is busy, please retry",
		HTTPStatus: http.StatusServiceUnavailable,
		Retryable:  true,
		Details:    map[string]any{"resource": resource},
	}
}

// NewContention covers deadlocks and serialization failures reported by the store.
func NewContention(err error) *AppError {
	return &AppError{
		Code:       CodeContention,
		Message:    "Concurrent modification detected, please retry",
		HTTPStatus: http.StatusConflict,
		Retryable:  true,
		Err:        err,
	}
}

// --- Business rules ---

// NewInsufficientStock creates a stock shortage error
func NewInsufficientStock(productID string, requested, available int64) *AppError {
	return &AppError{
		Code:       CodeInsufficientStock,
		Message:    "Insufficient stock",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details: map[string]any{
			"product_id": productID,
			"requested":  requested,
			"available":  available,
		},
	}
}

// NewOverReturn is returned when a return would push a batch above the quantity received.
func NewOverReturn(batchID string, requested, returnable int64) *AppError {
	return &AppError{
		Code:       CodeOverReturn,
		Message:    "Return exceeds the quantity originally received for the batch",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details: map[string]any{
			"batch_id":   batchID,
			"requested":  requested,
			"returnable": returnable,
		},
	}
}

// NewPeriodNotFound is returned when no fiscal period covers the given day.
func NewPeriodNotFound(series, day string) *AppError {
	return &AppError{
		Code:       CodePeriodNotFound,
		Message:    fmt.Sprintf("No fiscal period provisioned for %s on %s", series, day),
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"series": series, "day": day},
	}
}

// NewInvalidTransition is returned for a status change the batch state machine forbids.
func NewInvalidTransition(batchID, from, to string) *AppError {
	return &AppError{
		Code:       CodeInvalidTransition,
		Message:    fmt.Sprintf("Batch cannot move from %s to %s", from, to),
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"batch_id": batchID, "from": from, "to": to},
	}
}

// --- Generic ---

// NewValidation creates a validation error (400)
func NewValidation(message string) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewNotFound creates a not found error (404)
func NewNotFound(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", entity),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewInternal creates an internal server error (hides details from client)
func NewInternal(err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewConflict creates a conflict error (409)
func NewConflict(message string) *AppError {
	return &AppError{
		Code:       CodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// NewDuplicate creates a duplicate entry error (409)
func NewDuplicate(entity, field, value string) *AppError {
	return &AppError{
		Code:       CodeDuplicate,
		Message:    fmt.Sprintf("%s with this %s already exists", entity, field),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"entity": entity, "field": field, "value": value},
	}
}

// --- Idempotency ---

// NewIdempotencyConflict is returned while the first request with the same key is still running.
func NewIdempotencyConflict(key string) *AppError {
	return &AppError{
		Code:       CodeIdempotencyConflict,
		Message:    "A request with this idempotency key is in progress",
		HTTPStatus: http.StatusConflict,
		Retryable:  true,
		Details:    map[string]any{"key": key},
	}
}

// NewIdempotencyMismatch is returned when a key is reused for a different request.
func NewIdempotencyMismatch(key string) *AppError {
	return &AppError{
		Code:       CodeIdempotencyMismatch,
		Message:    "Idempotency key was used for a different request",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"key": key},
	}
}

// --- Helper functions ---

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// IsRetryable reports whether the transaction that produced err may be retried.
func IsRetryable(err error) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Retryable
	}
	return false
}

// IsNotFound checks if error is CodeNotFound
func IsNotFound(err error) bool {
	return IsCode(err, CodeNotFound)
}

// GetHTTPStatus returns appropriate HTTP status for any error
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
