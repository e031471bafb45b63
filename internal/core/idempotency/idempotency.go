// Package idempotency defines the key store behind the X-Idempotency-Key
// header. A till that retries a checkout after a timeout gets the first
// response back instead of a second sale.
package idempotency

import (
	"context"
	"time"
)

// Status of a stored key.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
)

// DefaultTTL is how long a completed response is replayed.
const DefaultTTL = 24 * time.Hour

// StaleAfter is the age at which a pending key is assumed abandoned by a
// crashed request and may be taken over.
const StaleAfter = time.Minute

// Request identifies one idempotent call.
type Request struct {
	Key       string
	Actor     string
	Operation string
	// RequestHash is the SHA-256 of the request body.
	RequestHash string
}

// Replay is a stored response.
type Replay struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Store keeps idempotency keys.
type Store interface {
	// Acquire claims req.Key. It returns (nil, nil) when the caller should
	// run the operation, a Replay when the operation already completed, and
	// an error when the key is in flight or was used for a different request.
	Acquire(ctx context.Context, req Request) (*Replay, error)

	// Complete stores the response of an acquired key.
	Complete(ctx context.Context, key string, r Replay) error

	// Release forgets a pending key so the client may retry.
	Release(ctx context.Context, key string) error

	// CleanupExpired removes keys past their TTL.
	CleanupExpired(ctx context.Context) (int64, error)
}
