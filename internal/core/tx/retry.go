package tx

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"ledgercore/internal/core/apperror"
	"ledgercore/pkg/logger"
)

// RetryPolicy bounds RetryOnContention.
type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy retries a contended transaction up to five times.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxTries:        5,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// RetryOnContention runs fn in a fresh transaction and reruns the whole
// transaction with exponential backoff while it fails with a retryable error
// (lock timeout, deadlock, serialization failure). Business errors are
// returned immediately.
//
// Must not be called with a transaction already in ctx: retrying inside an
// outer transaction would retry on a rolled-back connection.
func RetryOnContention(ctx context.Context, m Manager, policy RetryPolicy, fn func(ctx context.Context) error) error {
	if policy.MaxTries == 0 {
		policy = DefaultRetryPolicy()
	}

	b := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		b.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		b.MaxInterval = policy.MaxInterval
	}

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := m.RunInTransaction(ctx, fn)
		if err == nil {
			return struct{}{}, nil
		}
		if !apperror.IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		logger.Warn(ctx, "transaction contended, retrying",
			"attempt", attempt,
			"error", err,
		)
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(policy.MaxTries),
	)
	return err
}
