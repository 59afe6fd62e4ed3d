package chat

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/fpang/scholarship-verification/internal/metrics"
)

// RetryPolicy bounds retries of transient backend errors.
type RetryPolicy struct {
	Attempts  int           // total attempts, including the first
	BaseDelay time.Duration // delay before the second attempt; doubles after each retry
}

// DefaultRetryPolicy allows three attempts starting at a two second delay.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, BaseDelay: 2 * time.Second}

// Retry runs op until it succeeds, returns a non-retryable error, or the
// policy's attempts are spent. Only errors classified as *RetryableError are
// retried; everything else is returned on the first failure.
func Retry[T any](ctx context.Context, policy RetryPolicy, operation string, op func() (T, error)) (T, error) {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = policy.BaseDelay << uint(attempts)

	wrapped := func() (T, error) {
		res, err := op()
		if err != nil && !IsRetryable(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	return backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().Err(err).Str("operation", operation).Dur("retryIn", next).Msg("Transient backend error, retrying")
			metrics.New().Dimension("Operation", operation).Count("BackendRetries").Flush()
		}),
	)
}
