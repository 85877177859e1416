package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds retries of transient failures. Attempts are never unbounded.
type RetryPolicy struct {
	MaxAttempts int // total attempts including the first
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
}

// Retryable lets callers mark errors that are worth another attempt.
type Retryable interface {
	Retryable() bool
}

// Retry runs fn until it succeeds, returns a non-retryable error, the attempt
// cap is reached or ctx ends. It returns the number of attempts made.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) (int, error) {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	eb := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		eb.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		eb.MaxInterval = p.Max
	}
	if p.Multiplier > 1 {
		eb.Multiplier = p.Multiplier
	}
	eb.MaxElapsedTime = 0 // attempts cap instead
	bo := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1)), ctx)

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !isRetryable(ctx, err) {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
	return attempts, err
}

// isRetryable decides on the outer ctx, not the error chain: an attempt that
// hit its own deadline is retried while ctx still has time.
func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return false
	}
	var r Retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
