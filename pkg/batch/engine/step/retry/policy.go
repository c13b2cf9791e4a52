// Package retry retries chunk writes with exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/tigerroll/parabatch/pkg/batch/support/util/exception"
)

// Policy bounds how often the same chunk write is attempted.
// Only errors marked retryable (see exception.IsRetryable) are retried.
type Policy struct {
	// MaxAttempts includes the first attempt. Values below 2 disable retry.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultPolicy tries three times, starting at 100ms and capped at 2s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Multiplier:      2,
	}
}

// NotifyFunc is called before each retry with the failed attempt number, its error and
// the wait before the next attempt.
type NotifyFunc func(attempt int, err error, wait time.Duration)

func (p Policy) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier >= 1 {
		b.Multiplier = p.Multiplier
	}
	return b
}

// Execute runs op until it succeeds, returns a non-retryable error, or MaxAttempts is
// reached. It returns the last error, unwrapped from backoff's permanent marker.
// ctx only bounds the waits between attempts; it is not passed to op.
func (p Policy) Execute(ctx context.Context, op func(attempt int) error, notify NotifyFunc) error {
	if p.MaxAttempts < 2 {
		return op(1)
	}
	attempt := 0
	operation := func() (struct{}, error) {
		attempt++
		err := op(attempt)
		if err != nil && !exception.IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}
	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.newBackOff()),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(func(err error, wait time.Duration) {
			notify(attempt, err, wait)
		}))
	}
	_, err := backoff.Retry(ctx, operation, opts...)
	return err
}
