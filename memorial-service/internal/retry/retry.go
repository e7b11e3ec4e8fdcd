// Package retry runs remote calls with bounded attempts and a per-attempt timeout.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"memorial-server/shared/models"

	"github.com/cenkalti/backoff/v5"
)

// DefaultTimeout bounds a single attempt when Policy.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Policy describes how often and how patiently an operation is retried.
type Policy struct {
	Attempts    int           // total attempts, minimum 1
	Delay       time.Duration // wait between attempts (initial interval when Exponential)
	Exponential bool
	Timeout     time.Duration // per attempt; 0 means DefaultTimeout, <0 disables
	// OnRetry is called before every wait with the failed attempt number.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsPermanent reports whether err can never succeed on a retry: validation,
// authorization and not-found failures, or anything wrapped with Permanent.
func IsPermanent(err error) bool {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return true
	}
	return errors.Is(err, models.ErrValidation) ||
		errors.Is(err, models.ErrUnauthorized) ||
		errors.Is(err, models.ErrForbidden) ||
		errors.Is(err, models.ErrNotFound) ||
		errors.Is(err, context.Canceled)
}

// Do runs op until it succeeds, fails permanently or runs out of attempts.
// A per-attempt deadline overrun is reported as models.ErrTimeout.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	timeout := p.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	attempt := 0
	res, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		res, err := runAttempt(ctx, timeout, op)
		if err != nil && IsPermanent(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	},
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			if p.OnRetry != nil {
				p.OnRetry(attempt, err, wait)
			}
		}),
	)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}
		return res, err
	}
	return res, nil
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	if timeout < 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := op(attemptCtx)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return res, fmt.Errorf("%w after %s: %v", models.ErrTimeout, timeout, err)
	}
	return res, err
}

func (p Policy) backOff() backoff.BackOff {
	if p.Delay <= 0 {
		return &backoff.ZeroBackOff{}
	}
	if !p.Exponential {
		return backoff.NewConstantBackOff(p.Delay)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Delay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = 8 * p.Delay
	return b
}
