package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"memorial-server/shared/models"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("503 from upstream")

func TestDo(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds on the third attempt", func(t *testing.T) {
		calls := 0
		var retried []int
		p := Policy{Attempts: 3, Delay: time.Millisecond, OnRetry: func(attempt int, _ error, _ time.Duration) {
			retried = append(retried, attempt)
		}}
		got, err := Do(ctx, p, func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", errFlaky
			}
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", got)
		assert.Equal(t, 3, calls)
		assert.Equal(t, []int{1, 2}, retried)
	})

	t.Run("gives up after the attempt bound", func(t *testing.T) {
		calls := 0
		err := Run(ctx, Policy{Attempts: 2, Delay: time.Millisecond}, func(context.Context) error {
			calls++
			return errFlaky
		})
		assert.ErrorIs(t, err, errFlaky)
		assert.Equal(t, 2, calls)
	})

	t.Run("permanent errors stop immediately", func(t *testing.T) {
		for _, perm := range []error{
			Permanent(errors.New("400 bad request")),
			models.NewValidationError("file", "too large"),
			models.ErrForbidden,
		} {
			calls := 0
			err := Run(ctx, Policy{Attempts: 5}, func(context.Context) error {
				calls++
				return perm
			})
			require.Error(t, err)
			assert.Equal(t, 1, calls)
			var wrapped *backoff.PermanentError
			assert.False(t, errors.As(err, &wrapped), "permanent wrapper must be stripped")
		}
	})

	t.Run("attempt deadline maps to ErrTimeout", func(t *testing.T) {
		calls := 0
		err := Run(ctx, Policy{Attempts: 2, Timeout: 10 * time.Millisecond}, func(ctx context.Context) error {
			calls++
			<-ctx.Done()
			return ctx.Err()
		})
		assert.ErrorIs(t, err, models.ErrTimeout)
		assert.Equal(t, 2, calls)
	})

	t.Run("caller cancellation is not retried", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		calls := 0
		err := Run(cctx, Policy{Attempts: 3, Delay: time.Millisecond}, func(ctx context.Context) error {
			calls++
			return ctx.Err()
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})

	t.Run("zero attempts still runs once", func(t *testing.T) {
		calls := 0
		_ = Run(ctx, Policy{}, func(context.Context) error { calls++; return errFlaky })
		assert.Equal(t, 1, calls)
	})
}

func TestExponentialBackOffDoubles(t *testing.T) {
	b := Policy{Delay: 10 * time.Millisecond, Exponential: true}.backOff()
	b.Reset()
	assert.Equal(t, 10*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 20*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 40*time.Millisecond, b.NextBackOff())
}
