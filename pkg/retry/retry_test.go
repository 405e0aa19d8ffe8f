package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDoTemporaryBackoffBounds checks invariant 8 (spec.md §8): for n
// temporary errors followed by success, attempts == n+1 and total elapsed
// is bounded by the base*2^(k-1) sum with jitter disabled.
func TestDoTemporaryBackoffBounds(t *testing.T) {
	const n = 4
	base := 2 * time.Millisecond
	calls := 0

	result := Do(context.Background(), Policy{MaxAttempts: n + 1, BaseDelay: base, Jitter: false}, func(ctx context.Context) (int, error) {
		calls++
		if calls <= n {
			return 0, &TemporaryError{Cause: assert.AnError}
		}
		return 42, nil
	})

	require.True(t, result.Success)
	assert.Equal(t, 42, result.Value)
	assert.Equal(t, n+1, result.Attempts)

	var expected time.Duration
	for k := 1; k <= n; k++ {
		expected += base << (k - 1)
	}
	assert.Equal(t, expected, result.TotalDelay)
}

func TestDoPermanentFailsImmediately(t *testing.T) {
	calls := 0
	result := Do(context.Background(), Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}, func(ctx context.Context) (int, error) {
		calls++
		return 0, &PermissionDeniedError{What: "dialog"}
	})
	assert.False(t, result.Success)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, result.Attempts)
}

func TestDoRateLimitDoesNotCountAgainstMaxAttempts(t *testing.T) {
	calls := 0
	result := Do(context.Background(), Policy{MaxAttempts: 2, BaseDelay: time.Millisecond}, func(ctx context.Context) (int, error) {
		calls++
		if calls <= 3 {
			return 0, &RateLimitError{Seconds: 0}
		}
		return 7, nil
	})
	require.True(t, result.Success)
	assert.Equal(t, 7, result.Value)
	assert.Equal(t, 4, calls)
}

func TestDoContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := Do(ctx, Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}, func(ctx context.Context) (int, error) {
		return 0, &TemporaryError{Cause: assert.AnError}
	})
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Err, context.Canceled)
}
