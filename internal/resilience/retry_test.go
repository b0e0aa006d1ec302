package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2,
	}
}

func TestDoValRetriesTransient(t *testing.T) {
	t.Parallel()

	calls := 0
	val, err := DoVal(context.Background(), fastRetry(3), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", NewRegionError("us", ClassTransient, errors.New("503"))
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", val)
	assert.Equal(t, 3, calls)
}

func TestDoValStopsOnTerminalError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		class Class
	}{
		{"auth", ClassAuth},
		{"region unsupported", ClassRegionUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			calls := 0
			_, err := DoVal(context.Background(), fastRetry(5), func(ctx context.Context) (int, error) {
				calls++
				return 0, NewRegionError("eu", tt.class, errors.New("nope"))
			})

			require.Error(t, err)
			assert.Equal(t, 1, calls, "terminal failures must not be retried")
			assert.Equal(t, tt.class, ClassOf(err))
		})
	}
}

func TestDoValExhaustsAttempts(t *testing.T) {
	t.Parallel()

	calls := 0
	_, err := DoVal(context.Background(), fastRetry(3), func(ctx context.Context) (int, error) {
		calls++
		return 0, NewRegionError("us", ClassQuota, errors.New("quota"))
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, ClassQuota, ClassOf(err))
}

func TestDoValHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := DoVal(ctx, fastRetry(10), func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, NewRegionError("us", ClassTransient, errors.New("503"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "cancellation stops retries immediately")
}

func TestComputeBackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	cfg := RetryConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     300 * time.Millisecond,
		Multiplier:     2,
	}

	assert.Equal(t, 100*time.Millisecond, computeBackoff(0, cfg))
	assert.Equal(t, 200*time.Millisecond, computeBackoff(1, cfg))
	assert.Equal(t, 300*time.Millisecond, computeBackoff(2, cfg), "capped at MaxBackoff")
	assert.Equal(t, 300*time.Millisecond, computeBackoff(5, cfg))
}
