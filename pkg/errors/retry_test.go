package errors

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig(attempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	result := Retry(context.Background(), fastRetryConfig(5), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return stderrors.New("transient")
		}
		return nil
	})

	assert.NoError(t, result.LastError)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	failure := stderrors.New("still broken")
	result := Retry(context.Background(), fastRetryConfig(3), func(ctx context.Context) error {
		return failure
	})

	assert.ErrorIs(t, result.LastError, failure)
	assert.Equal(t, 3, result.Attempts)
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	cfg := fastRetryConfig(5)
	cfg.ShouldRetry = IsRetryableError

	calls := 0
	result := Retry(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return NewNotFoundError("fs")
	})

	assert.Equal(t, 1, calls, "client errors must not be retried")
	assert.Equal(t, 1, result.Attempts)
	assert.Error(t, result.LastError)
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := Retry(ctx, fastRetryConfig(3), func(ctx context.Context) error {
		t.Fatal("function must not run after cancellation")
		return nil
	})

	assert.ErrorIs(t, result.LastError, context.Canceled)
	assert.Equal(t, 0, result.Attempts)
}

func TestRetryNilConfigUsesDefaults(t *testing.T) {
	result := Retry(context.Background(), nil, func(ctx context.Context) error {
		return nil
	})
	require.NotNil(t, result)
	assert.Equal(t, 1, result.Attempts)
}

func TestCalculateDelayCapsAndGrows(t *testing.T) {
	cfg := &RetryConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}

	assert.Equal(t, 100*time.Millisecond, cfg.calculateDelay(1))
	assert.Equal(t, 200*time.Millisecond, cfg.calculateDelay(2))
	assert.Equal(t, time.Second, cfg.calculateDelay(10), "delay should cap at MaxDelay")
}

func TestCalculateDelayJitterStaysPositive(t *testing.T) {
	cfg := &RetryConfig{
		InitialDelay:  10 * time.Millisecond,
		MaxDelay:      time.Second,
		Multiplier:    2.0,
		JitterPercent: 0.5,
	}
	for i := 1; i <= 8; i++ {
		assert.Positive(t, cfg.calculateDelay(i))
	}
}
