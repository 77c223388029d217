package errors

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryConfig defines configuration for retry behavior
type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts" json:"max_attempts"`
	InitialDelay  time.Duration `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier    float64       `yaml:"multiplier" json:"multiplier"`
	JitterPercent float64       `yaml:"jitter_percent" json:"jitter_percent"`

	// ShouldRetry decides whether a failure is worth another attempt.
	// Nil means retry everything until attempts run out.
	ShouldRetry func(error) bool `yaml:"-" json:"-"`
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		Multiplier:    2.0,
		JitterPercent: 0.1, // 10% jitter
	}
}

// RetryableFunc is a function that can be retried
type RetryableFunc func(ctx context.Context) error

// RetryResult contains the result of a retry operation
type RetryResult struct {
	Attempts  int
	LastError error
	Duration  time.Duration
}

// Retry executes a function with exponential backoff retry logic
func Retry(ctx context.Context, config *RetryConfig, fn RetryableFunc) *RetryResult {
	if config == nil {
		config = DefaultRetryConfig()
	}

	startTime := time.Now()
	var lastError error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return &RetryResult{
				Attempts:  attempt - 1,
				LastError: ctx.Err(),
				Duration:  time.Since(startTime),
			}
		default:
		}

		err := fn(ctx)
		if err == nil {
			return &RetryResult{
				Attempts:  attempt,
				LastError: nil,
				Duration:  time.Since(startTime),
			}
		}

		lastError = err

		if config.ShouldRetry != nil && !config.ShouldRetry(err) {
			return &RetryResult{
				Attempts:  attempt,
				LastError: err,
				Duration:  time.Since(startTime),
			}
		}

		// Don't sleep after the last attempt
		if attempt == config.MaxAttempts {
			break
		}

		delay := config.calculateDelay(attempt)
		select {
		case <-ctx.Done():
			return &RetryResult{
				Attempts:  attempt,
				LastError: ctx.Err(),
				Duration:  time.Since(startTime),
			}
		case <-time.After(delay):
		}
	}

	return &RetryResult{
		Attempts:  config.MaxAttempts,
		LastError: lastError,
		Duration:  time.Since(startTime),
	}
}

// calculateDelay calculates the delay for the given attempt with exponential backoff and jitter
func (c *RetryConfig) calculateDelay(attempt int) time.Duration {
	// Exponential backoff: delay = initial_delay * multiplier^(attempt-1)
	delay := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt-1))

	// Cap at max delay
	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}

	// Add jitter to prevent thundering herd
	if c.JitterPercent > 0 {
		jitter := delay * c.JitterPercent * (rand.Float64()*2 - 1)
		delay += jitter
	}

	if delay < 0 {
		delay = float64(c.InitialDelay)
	}

	return time.Duration(delay)
}
