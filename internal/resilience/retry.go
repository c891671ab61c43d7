package resilience

import (
	"context"
	"errors"
	"strings"
	"time"
)

// RetryConfig describes how many times an operation runs and how long to
// wait between runs.
type RetryConfig struct {
	MaxAttempts int             // Total attempts including the first
	Backoffs    []time.Duration // Wait before attempt 2, 3, ...; the last entry repeats
}

// DefaultRetryConfig returns the synthesis retry schedule: 3 attempts, 1s then 3s.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: 3,
		Backoffs:    []time.Duration{1 * time.Second, 3 * time.Second},
	}
}

// BackoffFor returns the wait before the given attempt (1-based).
// Attempt 1 never waits.
func (c *RetryConfig) BackoffFor(attempt int) time.Duration {
	if attempt <= 1 || len(c.Backoffs) == 0 {
		return 0
	}
	idx := attempt - 2
	if idx >= len(c.Backoffs) {
		idx = len(c.Backoffs) - 1
	}
	return c.Backoffs[idx]
}

// AttemptFunc runs one attempt. attempt is 1-based.
type AttemptFunc func(ctx context.Context, attempt int) error

// IsRetryableError checks if an error is retryable
type IsRetryableError func(error) bool

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Retry runs fn until it succeeds, returns a non-retryable error, the
// attempt budget is spent, or ctx is cancelled. It returns the number of
// attempts made and the last error.
func Retry(ctx context.Context, fn AttemptFunc, config *RetryConfig, isRetryable IsRetryableError) (int, error) {
	return RetryWithSleeper(ctx, fn, config, isRetryable, SleepContext)
}

// RetryWithSleeper is Retry with an injectable wait, used by tests.
func RetryWithSleeper(ctx context.Context, fn AttemptFunc, config *RetryConfig, isRetryable IsRetryableError, sleep Sleeper) (int, error) {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if isRetryable == nil {
		isRetryable = IsRetryable
	}

	var lastErr error
	attempts := 0

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if wait := config.BackoffFor(attempt); wait > 0 {
			if err := sleep(ctx, wait); err != nil {
				return attempts, err
			}
		}

		attempts = attempt
		err := fn(ctx, attempt)
		if err == nil {
			return attempts, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return attempts, err
		}
	}

	return attempts, lastErr
}

// SleepContext waits for d or until ctx is cancelled.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsRetryableNetworkError checks if an error is a retryable network error
func IsRetryableNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return containsAny(err.Error(), []string{
		// Connection errors
		"connection refused",
		"connection reset",
		"connection closed",
		"network is unreachable",
		"no route to host",
		"no such host",
		"EOF",
		// Timeout errors
		"deadline exceeded",
		"timeout",
		// Server pushback
		"too many requests",
		"rate limit",
	})
}

func containsAny(s string, substrings []string) bool {
	for _, substr := range substrings {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

// RetryableError wraps an error to indicate it's retryable
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable checks if an error is a RetryableError
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}
