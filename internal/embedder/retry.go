package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// RetryConfig configures exponential backoff for embedding API calls.
type RetryConfig struct {
	MaxRetries int           // Total attempts, including the first
	BaseDelay  time.Duration // Wait after the first failure
	MaxDelay   time.Duration // Upper bound on any single wait
	Multiplier float64
}

// DefaultRetryConfig returns the backoff used when none is configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: MaxRetries,
		BaseDelay:  time.Duration(InitialBackoffMs) * time.Millisecond,
		MaxDelay:   time.Duration(MaxBackoffMs) * time.Millisecond,
		Multiplier: BackoffMultiplier,
	}
}

// StatusError is a non-200 answer from an embedding API.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s api error %d: %s", e.Provider, e.Code, e.Body)
}

// Temporary reports whether the same request may succeed later: rate limits
// and server-side failures are, malformed requests and unknown models are not.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}

// retryable is the default retry predicate. Transport errors are retried;
// API answers only when they are temporary.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}

// retryWithBackoff calls fn until it succeeds, shouldRetry rejects its
// error, attempts run out, or ctx is done. It returns the number of
// attempts made alongside the result.
func retryWithBackoff[T any](ctx context.Context, config RetryConfig, shouldRetry func(error) bool, fn func() (T, error)) (T, int, error) {
	var zero T
	if config.MaxRetries < 1 {
		config.MaxRetries = 1
	}
	if shouldRetry == nil {
		shouldRetry = retryable
	}
	backoff := config.BaseDelay

	var lastErr error
	for attempt := 1; attempt <= config.MaxRetries; attempt++ {
		result, err := fn()
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, attempt, ctx.Err()
		}
		if !shouldRetry(err) || attempt == config.MaxRetries {
			return zero, attempt, lastErr
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, attempt, ctx.Err()
		case <-timer.C:
		}
		backoff = time.Duration(float64(backoff) * config.Multiplier)
		if backoff > config.MaxDelay {
			backoff = config.MaxDelay
		}
	}
	return zero, config.MaxRetries, lastErr
}
