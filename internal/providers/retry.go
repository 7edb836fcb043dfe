package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"
)

// HTTPError is a non-2xx response from the provider API.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration // from Retry-After header, 0 if absent
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// Kind classifies an HTTPError into the provider error taxonomy.
func (e *HTTPError) Kind() string {
	switch {
	case e.Status == 401 || e.Status == 403:
		return "authentication"
	case e.Status == 404:
		return "model_not_found"
	case e.Status == 413:
		return "context_length"
	case e.Status == 429:
		return "rate_limit"
	case e.Status == 422:
		return "content_policy"
	case e.Status >= 500:
		return "provider"
	default:
		return "provider"
	}
}

// ErrTimeout marks a request that exceeded its deadline.
var ErrTimeout = errors.New("provider request timed out")

// RetryConfig controls retry behavior for provider calls.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig returns the standard retry policy: 3 attempts,
// exponential backoff from 1s capped at 30s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// ParseRetryAfter parses a Retry-After header value (delta-seconds form).
func ParseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// retryable reports whether an error is worth retrying: 429 and 5xx
// HTTP errors retry, timeouts retry, other HTTP errors fail immediately.
func retryable(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status == 429 || httpErr.Status >= 500
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// RetryDo runs fn with the configured retry policy. 429 honors the
// Retry-After header when present; other retryable errors back off
// exponentially.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !retryable(err) || attempt == attempts {
			return zero, err
		}

		delay := cfg.BaseDelay * time.Duration(1<<(attempt-1))
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
			delay = httpErr.RetryAfter
		}

		slog.Warn("provider.retry", "attempt", attempt, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}

	return zero, lastErr
}
