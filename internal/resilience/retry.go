// Package resilience provides fault tolerance patterns
package resilience

import (
	"context"
	stderrors "errors"
	"log/slog"
	"math/rand"
	"time"

	apperrors "github.com/truelens/capture/internal/errors"
)

// Retry configuration constants
const (
	DefaultMaxRetries   = 3
	DefaultBaseDelay    = 500 * time.Millisecond
	DefaultMaxDelay     = 10 * time.Second
	DefaultJitterFactor = 0.2 // 20% jitter
)

// RetryConfig holds retry settings.
type RetryConfig struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
	Fixed        bool // constant delay between attempts, no growth, no jitter
	IsRetryable  func(error) bool
}

// DefaultRetryConfig returns standard exponential backoff settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   DefaultMaxRetries,
		BaseDelay:    DefaultBaseDelay,
		MaxDelay:     DefaultMaxDelay,
		JitterFactor: DefaultJitterFactor,
		IsRetryable:  IsRetryableError,
	}
}

// FixedRetryConfig returns fixed-delay settings. Session saves use this:
// each retry waits the same delay rather than backing off.
func FixedRetryConfig(retries int, delay time.Duration) RetryConfig {
	return RetryConfig{
		MaxRetries:  retries,
		BaseDelay:   delay,
		MaxDelay:    delay,
		Fixed:       true,
		IsRetryable: IsRetryableError,
	}
}

// IsRetryableError checks if an error is worth retrying. Classified errors
// retry only on unavailable/timeout codes; unclassified transport errors
// retry, cancelled contexts never do.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var appErr *apperrors.AppError
	if stderrors.As(err, &appErr) {
		return apperrors.IsRetryable(err)
	}
	return true
}

// Retry executes fn with backoff. Returns last error if all retries fail.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	cfg = cfg.withDefaults()
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if lastErr = fn(); lastErr == nil {
			return nil
		}

		if !cfg.IsRetryable(lastErr) || attempt == cfg.MaxRetries {
			return lastErr
		}

		delay := retryDelay(cfg, attempt)
		slog.Debug("retrying after error", "attempt", attempt+1, "max", cfg.MaxRetries, "delay", delay, "error", lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// retryDelay calculates the wait before the next attempt.
func retryDelay(cfg RetryConfig, attempt int) time.Duration {
	if cfg.Fixed {
		return cfg.BaseDelay
	}
	delay := cfg.BaseDelay << min(attempt, 6) // Cap shift to prevent overflow
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	// Add jitter: delay * (1 ± jitterFactor/2)
	jitter := float64(delay) * cfg.JitterFactor * (rand.Float64() - 0.5)
	return time.Duration(float64(delay) + jitter)
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if !c.Fixed && c.JitterFactor <= 0 {
		c.JitterFactor = DefaultJitterFactor
	}
	if c.IsRetryable == nil {
		c.IsRetryable = IsRetryableError
	}
	return c
}
