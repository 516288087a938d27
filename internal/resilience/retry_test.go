package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/truelens/capture/internal/errors"
)

func TestRetrySucceedsFirst(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), DefaultRetryConfig(), func() error {
		calls++
		return nil
	})

	if err != nil {
		t.Errorf("Retry() = %v, want nil", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return apperrors.New(apperrors.CodeUnavailable, "transient")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Retry() = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryExhaustsRetries(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
	calls := 0
	retryErr := apperrors.New(apperrors.CodeUnavailable, "always fail")

	err := Retry(context.Background(), cfg, func() error {
		calls++
		return retryErr
	})

	if !errors.Is(err, retryErr) {
		t.Errorf("Retry() = %v, want %v", err, retryErr)
	}
	if calls != 3 { // initial + 2 retries
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryFixedDelay(t *testing.T) {
	cfg := FixedRetryConfig(3, time.Millisecond)
	calls := 0
	retryErr := apperrors.New(apperrors.CodeUnavailable, "always fail")

	err := Retry(context.Background(), cfg, func() error {
		calls++
		return retryErr
	})

	if !errors.Is(err, retryErr) {
		t.Errorf("Retry() = %v, want %v", err, retryErr)
	}
	if calls != 4 { // initial + 3 retries
		t.Errorf("calls = %d, want 4", calls)
	}
}

func TestRetryDelayFixed(t *testing.T) {
	cfg := FixedRetryConfig(3, 250*time.Millisecond).withDefaults()
	for attempt := 0; attempt < 5; attempt++ {
		if d := retryDelay(cfg, attempt); d != 250*time.Millisecond {
			t.Errorf("retryDelay(attempt=%d) = %v, want 250ms", attempt, d)
		}
	}
}

func TestRetryDelayExponentialGrows(t *testing.T) {
	cfg := RetryConfig{BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second, JitterFactor: 0.0001}.withDefaults()
	d0 := retryDelay(cfg, 0)
	d3 := retryDelay(cfg, 3)
	if d3 <= d0 {
		t.Errorf("retryDelay(3) = %v, want > retryDelay(0) = %v", d3, d0)
	}
	if d := retryDelay(cfg, 20); d > cfg.MaxDelay+cfg.MaxDelay/4 {
		t.Errorf("retryDelay(20) = %v, want capped near %v", d, cfg.MaxDelay)
	}
}

func TestRetryNonRetryableError(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 5, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
	calls := 0
	nonRetryErr := apperrors.New(apperrors.CodeInvalidOption, "bad request")

	err := Retry(context.Background(), cfg, func() error {
		calls++
		return nonRetryErr
	})

	if !errors.Is(err, nonRetryErr) {
		t.Errorf("Retry() = %v, want %v", err, nonRetryErr)
	}
	if calls != 1 { // Should not retry non-retryable errors
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxRetries: 10, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := Retry(ctx, cfg, func() error {
		return apperrors.New(apperrors.CodeUnavailable, "fail")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Retry() = %v, want context.Canceled", err)
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unavailable", apperrors.New(apperrors.CodeUnavailable, "down"), true},
		{"timeout", apperrors.New(apperrors.CodeTimeout, "slow"), true},
		{"not found", apperrors.New(apperrors.CodeNotFound, "missing"), false},
		{"invalid option", apperrors.New(apperrors.CodeInvalidOption, "bad"), false},
		{"wrapped unavailable", apperrors.Wrap(errors.New("tcp reset"), apperrors.CodeUnavailable, "call failed"), true},
		{"plain error", errors.New("connection refused"), true},
		{"context canceled", context.Canceled, false},
		{"context deadline", context.DeadlineExceeded, false},
	}

	for _, tt := range tests {
		if got := IsRetryableError(tt.err); got != tt.want {
			t.Errorf("IsRetryableError(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
