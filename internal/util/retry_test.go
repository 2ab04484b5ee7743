package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetry_SuccessOnFirstAttempt(t *testing.T) {
	attempts := 0

	result := Retry(context.Background(), nil, func() error {
		attempts++
		return nil
	})

	if result.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", result.Attempts)
	}
	if attempts != 1 {
		t.Errorf("expected function to be called once, got %d", attempts)
	}
	if result.LastError != nil {
		t.Errorf("expected no error, got %v", result.LastError)
	}
}

func TestRetry_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	failUntil := 3

	config := &RetryConfig{
		MaxRetries: 5,
		BaseDelay:  1 * time.Millisecond,
		MaxDelay:   10 * time.Millisecond,
		Multiplier: 2.0,
	}

	result := Retry(context.Background(), config, func() error {
		attempts++
		if attempts < failUntil {
			return errors.New("temporary error")
		}
		return nil
	})

	if result.Attempts != failUntil {
		t.Errorf("expected %d attempts, got %d", failUntil, result.Attempts)
	}
	if result.LastError != nil {
		t.Errorf("expected no error, got %v", result.LastError)
	}
}

func TestRetry_MaxRetriesExceeded(t *testing.T) {
	attempts := 0
	testErr := errors.New("persistent error")

	config := &RetryConfig{
		MaxRetries: 3,
		BaseDelay:  1 * time.Millisecond,
	}

	result := Retry(context.Background(), config, func() error {
		attempts++
		return testErr
	})

	// MaxRetries=3 means 1 initial + 3 retries = 4 total attempts
	if result.Attempts != 4 {
		t.Errorf("expected 4 attempts, got %d", result.Attempts)
	}

	if !errors.Is(result.LastError, ErrMaxRetriesExceeded) {
		t.Error("expected ErrMaxRetriesExceeded in error chain")
	}
	if !errors.Is(result.LastError, testErr) {
		t.Error("expected original error in error chain")
	}
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	config := &RetryConfig{
		MaxRetries: -1,
		BaseDelay:  100 * time.Millisecond,
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	result := Retry(ctx, config, func() error {
		return errors.New("error")
	})

	if !errors.Is(result.LastError, ErrContextCanceled) {
		t.Error("expected ErrContextCanceled in error chain")
	}
}

func TestRetry_NonRetryableError(t *testing.T) {
	attempts := 0
	testErr := MarkNonRetryable(errors.New("non-retryable"))

	config := &RetryConfig{
		MaxRetries: 5,
		BaseDelay:  1 * time.Millisecond,
		RetryIf:    DefaultRetryIf(),
	}

	result := Retry(context.Background(), config, func() error {
		attempts++
		return testErr
	})

	if attempts != 1 {
		t.Errorf("expected 1 attempt for non-retryable error, got %d", attempts)
	}
	if !errors.Is(result.LastError, testErr) {
		t.Error("expected original error in result")
	}
}

func TestRetry_RetryIfFunction(t *testing.T) {
	config := &RetryConfig{
		MaxRetries: 5,
		BaseDelay:  1 * time.Millisecond,
		RetryIf: func(err error) bool {
			return err.Error() == "retryable"
		},
	}

	attempts := 0
	Retry(context.Background(), config, func() error {
		attempts++
		if attempts >= 3 {
			return nil
		}
		return errors.New("retryable")
	})
	if attempts != 3 {
		t.Errorf("expected 3 attempts for retryable error, got %d", attempts)
	}

	attempts = 0
	Retry(context.Background(), config, func() error {
		attempts++
		return errors.New("fatal")
	})
	if attempts != 1 {
		t.Errorf("expected 1 attempt for non-retryable error, got %d", attempts)
	}
}

func TestCalculateDelay(t *testing.T) {
	config := &RetryConfig{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
		Jitter:     0, // No jitter for predictable testing
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
	}

	for _, tt := range tests {
		delay := calculateDelay(config, tt.attempt)
		if delay != tt.expected {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.expected, delay)
		}
	}
}

func TestCalculateDelay_MaxDelay(t *testing.T) {
	config := &RetryConfig{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   500 * time.Millisecond,
		Multiplier: 2.0,
		Jitter:     0,
	}

	// Attempt 4 would be 800ms without the cap
	delay := calculateDelay(config, 4)
	if delay != 500*time.Millisecond {
		t.Errorf("expected max delay of 500ms, got %v", delay)
	}
}

func TestCalculateDelay_WithJitter(t *testing.T) {
	config := &RetryConfig{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.5,
	}

	// With 50% jitter the first delay lands between 50ms and 150ms
	for i := 0; i < 100; i++ {
		delay := calculateDelay(config, 1)
		if delay < 50*time.Millisecond || delay > 150*time.Millisecond {
			t.Errorf("delay %v is outside expected jitter range", delay)
		}
	}
}

func TestRetryableMarkers(t *testing.T) {
	err := errors.New("test error")

	retryable := MarkRetryable(err)
	if !IsRetryable(retryable) {
		t.Error("expected error to be retryable")
	}
	if !errors.Is(retryable, err) {
		t.Error("expected original error in chain")
	}

	nonRetryable := MarkNonRetryable(err)
	if !IsNonRetryable(nonRetryable) {
		t.Error("expected error to be non-retryable")
	}
	if !errors.Is(nonRetryable, err) {
		t.Error("expected original error in chain")
	}

	if MarkRetryable(nil) != nil || MarkNonRetryable(nil) != nil {
		t.Error("marking nil should return nil")
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxRetries != 3 {
		t.Errorf("expected MaxRetries=3, got %d", config.MaxRetries)
	}
	if config.BaseDelay != 100*time.Millisecond {
		t.Errorf("expected BaseDelay=100ms, got %v", config.BaseDelay)
	}
	if config.MaxDelay != 30*time.Second {
		t.Errorf("expected MaxDelay=30s, got %v", config.MaxDelay)
	}
	if config.Multiplier != 2.0 {
		t.Errorf("expected Multiplier=2.0, got %f", config.Multiplier)
	}
}
