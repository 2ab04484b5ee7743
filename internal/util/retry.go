// Package util holds small helpers shared across the daemon and the CLI:
// retry with exponential backoff and panic-safe goroutine launch.
package util

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryConfig controls retry behavior for Retry.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt
	// (0 = no retries, -1 = unlimited).
	MaxRetries int
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration
	// Multiplier grows the delay between attempts (default 2.0).
	Multiplier float64
	// Jitter randomizes delays by the given fraction (0.0 - 1.0).
	Jitter float64
	// RetryIf decides whether an error is worth retrying. Nil retries all.
	RetryIf func(error) bool
}

// DefaultRetryConfig returns sensible defaults
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// RetryResult describes how a retry loop ended.
type RetryResult struct {
	Attempts  int
	LastError error
	Duration  time.Duration
}

var (
	// ErrMaxRetriesExceeded is joined into LastError when attempts run out.
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

	// ErrContextCanceled is joined into LastError when ctx ends mid-backoff.
	ErrContextCanceled = errors.New("context canceled during retry")
)

// Retry runs fn until it succeeds, the retry budget is spent, or ctx is
// cancelled while waiting between attempts.
func Retry(ctx context.Context, config *RetryConfig, fn func() error) *RetryResult {
	if config == nil {
		config = DefaultRetryConfig()
	}

	result := &RetryResult{}
	start := time.Now()

	for {
		result.Attempts++

		err := fn()
		if err == nil {
			result.LastError = nil
			result.Duration = time.Since(start)
			return result
		}
		result.LastError = err

		if config.RetryIf != nil && !config.RetryIf(err) {
			result.Duration = time.Since(start)
			return result
		}

		if config.MaxRetries >= 0 && result.Attempts > config.MaxRetries {
			result.LastError = errors.Join(ErrMaxRetriesExceeded, err)
			result.Duration = time.Since(start)
			return result
		}

		select {
		case <-ctx.Done():
			result.LastError = errors.Join(ErrContextCanceled, ctx.Err())
			result.Duration = time.Since(start)
			return result
		case <-time.After(calculateDelay(config, result.Attempts)):
		}
	}
}

// calculateDelay computes the backoff delay for the given attempt number.
func calculateDelay(config *RetryConfig, attempt int) time.Duration {
	multiplier := config.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	delay := float64(config.BaseDelay) * math.Pow(multiplier, float64(attempt-1))

	if config.Jitter > 0 {
		jitterRange := delay * config.Jitter
		delay = delay - jitterRange + (rand.Float64() * 2 * jitterRange)
	}

	if config.MaxDelay > 0 && time.Duration(delay) > config.MaxDelay {
		delay = float64(config.MaxDelay)
	}

	return time.Duration(delay)
}

// RetryableError marks an error as retryable.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// NonRetryableError marks an error as not worth retrying.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string { return e.Err.Error() }
func (e *NonRetryableError) Unwrap() error { return e.Err }

// MarkRetryable wraps err so IsRetryable reports true.
func MarkRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err was marked retryable.
func IsRetryable(err error) bool {
	var retryable *RetryableError
	return errors.As(err, &retryable)
}

// MarkNonRetryable wraps err so DefaultRetryIf stops retrying it.
func MarkNonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err was marked non-retryable.
func IsNonRetryable(err error) bool {
	var nonRetryable *NonRetryableError
	return errors.As(err, &nonRetryable)
}

// DefaultRetryIf retries every error except ones marked non-retryable.
func DefaultRetryIf() func(error) bool {
	return func(err error) bool {
		return !IsNonRetryable(err)
	}
}
