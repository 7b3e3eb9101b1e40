// Package retry provides retry utilities with exponential backoff for transient failures.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

var (
	// ErrMaxAttemptsExceeded is returned when max retry attempts are exceeded
	ErrMaxAttemptsExceeded = errors.New("max retry attempts exceeded")
	// ErrContextCancelled is returned when the context is cancelled during retry
	ErrContextCancelled = errors.New("context cancelled during retry")
)

// jitterFraction perturbs each backoff delay by up to this fraction in either
// direction so independent callers do not retry in lockstep.
const jitterFraction = 0.25

// transientPatterns are error signatures considered retryable by default
var transientPatterns = []string{
	"connection reset",
	"connection refused",
	"timeout",
	"i/o timeout",
	"deadline exceeded",
	"no such host",
	"temporary failure",
	"network is unreachable",
	"rate limit",
	"too many requests",
	"service unavailable",
}

// Config configures retry behavior
type Config struct {
	// MaxAttempts is the maximum number of attempts (including the initial one)
	MaxAttempts int
	// BaseDelay is the delay before the first retry
	BaseDelay time.Duration
	// MaxDelay caps the exponential backoff
	MaxDelay time.Duration
	// Multiplier is the exponential backoff multiplier (default: 2.0)
	Multiplier float64
	// RetryableCodes is an additional allow-list of error codes matched
	// against the error text, on top of the transient signatures
	RetryableCodes []string
	// IsRetryable overrides the default transient-signature check entirely
	IsRetryable func(error) bool
	// OnRetry, if set, fires before each backoff sleep with the failed
	// attempt number and its error
	OnRetry func(attempt int, err error)
}

// DefaultConfig returns a default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
}

// IsTransient reports whether err matches a transient error signature or one
// of the given error codes. Anything else is treated as permanent and
// propagates on first failure.
func IsTransient(err error, codes []string) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	for _, code := range codes {
		if code != "" && strings.Contains(errStr, strings.ToLower(code)) {
			return true
		}
	}
	return false
}

// Do executes fn with retry logic and jittered exponential backoff.
// Non-retryable errors propagate immediately; exhausting all attempts
// returns the last error wrapped with ErrMaxAttemptsExceeded.
func Do(ctx context.Context, config Config, fn func() error) error {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	retryable := config.IsRetryable
	if retryable == nil {
		retryable = func(err error) bool {
			return IsTransient(err, config.RetryableCodes)
		}
	}

	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) {
			return err
		}

		if attempt < config.MaxAttempts {
			if config.OnRetry != nil {
				config.OnRetry(attempt, err)
			}

			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
			case <-time.After(backoffDelay(config, attempt)):
			}
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrMaxAttemptsExceeded, config.MaxAttempts, lastErr)
}

// DoWithDefaults executes fn with the default retry configuration
func DoWithDefaults(ctx context.Context, fn func() error) error {
	return Do(ctx, DefaultConfig(), fn)
}

// backoffDelay computes min(base * multiplier^(attempt-1), max) with
// +/- jitterFraction jitter applied.
func backoffDelay(config Config, attempt int) time.Duration {
	delay := time.Duration(float64(config.BaseDelay) * math.Pow(config.Multiplier, float64(attempt-1)))
	if delay > config.MaxDelay {
		delay = config.MaxDelay
	}

	jitter := 1 + jitterFraction*(2*rand.Float64()-1) //nolint:gosec // G404: jitter needs no crypto randomness
	return time.Duration(float64(delay) * jitter)
}
