package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"
)

// Forever can be used as MaxRetries to retry until the context is done.
const Forever = -1

// Config defines the configuration for backoff-retry mechanism
type Config struct {
	// MaxRetries is the maximum number of retries. Negative means no limit.
	MaxRetries int
	// InitialInterval is the first retry interval
	InitialInterval time.Duration
	// MaxInterval caps the retry interval
	MaxInterval time.Duration
	// Multiplier is the factor by which the retry interval increases
	Multiplier float64
	// RandomizationFactor is the randomization factor (0.0-1.0)
	RandomizationFactor float64
}

// DefaultConfig returns the default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxRetries:          5,
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		Multiplier:          1.5,
		RandomizationFactor: 0.5,
	}
}

func (c *Config) unlimited() bool {
	return c.MaxRetries < 0
}

// nextBackoff calculates the next backoff interval
func (c *Config) nextBackoff(retry int) time.Duration {
	if !c.unlimited() && retry >= c.MaxRetries {
		return 0
	}

	backoff := float64(c.InitialInterval) * math.Pow(c.Multiplier, float64(retry))
	if backoff > float64(c.MaxInterval) {
		backoff = float64(c.MaxInterval)
	}

	delta := c.RandomizationFactor * backoff
	minn := backoff - delta
	maxx := backoff + delta
	backoff = minn + (rand.Float64() * (maxx - minn)) //nolint:gosec

	return time.Duration(backoff)
}

// RetryableFunc represents a function that can be retried
type RetryableFunc func() error

// IsRetryable is a function that determines if an error should be retried
type IsRetryable func(error) bool

// Always treats every error as retryable.
func Always(error) bool { return true }

// Callbacks are invoked by DoWithCallbacks for metrics/logging
type Callbacks struct {
	OnRetryAttempt func(attempt int, err error, nextBackoff time.Duration)
	OnRetrySuccess func(attempt int)
	OnRetryFailure func(attempt int, err error)
}

// Do executes the given function with retries based on the provided config
func Do(ctx context.Context, fn RetryableFunc, isRetryable IsRetryable, cfg Config) error {
	return DoWithCallbacks(ctx, fn, isRetryable, cfg, Callbacks{})
}

// DoWithCallbacks executes the given function with retries and callbacks
func DoWithCallbacks(ctx context.Context, fn RetryableFunc, isRetryable IsRetryable, cfg Config, callbacks Callbacks) error {
	var lastErr error

	for attempt := 0; cfg.unlimited() || attempt <= cfg.MaxRetries; attempt++ {
		isRetry := attempt > 0

		err := fn()
		if err == nil {
			if isRetry && callbacks.OnRetrySuccess != nil {
				callbacks.OnRetrySuccess(attempt)
			}
			return nil
		}

		lastErr = err

		if !isRetryable(err) {
			return fmt.Errorf("non-retryable error: %w", err)
		}

		if !cfg.unlimited() && attempt == cfg.MaxRetries {
			if callbacks.OnRetryFailure != nil {
				callbacks.OnRetryFailure(attempt, err)
			}
			break
		}

		backoffTime := cfg.nextBackoff(attempt)

		if callbacks.OnRetryAttempt != nil {
			callbacks.OnRetryAttempt(attempt+1, err, backoffTime)
		}

		timer := time.NewTimer(backoffTime)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("operation failed after %d retries: %w", cfg.MaxRetries, lastErr)
}

// IsNetworkError checks if the error is likely a transient network or server error
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var netErr interface {
		Timeout() bool
	}
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := err.Error()
	for _, s := range []string{
		"connection refused",
		"connection reset",
		"no such host",
		"no route to host",
		"i/o timeout",
		"unexpected EOF",
		"bad handshake",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}

	for _, statusCode := range []string{"500", "502", "503", "504"} {
		if strings.Contains(msg, "status "+statusCode) {
			return true
		}
	}

	return false
}
