package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// Default retry parameters.
const (
	defaultMaxRetries   = 3
	defaultInitialDelay = 200 * time.Millisecond
	defaultMaxDelay     = 5 * time.Second
)

// Permanent wraps err to tell [Retry] that further attempts are pointless
// (e.g., invalid input, authentication failure). Retry returns the wrapped
// error immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// RetryConfig holds tuning knobs for [Retry].
type RetryConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxRetries is the number of attempts after the first. Default: 3.
	MaxRetries int

	// InitialDelay is the wait before the first retry. Each subsequent delay
	// doubles. Default: 200ms.
	InitialDelay time.Duration

	// MaxDelay caps the per-attempt delay after doubling. Default: 5s.
	MaxDelay time.Duration
}

// Retry runs fn up to 1+MaxRetries times, doubling the delay between attempts
// and applying ±20% jitter so that concurrent callers do not retry in
// lockstep. It returns nil on the first success, the wrapped error
// immediately when fn returns a [Permanent] error, and the last error once
// the attempt budget is exhausted. Waiting is aborted when ctx is cancelled.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = defaultInitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}

	delay := cfg.InitialDelay
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry %s: %w", cfg.Name, ctx.Err())
			case <-time.After(jitter(delay)):
			}
			delay *= 2
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}

		slog.Warn("operation failed, will retry",
			"name", cfg.Name,
			"attempt", attempt+1,
			"max_attempts", cfg.MaxRetries+1,
			"error", lastErr)
	}

	return fmt.Errorf("retry %s: %d attempts exhausted: %w", cfg.Name, cfg.MaxRetries+1, lastErr)
}

// jitter scales d by a random factor in [0.8, 1.2].
func jitter(d time.Duration) time.Duration {
	return time.Duration(float64(d) * (0.8 + 0.4*rand.Float64()))
}
