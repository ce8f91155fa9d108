// Package retry implements the Retry Decorator from spec.md §4.A: a
// configurable exponential backoff wrapper around an arbitrary operation,
// generalizing the teacher's infrastructure/resilience.Retry with a
// Retryable predicate so non-retryable errors propagate immediately
// instead of burning attempts.
package retry

import (
	"context"
	"math/rand"
	"time"

	coreerrors "github.com/dbcore/agentcore/internal/errors"
)

// Config controls backoff shape. Retryable defaults to "always retry" when
// nil, matching the teacher's unconditional retry behavior.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Factor      float64
	Jitter      float64 // 0-1, fraction of delay randomized on either side
	Retryable   func(error) bool
}

// DefaultConfig mirrors the teacher's DefaultRetryConfig.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Factor:      2.0,
		Jitter:      0.1,
	}
}

// Do runs fn, retrying on retryable failures per cfg. The context is
// consulted both for the delay sleep and as an immediate CANCELLED
// shortcut. On exhaustion, the last error is wrapped with
// KindAttemptsExhausted so callers can distinguish "gave up" from "the
// last attempt's specific error".
func Do(ctx context.Context, cfg Config, fn func(context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	retryable := cfg.Retryable
	if retryable == nil {
		retryable = func(error) bool { return true }
	}

	delay := cfg.BaseDelay
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return coreerrors.Wrap(coreerrors.KindCancelled, "retry", "Do", err)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) {
			return err
		}

		if attempt == cfg.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return coreerrors.Wrap(coreerrors.KindCancelled, "retry", "Do", ctx.Err())
		case <-time.After(addJitter(delay, cfg.Jitter)):
		}
		delay = nextDelay(delay, cfg)
	}

	return coreerrors.Wrap(coreerrors.KindAttemptsExhausted, "retry", "Do", lastErr).
		WithResource("")
}

func nextDelay(current time.Duration, cfg Config) time.Duration {
	factor := cfg.Factor
	if factor <= 0 {
		factor = 1
	}
	next := time.Duration(float64(current) * factor)
	if cfg.MaxDelay > 0 && next > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return next
}

func addJitter(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return d
	}
	delta := float64(d) * jitter
	return d + time.Duration(rand.Float64()*delta*2-delta)
}
