package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	coreerrors "github.com/dbcore/agentcore/internal/errors"
	"github.com/dbcore/agentcore/pkg/async/retry"
)

func TestDo_SucceedsOnThirdAttempt(t *testing.T) {
	attempts := 0
	cfg := retry.Config{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Factor:      2.0,
		Jitter:      0.2,
	}

	start := time.Now()
	err := retry.Do(context.Background(), cfg, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Equal(t, 3, attempts)
	require.GreaterOrEqual(t, elapsed, time.Millisecond)
}

func TestDo_NonRetryablePropagatesImmediately(t *testing.T) {
	attempts := 0
	fatal := errors.New("fatal")
	cfg := retry.Config{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		Retryable:   func(err error) bool { return !errors.Is(err, fatal) },
	}

	err := retry.Do(context.Background(), cfg, func(context.Context) error {
		attempts++
		return fatal
	})

	require.ErrorIs(t, err, fatal)
	require.Equal(t, 1, attempts)
}

func TestDo_ExhaustionWrapsLastError(t *testing.T) {
	want := errors.New("still broken")
	cfg := retry.Config{MaxAttempts: 2, BaseDelay: time.Millisecond}

	err := retry.Do(context.Background(), cfg, func(context.Context) error {
		return want
	})

	kind, ok := coreerrors.KindOf(err)
	require.True(t, ok)
	require.Equal(t, coreerrors.KindAttemptsExhausted, kind)
	require.ErrorIs(t, err, want)
}

func TestDo_ContextCancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := retry.Config{MaxAttempts: 3, BaseDelay: 50 * time.Millisecond}

	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	err := retry.Do(ctx, cfg, func(context.Context) error {
		return errors.New("transient")
	})

	kind, ok := coreerrors.KindOf(err)
	require.True(t, ok)
	require.Equal(t, coreerrors.KindCancelled, kind)
}
