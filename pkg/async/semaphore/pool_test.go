package semaphore_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dbcore/agentcore/pkg/async/semaphore"
)

func TestPool_BoundsConcurrency(t *testing.T) {
	p := semaphore.New(2)
	var current, max int64

	run := func(ctx context.Context) error {
		c := atomic.AddInt64(&current, 1)
		for {
			m := atomic.LoadInt64(&max)
			if c <= m || atomic.CompareAndSwapInt64(&max, m, c) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt64(&current, -1)
		return nil
	}

	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		go func() {
			_ = p.Submit(context.Background(), "op", run)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 5; i++ {
		<-done
	}

	require.LessOrEqual(t, atomic.LoadInt64(&max), int64(2))
	stats := p.Stats("op")
	require.EqualValues(t, 5, stats.Calls)
	require.EqualValues(t, 5, stats.Successes)
}

func TestPool_RecordsFailures(t *testing.T) {
	p := semaphore.New(1)
	err := p.Submit(context.Background(), "op", func(context.Context) error {
		return errors.New("boom")
	})
	require.Error(t, err)

	stats := p.Stats("op")
	require.EqualValues(t, 1, stats.Calls)
	require.EqualValues(t, 0, stats.Successes)
}

func TestPool_SubmitCancelledWhileWaitingForSlot(t *testing.T) {
	p := semaphore.New(1)
	block := make(chan struct{})
	go func() {
		_ = p.Submit(context.Background(), "hold", func(ctx context.Context) error {
			<-block
			return nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	err := p.Submit(ctx, "waiter", func(context.Context) error { return nil })
	require.Error(t, err)
	close(block)
}
