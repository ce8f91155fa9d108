package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	coreerrors "github.com/dbcore/agentcore/internal/errors"
	"github.com/dbcore/agentcore/pkg/async/queue"
)

func TestQueue_HigherPriorityAlwaysPrecedes(t *testing.T) {
	q := queue.New(0, queue.RejectNew)
	ctx := context.Background()

	require.NoError(t, q.Put(ctx, "low-1", queue.Low))
	require.NoError(t, q.Put(ctx, "normal-1", queue.Normal))
	require.NoError(t, q.Put(ctx, "critical-1", queue.Critical))
	require.NoError(t, q.Put(ctx, "high-1", queue.High))
	require.NoError(t, q.Put(ctx, "critical-2", queue.Critical))

	order := []string{}
	for i := 0; i < 5; i++ {
		v, _, err := q.Get(ctx)
		require.NoError(t, err)
		order = append(order, v.(string))
	}

	require.Equal(t, []string{"critical-1", "critical-2", "high-1", "normal-1", "low-1"}, order)
}

func TestQueue_FIFOWithinLevel(t *testing.T) {
	q := queue.New(0, queue.RejectNew)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Put(ctx, i, queue.Normal))
	}
	for i := 0; i < 3; i++ {
		v, _, err := q.Get(ctx)
		require.NoError(t, err)
		require.Equal(t, i, v.(int))
	}
}

func TestQueue_RejectNewAtCapacity(t *testing.T) {
	q := queue.New(2, queue.RejectNew)
	ctx := context.Background()

	require.NoError(t, q.Put(ctx, 1, queue.Normal))
	require.NoError(t, q.Put(ctx, 2, queue.Normal))

	err := q.Put(ctx, 3, queue.Normal)
	kind, ok := coreerrors.KindOf(err)
	require.True(t, ok)
	require.Equal(t, coreerrors.KindQueueFull, kind)
	require.EqualValues(t, 1, q.Stats().Rejected)
}

func TestQueue_DropOldestEvictsLowestPriorityFirst(t *testing.T) {
	q := queue.New(2, queue.DropOldest)
	ctx := context.Background()

	require.NoError(t, q.Put(ctx, "low", queue.Low))
	require.NoError(t, q.Put(ctx, "normal", queue.Normal))
	require.NoError(t, q.Put(ctx, "critical", queue.Critical))

	v1, _, _ := q.Get(ctx)
	v2, _, _ := q.Get(ctx)
	require.Equal(t, "critical", v1)
	require.Equal(t, "normal", v2)
}

func TestQueue_GetBlocksUntilPut(t *testing.T) {
	q := queue.New(0, queue.RejectNew)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	var got any
	go func() {
		defer wg.Done()
		v, _, err := q.Get(ctx)
		require.NoError(t, err)
		got = v
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Put(ctx, "value", queue.Normal))
	wg.Wait()
	require.Equal(t, "value", got)
}

func TestQueue_GetCancelledByContext(t *testing.T) {
	q := queue.New(0, queue.RejectNew)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, _, err := q.Get(ctx)
	kind, ok := coreerrors.KindOf(err)
	require.True(t, ok)
	require.Equal(t, coreerrors.KindCancelled, kind)
}

func TestQueue_BlockBoundedWaitsForRoom(t *testing.T) {
	q := queue.New(1, queue.BlockBounded)
	ctx := context.Background()
	require.NoError(t, q.Put(ctx, "first", queue.Normal))

	done := make(chan error, 1)
	go func() {
		done <- q.Put(ctx, "second", queue.Normal)
	}()

	time.Sleep(10 * time.Millisecond)
	_, _, err := q.Get(ctx) // drains "first", frees room
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Put never unblocked")
	}
}
