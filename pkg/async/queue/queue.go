// Package queue implements the four-level Priority Queue from spec.md
// §4.A: CRITICAL > HIGH > NORMAL > LOW, FIFO within a level, with
// configurable backpressure when the queue is full.
package queue

import (
	"context"
	"sync"
	"time"

	coreerrors "github.com/dbcore/agentcore/internal/errors"
)

// Priority is one of four ordered levels.
type Priority int

const (
	Low Priority = iota
	Normal
	High
	Critical
)

func (p Priority) String() string {
	switch p {
	case Critical:
		return "CRITICAL"
	case High:
		return "HIGH"
	case Normal:
		return "NORMAL"
	default:
		return "LOW"
	}
}

// levels lists priorities from highest to lowest, the order Get drains in.
var levels = []Priority{Critical, High, Normal, Low}

// BackpressurePolicy controls Put's behavior when the queue is at
// capacity.
type BackpressurePolicy int

const (
	// RejectNew fails Put immediately with QUEUE_FULL.
	RejectNew BackpressurePolicy = iota
	// DropOldest evicts the oldest item at the lowest non-empty level to
	// make room, then enqueues the new item.
	DropOldest
	// BlockBounded makes Put wait (up to its context deadline) for room.
	BlockBounded
)

// Stats is a point-in-time snapshot of queue metrics.
type Stats struct {
	SizePerLevel map[Priority]int
	Rejected     int64
	MeanWaitNS   int64
}

type item struct {
	value    any
	priority Priority
	enqueued time.Time
}

// Queue is a bounded, priority-ordered, concurrency-safe FIFO-per-level
// queue. The zero value is not usable; construct with New.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	capacity int
	policy   BackpressurePolicy
	levels   map[Priority][]item

	rejected   int64
	waitSumNS  int64
	waitCount  int64
	closed     bool
}

// New builds a Queue bounded at capacity total items across all levels,
// using policy when Put is called at capacity. capacity <= 0 means
// unbounded (backpressure policy never triggers).
func New(capacity int, policy BackpressurePolicy) *Queue {
	q := &Queue{
		capacity: capacity,
		policy:   policy,
		levels:   make(map[Priority][]item, 4),
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

func (q *Queue) totalLocked() int {
	n := 0
	for _, lv := range levels {
		n += len(q.levels[lv])
	}
	return n
}

// Put enqueues value at priority. Behavior at capacity depends on the
// configured BackpressurePolicy; BlockBounded respects ctx's deadline and
// returns CANCELLED if it expires first.
func (q *Queue) Put(ctx context.Context, value any, priority Priority) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return coreerrors.New(coreerrors.KindInvariantViolated, "queue", "Put", "queue is closed")
	}

	for q.capacity > 0 && q.totalLocked() >= q.capacity {
		switch q.policy {
		case RejectNew:
			q.rejected++
			return coreerrors.New(coreerrors.KindQueueFull, "queue", "Put", "queue at capacity %d", q.capacity)
		case DropOldest:
			if !q.evictOldestLocked() {
				q.rejected++
				return coreerrors.New(coreerrors.KindQueueFull, "queue", "Put", "queue at capacity %d", q.capacity)
			}
		case BlockBounded:
			stop := context.AfterFunc(ctx, func() {
				q.mu.Lock()
				q.notFull.Broadcast()
				q.mu.Unlock()
			})
			q.notFull.Wait()
			stop()
			if err := ctx.Err(); err != nil {
				return coreerrors.Wrap(coreerrors.KindCancelled, "queue", "Put", err)
			}
		}
	}

	it := item{value: value, priority: priority, enqueued: time.Now()}
	q.levels[priority] = append(q.levels[priority], it)
	q.notEmpty.Broadcast()
	return nil
}

// evictOldestLocked drops one item from the lowest-priority non-empty
// level to make room for a new, possibly higher-priority, item. Caller
// holds q.mu.
func (q *Queue) evictOldestLocked() bool {
	for i := len(levels) - 1; i >= 0; i-- {
		lv := levels[i]
		if len(q.levels[lv]) > 0 {
			q.levels[lv] = q.levels[lv][1:]
			return true
		}
	}
	return false
}

// Get suspends until an item is available or ctx is done, then returns the
// highest-priority, oldest-enqueued item.
func (q *Queue) Get(ctx context.Context) (any, Priority, error) {
	done := make(chan struct{})
	if ctx != nil {
		stop := context.AfterFunc(ctx, func() {
			q.mu.Lock()
			close(done)
			q.notEmpty.Broadcast()
			q.mu.Unlock()
		})
		defer stop()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		for _, lv := range levels {
			if bucket := q.levels[lv]; len(bucket) > 0 {
				it := bucket[0]
				q.levels[lv] = bucket[1:]
				q.waitSumNS += int64(time.Since(it.enqueued))
				q.waitCount++
				q.notFull.Broadcast()
				return it.value, lv, nil
			}
		}
		if q.closed {
			return nil, 0, coreerrors.New(coreerrors.KindInvariantViolated, "queue", "Get", "queue is closed and empty")
		}
		select {
		case <-done:
			return nil, 0, coreerrors.Wrap(coreerrors.KindCancelled, "queue", "Get", ctx.Err())
		default:
		}
		q.notEmpty.Wait()
	}
}

// Stats reports a snapshot of current queue metrics.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	sizes := make(map[Priority]int, 4)
	for _, lv := range levels {
		sizes[lv] = len(q.levels[lv])
	}
	mean := int64(0)
	if q.waitCount > 0 {
		mean = q.waitSumNS / q.waitCount
	}
	return Stats{SizePerLevel: sizes, Rejected: q.rejected, MeanWaitNS: mean}
}

// Close marks the queue closed: further Put calls fail, and Get returns an
// error once drained rather than blocking forever.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}
