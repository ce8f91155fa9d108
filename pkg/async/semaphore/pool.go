// Package semaphore implements the Task Executor from spec.md §4.A: a
// bounded-concurrency pool sized by a semaphore, with per-operation
// metrics. Grounded on the teacher's preference for small,
// dependency-light concurrency primitives (infrastructure/resilience),
// generalized from a single circuit breaker into a general submit/wait
// executor using a buffered channel as the semaphore.
package semaphore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	coreerrors "github.com/dbcore/agentcore/internal/errors"
)

// Stats is a snapshot of an operation's recorded outcomes.
type Stats struct {
	Calls          int64
	Successes      int64
	MeanDurationNS int64
	MaxConcurrent  int64
}

// Pool runs submitted units with bounded parallelism.
type Pool struct {
	tokens chan struct{}

	mu          sync.Mutex
	stats       map[string]*opStats
	concurrent  int64
}

type opStats struct {
	calls     int64
	successes int64
	sumNS     int64
	maxConc   int64
}

// New builds a Pool allowing up to n concurrent Submit calls to run at
// once. n <= 0 is treated as 1.
func New(n int) *Pool {
	if n <= 0 {
		n = 1
	}
	return &Pool{
		tokens: make(chan struct{}, n),
		stats:  make(map[string]*opStats),
	}
}

// Submit runs fn under the pool's concurrency limit, recording metrics
// under operation. It blocks (respecting ctx) until a slot is free.
func (p *Pool) Submit(ctx context.Context, operation string, fn func(context.Context) error) error {
	select {
	case p.tokens <- struct{}{}:
	case <-ctx.Done():
		return coreerrors.Wrap(coreerrors.KindCancelled, "semaphore", "Submit", ctx.Err())
	}
	defer func() { <-p.tokens }()

	cur := atomic.AddInt64(&p.concurrent, 1)
	defer atomic.AddInt64(&p.concurrent, -1)

	start := time.Now()
	err := fn(ctx)
	p.record(operation, cur, time.Since(start), err == nil)
	return err
}

func (p *Pool) record(operation string, concurrent int64, d time.Duration, success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.stats[operation]
	if !ok {
		s = &opStats{}
		p.stats[operation] = s
	}
	s.calls++
	if success {
		s.successes++
	}
	s.sumNS += int64(d)
	if concurrent > s.maxConc {
		s.maxConc = concurrent
	}
}

// Stats returns a snapshot for operation; the zero value if it was never
// recorded.
func (p *Pool) Stats(operation string) Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.stats[operation]
	if !ok {
		return Stats{}
	}
	mean := int64(0)
	if s.calls > 0 {
		mean = s.sumNS / s.calls
	}
	return Stats{Calls: s.calls, Successes: s.successes, MeanDurationNS: mean, MaxConcurrent: s.maxConc}
}

// InFlight returns the current number of concurrently running units.
func (p *Pool) InFlight() int64 {
	return atomic.LoadInt64(&p.concurrent)
}
