// Package health implements the Health Aggregator from spec.md §4.I: a
// registry of named checks run in parallel, each bounded by its own
// timeout, aggregated into a report that never exceeds the caller's
// overall deadline no matter how slow one check is. Generalizes the Pool
// Manager's errgroup-parallel health probing (pkg/mcp/pool.go's
// probeOnce) to an arbitrary, user-registered set of checks.
package health

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status is one check's outcome.
type Status string

const (
	StatusOK       Status = "OK"
	StatusDegraded Status = "DEGRADED"
	StatusFail     Status = "FAIL"
)

// Result is one check's reported outcome.
type Result struct {
	Name    string
	Status  Status
	Latency time.Duration
	Message string
}

// CheckFunc is one named probe. It must respect ctx's deadline.
type CheckFunc func(ctx context.Context) Result

// Registry holds named checks, each with its own timeout override.
type Registry struct {
	mu     sync.RWMutex
	checks map[string]registeredCheck
}

type registeredCheck struct {
	fn      CheckFunc
	timeout time.Duration // 0 means "use the aggregate timeout"
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{checks: make(map[string]registeredCheck)}
}

// Register adds or replaces the check named name. A zero perCheckTimeout
// means the check is bounded only by RunAll's aggregate timeout.
func (r *Registry) Register(name string, fn CheckFunc, perCheckTimeout time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[name] = registeredCheck{fn: fn, timeout: perCheckTimeout}
}

// Unregister removes name. Idempotent.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.checks, name)
}

// Report is the aggregate result of one RunAll call.
type Report struct {
	Results   []Result
	Status    Status // worst of all Results
	Truncated []string
}

// RunAll executes every registered check in parallel, each bounded by the
// smaller of its own per-check timeout and the aggregate timeout, and
// returns once all checks finish or the aggregate timeout elapses —
// whichever is sooner. A check still running when the aggregate deadline
// passes is reported FAIL and named in Truncated; it MUST NOT delay the
// report past timeout, per spec.md §4.I.
func (r *Registry) RunAll(ctx context.Context, timeout time.Duration) Report {
	r.mu.RLock()
	names := make([]string, 0, len(r.checks))
	checks := make(map[string]registeredCheck, len(r.checks))
	for name, c := range r.checks {
		names = append(names, name)
		checks[name] = c
	}
	r.mu.RUnlock()

	aggCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultCh := make(chan Result, len(names))
	group, gctx := errgroup.WithContext(aggCtx)

	for _, name := range names {
		name := name
		c := checks[name]
		group.Go(func() error {
			checkCtx := gctx
			if c.timeout > 0 {
				var cancel context.CancelFunc
				checkCtx, cancel = context.WithTimeout(gctx, c.timeout)
				defer cancel()
			}
			resultCh <- runOne(checkCtx, name, c.fn)
			return nil
		})
	}

	results := make(map[string]Result, len(names))
	remaining := len(names)
	for remaining > 0 {
		select {
		case res := <-resultCh:
			results[res.Name] = res
			remaining--
		case <-aggCtx.Done():
			remaining = 0
		}
	}

	report := Report{}
	worstRank := rank(StatusOK)
	for _, name := range names {
		res, ok := results[name]
		if !ok {
			res = Result{Name: name, Status: StatusFail, Message: "check did not complete before the aggregate timeout"}
			report.Truncated = append(report.Truncated, name)
		}
		report.Results = append(report.Results, res)
		if rank(res.Status) > worstRank {
			worstRank = rank(res.Status)
		}
	}
	report.Status = fromRank(worstRank)
	return report
}

func runOne(ctx context.Context, name string, fn CheckFunc) Result {
	start := time.Now()
	done := make(chan Result, 1)
	go func() {
		res := fn(ctx)
		res.Name = name
		if res.Latency == 0 {
			res.Latency = time.Since(start)
		}
		done <- res
	}()
	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		return Result{Name: name, Status: StatusFail, Latency: time.Since(start), Message: "check exceeded its timeout"}
	}
}

func rank(s Status) int {
	switch s {
	case StatusOK:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

func fromRank(r int) Status {
	switch r {
	case 0:
		return StatusOK
	case 1:
		return StatusDegraded
	default:
		return StatusFail
	}
}
