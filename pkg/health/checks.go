package health

import (
	"context"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/dbcore/agentcore/pkg/mcp"
)

// LLMReachability builds a check that reports OK when ping succeeds and
// FAIL on any error ping returns; it never reports DEGRADED. Production wiring passes the LLM
// client's own lightweight reachability probe as ping; this package only
// owns the aggregation, not any concrete LLM transport.
func LLMReachability(ping func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) Result {
		if err := ping(ctx); err != nil {
			return Result{Status: StatusFail, Message: err.Error()}
		}
		return Result{Status: StatusOK}
	}
}

// ConnectionPing builds a check that acquires a lease from pool, pings
// the underlying driver, and releases it — exercising the same path a
// real query would, per spec.md §4.I's "per-connection ping" check.
func ConnectionPing(pool *mcp.Pool) CheckFunc {
	return func(ctx context.Context) Result {
		lease, err := pool.Acquire(ctx)
		if err != nil {
			return Result{Status: StatusFail, Message: err.Error()}
		}
		defer lease.Release()

		if err := lease.Driver().Ping(ctx); err != nil {
			return Result{Status: StatusDegraded, Message: err.Error()}
		}
		return Result{Status: StatusOK}
	}
}

// FilesystemWritable builds a check that writes and removes a small probe
// file under dir.
func FilesystemWritable(dir string) CheckFunc {
	return func(ctx context.Context) Result {
		probe := filepath.Join(dir, ".health-probe")
		if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
			return Result{Status: StatusFail, Message: err.Error()}
		}
		defer os.Remove(probe)
		return Result{Status: StatusOK}
	}
}

// MemoryPressure builds a check that reports DEGRADED above warnPercent
// used and FAIL above failPercent used, using gopsutil's own accounting
// (the same library the pack's other host-metrics consumers use) rather
// than hand-rolled /proc parsing.
func MemoryPressure(warnPercent, failPercent float64) CheckFunc {
	return func(ctx context.Context) Result {
		vm, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			return Result{Status: StatusFail, Message: err.Error()}
		}
		msg := ""
		status := StatusOK
		switch {
		case vm.UsedPercent >= failPercent:
			status = StatusFail
		case vm.UsedPercent >= warnPercent:
			status = StatusDegraded
		}
		if status != StatusOK {
			msg = "memory used percent above threshold"
		}
		return Result{Status: status, Message: msg}
	}
}
