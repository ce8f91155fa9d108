package health_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dbcore/agentcore/pkg/health"
)

func TestRunAll_AggregatesOKWhenAllChecksPass(t *testing.T) {
	r := health.New()
	r.Register("a", func(ctx context.Context) health.Result { return health.Result{Status: health.StatusOK} }, 0)
	r.Register("b", func(ctx context.Context) health.Result { return health.Result{Status: health.StatusOK} }, 0)

	report := r.RunAll(context.Background(), time.Second)
	require.Equal(t, health.StatusOK, report.Status)
	require.Len(t, report.Results, 2)
}

func TestRunAll_WorstStatusWins(t *testing.T) {
	r := health.New()
	r.Register("ok", func(ctx context.Context) health.Result { return health.Result{Status: health.StatusOK} }, 0)
	r.Register("bad", func(ctx context.Context) health.Result { return health.Result{Status: health.StatusFail, Message: "down"} }, 0)

	report := r.RunAll(context.Background(), time.Second)
	require.Equal(t, health.StatusFail, report.Status)
}

func TestRunAll_SlowCheckIsTruncatedAtAggregateTimeout(t *testing.T) {
	r := health.New()
	r.Register("fast", func(ctx context.Context) health.Result { return health.Result{Status: health.StatusOK} }, 0)
	r.Register("slow", func(ctx context.Context) health.Result {
		<-ctx.Done()
		return health.Result{Status: health.StatusOK}
	}, 0)

	start := time.Now()
	report := r.RunAll(context.Background(), 30*time.Millisecond)
	elapsed := time.Since(start)

	require.Less(t, elapsed, 500*time.Millisecond)
	require.Contains(t, report.Truncated, "slow")
	require.Equal(t, health.StatusFail, report.Status)
}

func TestRunAll_PerCheckTimeoutOverridesAggregate(t *testing.T) {
	r := health.New()
	r.Register("quick-timeout", func(ctx context.Context) health.Result {
		<-ctx.Done()
		return health.Result{Status: health.StatusOK}
	}, 10*time.Millisecond)

	report := r.RunAll(context.Background(), time.Minute)
	require.Len(t, report.Results, 1)
	require.Equal(t, health.StatusFail, report.Results[0].Status)
}

func TestFilesystemWritable_ReportsOKForWritableDir(t *testing.T) {
	dir := t.TempDir()
	check := health.FilesystemWritable(dir)
	res := check(context.Background())
	require.Equal(t, health.StatusOK, res.Status)
	_, err := os.Stat(dir)
	require.NoError(t, err)
}

func TestFilesystemWritable_ReportsFailForMissingDir(t *testing.T) {
	check := health.FilesystemWritable("/nonexistent/path/for/health/probe")
	res := check(context.Background())
	require.Equal(t, health.StatusFail, res.Status)
}

func TestMemoryPressure_ReportsOKUnderThresholds(t *testing.T) {
	check := health.MemoryPressure(100, 100)
	res := check(context.Background())
	require.NotEqual(t, health.StatusFail, res.Status)
}

func TestUnregister_RemovesCheckFromNextRunAll(t *testing.T) {
	r := health.New()
	r.Register("transient", func(ctx context.Context) health.Result { return health.Result{Status: health.StatusOK} }, 0)
	r.Unregister("transient")

	report := r.RunAll(context.Background(), time.Second)
	require.Empty(t, report.Results)
}
