// Package metrics provides the Prometheus collector bundle shared by every
// subsystem. It is adapted from the teacher's infrastructure/metrics
// package: same NewWithRegistry construction style, but collectors are
// reshaped around this core's domain (pool/query/safety/cache/agent)
// instead of HTTP/blockchain, and the package-level global instance is
// dropped — every component receives a *Metrics via constructor injection
// from the Orchestrator, per the composition-root design note.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the core's components record against.
type Metrics struct {
	// MCP Client + Pool Manager
	PoolAcquireTotal    *prometheus.CounterVec
	PoolAcquireDuration *prometheus.HistogramVec
	PoolInUse           *prometheus.GaugeVec
	PoolAvailable       *prometheus.GaugeVec
	QueriesTotal        *prometheus.CounterVec
	QueryDuration       *prometheus.HistogramVec
	ConnectionState     *prometheus.GaugeVec

	// Safety pipeline
	SafetyDecisionsTotal *prometheus.CounterVec
	RiskClassifications  *prometheus.CounterVec

	// Audit log
	AuditEventsTotal *prometheus.CounterVec

	// Tool registry / agent
	ToolInvocationsTotal *prometheus.CounterVec
	ToolInvokeDuration   *prometheus.HistogramVec
	AgentStateTotal      *prometheus.CounterVec

	// Semantic cache
	CacheHitsTotal     prometheus.Counter
	CacheMissesTotal   prometheus.Counter
	CacheEntries       prometheus.Gauge
	CacheBytes         prometheus.Gauge

	// Async primitives
	QueueDepth      *prometheus.GaugeVec
	QueueRejections *prometheus.CounterVec
}

// New builds a Metrics bundle registered against registerer. Pass a fresh
// prometheus.NewRegistry() in tests to avoid collisions with other test
// packages registering the same metric names against the default
// registerer.
func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		PoolAcquireTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_pool_acquire_total",
			Help: "Total pool acquisition attempts, by connection and outcome.",
		}, []string{"connection", "outcome"}),
		PoolAcquireDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcp_pool_acquire_duration_seconds",
			Help:    "Time spent waiting for a pooled connection.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"connection"}),
		PoolInUse: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mcp_pool_in_use",
			Help: "Connections currently checked out of the pool.",
		}, []string{"connection"}),
		PoolAvailable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mcp_pool_available",
			Help: "Idle connections currently available in the pool.",
		}, []string{"connection"}),
		QueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_queries_total",
			Help: "Total queries executed, by connection and outcome.",
		}, []string{"connection", "outcome"}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcp_query_duration_seconds",
			Help:    "Query execution duration.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"connection"}),
		ConnectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mcp_connection_state",
			Help: "1 if the connection is currently in the labeled state, else 0.",
		}, []string{"connection", "state"}),

		SafetyDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safety_decisions_total",
			Help: "Safety Controller decisions, by decision kind.",
		}, []string{"decision"}),
		RiskClassifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_classifications_total",
			Help: "Risk classifier outcomes, by risk level.",
		}, []string{"level"}),

		AuditEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_events_total",
			Help: "Audit events appended, by action.",
		}, []string{"action", "outcome"}),

		ToolInvocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tool_invocations_total",
			Help: "Tool invocations, by tool and outcome.",
		}, []string{"tool", "outcome"}),
		ToolInvokeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tool_invoke_duration_seconds",
			Help:    "Tool invocation duration.",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30},
		}, []string{"tool"}),
		AgentStateTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_state_transitions_total",
			Help: "Agent state machine transitions, by resulting state.",
		}, []string{"state"}),

		CacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "semantic_cache_hits_total",
			Help: "Semantic cache hits.",
		}),
		CacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "semantic_cache_misses_total",
			Help: "Semantic cache misses.",
		}),
		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "semantic_cache_entries",
			Help: "Current number of cache entries.",
		}),
		CacheBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "semantic_cache_bytes",
			Help: "Current estimated bytes held by the cache.",
		}),

		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "priority_queue_depth",
			Help: "Current queue depth, by priority level.",
		}, []string{"priority"}),
		QueueRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "priority_queue_rejections_total",
			Help: "Items rejected due to backpressure, by priority level.",
		}, []string{"priority"}),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.PoolAcquireTotal, m.PoolAcquireDuration, m.PoolInUse, m.PoolAvailable,
			m.QueriesTotal, m.QueryDuration, m.ConnectionState,
			m.SafetyDecisionsTotal, m.RiskClassifications,
			m.AuditEventsTotal,
			m.ToolInvocationsTotal, m.ToolInvokeDuration, m.AgentStateTotal,
			m.CacheHitsTotal, m.CacheMissesTotal, m.CacheEntries, m.CacheBytes,
			m.QueueDepth, m.QueueRejections,
		)
	}
	return m
}

// RecordQuery records a completed query's duration and outcome.
func (m *Metrics) RecordQuery(connection, outcome string, d time.Duration) {
	m.QueriesTotal.WithLabelValues(connection, outcome).Inc()
	m.QueryDuration.WithLabelValues(connection).Observe(d.Seconds())
}

// RecordPoolAcquire records a pool acquisition attempt's duration and
// outcome ("reused", "new", "error" or "timeout").
func (m *Metrics) RecordPoolAcquire(connection, outcome string, d time.Duration) {
	m.PoolAcquireTotal.WithLabelValues(connection, outcome).Inc()
	m.PoolAcquireDuration.WithLabelValues(connection).Observe(d.Seconds())
}

// SetConnectionState zeroes every other known state gauge for connection
// and sets the current one to 1, so a Prometheus query for "state==1"
// always yields exactly one series per connection.
func (m *Metrics) SetConnectionState(connection string, states []string, current string) {
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1.0
		}
		m.ConnectionState.WithLabelValues(connection, s).Set(v)
	}
}
