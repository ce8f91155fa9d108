// Package mcp implements the MCP Client Layer from spec.md §4.A–4.C: the
// polyglot driver abstraction, the per-connection state machine, and the
// Pool Manager. Concrete backends live in pkg/mcp/drivers/*, each
// implementing Driver or StructuredDriver the way the teacher's
// infrastructure/database.RepositoryInterface composes narrower
// per-resource interfaces into one capability surface.
package mcp

import (
	"context"
	"time"
)

// BackendKind names the database family a Driver speaks.
type BackendKind string

const (
	BackendPostgres  BackendKind = "postgres"
	BackendMongo     BackendKind = "mongo"
	BackendRedis     BackendKind = "redis"
	BackendCassandra BackendKind = "cassandra"
	BackendNeo4j     BackendKind = "neo4j"
)

// QueryResult is the common shape every backend normalizes to, per
// spec.md §4.B's "Result normalization."
type QueryResult struct {
	Columns      []string
	Rows         [][]any
	RowsAffected int64
	Labels       []string // populated for graph backends: one fmt.Sprint rendering of each returned record's values; node labels and relationship types are not extracted separately
}

// Driver is the capability surface a SQL-shaped backend (postgres) or a
// simple key/value backend (redis) implements.
type Driver interface {
	// Connect establishes the underlying client connection.
	Connect(ctx context.Context) error
	// Ping verifies liveness for health probing; it must not mutate state.
	Ping(ctx context.Context) error
	// Execute runs query with bound params, using the driver's native
	// parameterization — never string interpolation, per spec.md §4.B.
	Execute(ctx context.Context, query string, params ...any) (QueryResult, error)
	// Close releases the underlying client connection.
	Close(ctx context.Context) error
	// IsRetryable classifies a driver-native error as transient or fatal;
	// see each driver's IsRetryable for the documented mapping.
	IsRetryable(err error) bool
}

// StructuredDriver is the capability surface a document/wide-column/graph
// backend implements: requests are structured operations, not SQL text.
type StructuredDriver interface {
	Connect(ctx context.Context) error
	Ping(ctx context.Context) error
	// ExecuteStructured runs operation against collection/table/graph
	// target with the given structured payload. Drivers reject operation
	// names they do not support; payload contents are passed through
	// without a shape check.
	ExecuteStructured(ctx context.Context, target string, operation string, payload map[string]any) (QueryResult, error)
	Close(ctx context.Context) error
	IsRetryable(err error) bool
}

// Descriptor names one configured backend connection: what it is, how to
// reach it, and the pool sizing/health-probe policy to apply.
type Descriptor struct {
	Name                string
	Kind                BackendKind
	DSN                 string
	ProductionTagged    bool
	MinSize, MaxSize     int
	AcquireTimeout      time.Duration
	IdleTimeout         time.Duration
	HealthProbeInterval time.Duration
}
