// Package orchestrator is the composition root from spec.md §4.K: it
// wires every subsystem into a single process in the order the teacher's
// cmd/appserver wires its own application (store → services → HTTP
// service → Attach → Start), generalized from one hard-coded store/http
// pair to this core's full subsystem graph, and exposes the thin surface
// an external caller (a CLI, an HTTP handler, a test) needs: connect to a
// backend, run a tool, run an agent, check health, search the audit log.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dbcore/agentcore/internal/config"
	coreerrors "github.com/dbcore/agentcore/internal/errors"
	"github.com/dbcore/agentcore/internal/logging"
	"github.com/dbcore/agentcore/internal/metrics"
	"github.com/dbcore/agentcore/infrastructure/state"
	"github.com/dbcore/agentcore/pkg/agent"
	"github.com/dbcore/agentcore/pkg/async/bus"
	"github.com/dbcore/agentcore/pkg/audit"
	"github.com/dbcore/agentcore/pkg/cache"
	"github.com/dbcore/agentcore/pkg/health"
	"github.com/dbcore/agentcore/pkg/mcp"
	"github.com/dbcore/agentcore/pkg/mcp/drivers/cassandra"
	"github.com/dbcore/agentcore/pkg/mcp/drivers/mongo"
	"github.com/dbcore/agentcore/pkg/mcp/drivers/neo4j"
	"github.com/dbcore/agentcore/pkg/mcp/drivers/postgres"
	"github.com/dbcore/agentcore/pkg/mcp/drivers/redis"
	"github.com/dbcore/agentcore/pkg/safety"
	toolmetrics "github.com/dbcore/agentcore/pkg/metrics"
	"github.com/dbcore/agentcore/pkg/tools"
	"github.com/dbcore/agentcore/pkg/vault"

	"github.com/prometheus/client_golang/prometheus"

	redisclient "github.com/go-redis/redis/v8"
)

// Orchestrator owns the full subsystem graph and is the only thing a
// demo binary or integration test constructs directly.
type Orchestrator struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	bus     *bus.Bus

	Vault        *vault.Vault
	Audit        *audit.Log
	Safety       *safety.Controller
	Tools        *tools.Registry
	Health       *health.Registry
	Cache        *cache.Cache
	Checkpoints  *agent.CheckpointStore
	Locker       agent.Locker
	ToolMetrics  *toolmetrics.Recorder
	MetricsReg   *prometheus.Registry

	mu         sync.Mutex
	pools      map[string]*mcp.Pool           // mcp.Driver-shaped backends: postgres, redis
	structured map[string]mcp.StructuredDriver // document/wide-column/graph backends: mongo, cassandra, neo4j
}

// New builds every subsystem and wires them together in this order:
// logger, Audit log, Vault (which records reads to that log), event bus
// and metrics, Safety Controller, Tool Registry, Agent checkpoint store,
// semantic cache, health registry. No pool is created here; Connect
// creates one per backend.
// Approve is the callback the Safety Controller invokes for
// REQUIRE_APPROVAL decisions; pass nil to always deny approval-gated
// operations (the safe default for a headless process).
func New(cfg *config.Config, vaultPassphrase []byte, approve safety.ApprovalCallback) (*Orchestrator, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindInvariantViolated, "orchestrator", "New", err)
	}

	auditLog, err := audit.NewFileLog(cfg.Audit.Path)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindIO, "orchestrator", "New", err)
	}

	v := vault.New(vaultPassphrase, vault.KDFParams{
		Time:    1,
		Memory:  cfg.Vault.KDFIterations * 16 * 1024,
		Threads: 4,
	}, auditSink{log: auditLog})

	eventBus := bus.New(logger)
	metricsReg := prometheus.NewRegistry()
	m := metrics.New(metricsReg)
	toolRecorder := toolmetrics.NewRecorder(metricsReg)

	safetyLevel := safety.Level(cfg.Safety.DefaultLevel)
	safetyController := safety.New(safety.Config{
		Level:   safetyLevel,
		Audit:   auditLog,
		Approve: approve,
	})

	toolRegistry := tools.New(safetyController, auditLog)

	backend := state.NewMemoryBackend(0)
	checkpoints := agent.NewCheckpointStore(backend)

	semanticCache, err := cache.New(cache.Config{MaxEntries: 1024, CompressAboveBytes: 4096, Logger: logger})
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindInvariantViolated, "orchestrator", "New", err)
	}

	healthRegistry := health.New()
	healthRegistry.Register("filesystem", health.FilesystemWritable("."), 0)
	healthRegistry.Register("memory", health.MemoryPressure(85, 97), 0)

	o := &Orchestrator{
		cfg:         cfg,
		logger:      logger,
		metrics:     m,
		bus:         eventBus,
		Vault:       v,
		Audit:       auditLog,
		Safety:      safetyController,
		Tools:       toolRegistry,
		Health:      healthRegistry,
		Cache:       semanticCache,
		Checkpoints: checkpoints,
		ToolMetrics: toolRecorder,
		MetricsReg:  metricsReg,
		pools:       make(map[string]*mcp.Pool),
		structured:  make(map[string]mcp.StructuredDriver),
	}
	return o, nil
}

// auditSink adapts *audit.Log to vault.AuditSink.
type auditSink struct {
	log *audit.Log
}

func (a auditSink) RecordAccess(ctx context.Context, name string, success bool, err error) {
	outcome := "ALLOW"
	var details map[string]any
	if !success {
		outcome = "DENY"
		if err != nil {
			details = map[string]any{"error": err.Error()}
		}
	}
	_, _ = a.log.Append("vault", "read", name, outcome, details)
}

// Connect opens a backend connection for descriptor. SQL-shaped backends
// (postgres, redis) go through the Pool Manager, the same way spec.md
// §4.B describes; document/wide-column/graph backends (mongo, cassandra,
// neo4j) speak StructuredDriver instead of Driver and so are connected
// directly rather than pooled — the Pool Manager's fairness/idle-reaping
// machinery is built around the narrower SQL-shaped Driver interface.
// Calling Connect twice for the same descriptor name replaces the prior
// connection.
func (o *Orchestrator) Connect(descriptor mcp.Descriptor) error {
	switch descriptor.Kind {
	case mcp.BackendPostgres, mcp.BackendRedis:
		return o.connectPooled(descriptor)
	case mcp.BackendMongo, mcp.BackendCassandra, mcp.BackendNeo4j:
		return o.connectStructured(descriptor)
	default:
		return coreerrors.New(coreerrors.KindUnsupportedOperation, "orchestrator", "Connect", "unknown backend kind %q", descriptor.Kind)
	}
}

func (o *Orchestrator) connectPooled(descriptor mcp.Descriptor) error {
	factory, err := driverFactory(descriptor.Kind)
	if err != nil {
		return err
	}
	pool := mcp.NewPool(descriptor, factory, o.bus, o.metrics, o.logger)

	o.mu.Lock()
	if existing, ok := o.pools[descriptor.Name]; ok {
		_ = existing.Close(context.Background())
	}
	o.pools[descriptor.Name] = pool
	o.mu.Unlock()

	o.Health.Register("connection:"+descriptor.Name, health.ConnectionPing(pool), descriptor.AcquireTimeout)
	return nil
}

func driverFactory(kind mcp.BackendKind) (mcp.Factory, error) {
	switch kind {
	case mcp.BackendPostgres:
		return func(d mcp.Descriptor) (mcp.Driver, error) {
			return postgres.New(d.DSN), nil
		}, nil
	case mcp.BackendRedis:
		return func(d mcp.Descriptor) (mcp.Driver, error) {
			return redis.New(d.DSN), nil
		}, nil
	default:
		return nil, coreerrors.New(coreerrors.KindUnsupportedOperation, "orchestrator", "driverFactory", "%q is not a pooled backend", kind)
	}
}

func (o *Orchestrator) connectStructured(descriptor mcp.Descriptor) error {
	var drv mcp.StructuredDriver
	switch descriptor.Kind {
	case mcp.BackendMongo:
		drv = mongo.New(descriptor.DSN, descriptor.Name)
	case mcp.BackendCassandra:
		drv = cassandra.New([]string{descriptor.DSN}, descriptor.Name)
	case mcp.BackendNeo4j:
		drv = neo4j.New(descriptor.DSN, "", "", descriptor.Name)
	default:
		return coreerrors.New(coreerrors.KindUnsupportedOperation, "orchestrator", "connectStructured", "%q is not a structured backend", descriptor.Kind)
	}

	if err := drv.Connect(context.Background()); err != nil {
		return err
	}

	o.mu.Lock()
	if existing, ok := o.structured[descriptor.Name]; ok {
		_ = existing.Close(context.Background())
	}
	o.structured[descriptor.Name] = drv
	o.mu.Unlock()

	o.Health.Register("connection:"+descriptor.Name, structuredPing(drv), descriptor.AcquireTimeout)
	return nil
}

func structuredPing(drv mcp.StructuredDriver) health.CheckFunc {
	return func(ctx context.Context) health.Result {
		if err := drv.Ping(ctx); err != nil {
			return health.Result{Status: health.StatusFail, Message: err.Error()}
		}
		return health.Result{Status: health.StatusOK}
	}
}

// ExecuteStructured runs a structured operation against a connected
// document/wide-column/graph backend.
func (o *Orchestrator) ExecuteStructured(ctx context.Context, connection, target, operation string, payload map[string]any) (mcp.QueryResult, error) {
	o.mu.Lock()
	drv, ok := o.structured[connection]
	o.mu.Unlock()
	if !ok {
		return mcp.QueryResult{}, coreerrors.New(coreerrors.KindNotFound, "orchestrator", "ExecuteStructured", "no such connection: %q", connection)
	}
	return drv.ExecuteStructured(ctx, target, operation, payload)
}

// Disconnect closes and forgets the named connection, pooled or
// structured.
func (o *Orchestrator) Disconnect(ctx context.Context, name string) error {
	o.mu.Lock()
	pool, pooled := o.pools[name]
	drv, structured := o.structured[name]
	delete(o.pools, name)
	delete(o.structured, name)
	o.mu.Unlock()

	if !pooled && !structured {
		return coreerrors.New(coreerrors.KindNotFound, "orchestrator", "Disconnect", "no such connection: %q", name)
	}
	o.Health.Unregister("connection:" + name)

	if pooled {
		return pool.Close(ctx)
	}
	return drv.Close(ctx)
}

// Pool returns the named connection pool, or false if it has not been
// connected.
func (o *Orchestrator) Pool(name string) (*mcp.Pool, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.pools[name]
	return p, ok
}

// Connections reports a point-in-time Stats snapshot for every connected
// pool, keyed by descriptor name.
func (o *Orchestrator) Connections() map[string]mcp.Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]mcp.Stats, len(o.pools))
	for name, p := range o.pools {
		out[name] = p.Stats()
	}
	return out
}

// StructuredConnections lists the names of connected document/wide-column/
// graph backends. Unlike pooled connections these have no acquire/idle
// stats to report — they are single persistent client connections.
func (o *Orchestrator) StructuredConnections() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	names := make([]string, 0, len(o.structured))
	for name := range o.structured {
		names = append(names, name)
	}
	return names
}

// RunTool invokes a registered tool through the Tool Registry on behalf
// of principal, gated by the capabilities callCtx grants.
func (o *Orchestrator) RunTool(ctx context.Context, name string, params map[string]any, callCtx tools.CallContext) (map[string]any, error) {
	return o.Tools.Invoke(ctx, name, params, callCtx)
}

// Subscribe relays events matching pattern (an exact topic or a
// "prefix.*" wildcard) to handler, letting an outer transport — an HTTP
// streaming endpoint, a websocket, the Postgres relay — observe the
// Orchestrator's internal event traffic without reaching into its
// private bus field.
func (o *Orchestrator) Subscribe(pattern string, handler bus.Handler) int64 {
	return o.bus.Subscribe(pattern, handler)
}

// Unsubscribe cancels a subscription returned by Subscribe.
func (o *Orchestrator) Unsubscribe(id int64) {
	o.bus.Unsubscribe(id)
}

// RunAgent drives one Agent's Plan to completion (or failure/rollback)
// using this Orchestrator's Tool Registry, Safety Controller, and
// checkpoint store.
func (o *Orchestrator) RunAgent(ctx context.Context, task agent.TaskContext, planner agent.Planner) (*agent.Agent, error) {
	a := agent.New(task.ID, task, planner, o.Tools, o.Safety, o.Checkpoints, o.bus, o.logger)
	err := a.Run(ctx)
	return a, err
}

// CheckHealth fans every registered health check out and returns the
// aggregate report within timeout, per spec.md §4.I.
func (o *Orchestrator) CheckHealth(ctx context.Context, timeout time.Duration) health.Report {
	return o.Health.RunAll(ctx, timeout)
}

// SearchAudit filters the hash-chained audit log.
func (o *Orchestrator) SearchAudit(f audit.Filter) []audit.Record {
	return o.Audit.Search(f)
}

// ConnectRedisLocker wires a redis.Lock as this Orchestrator's
// cross-agent resource Locker, per spec.md §4.H's multi-agent
// coordination requirement. Call once after Connect-ing a redis backend.
func (o *Orchestrator) ConnectRedisLocker(client *redisclient.Client) {
	o.Locker = redis.NewLock(client)
}

// Shutdown closes every pooled connection and then every structured
// connection. The other subsystems New builds are not stopped.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	pools := make([]*mcp.Pool, 0, len(o.pools))
	for _, p := range o.pools {
		pools = append(pools, p)
	}
	structured := make([]mcp.StructuredDriver, 0, len(o.structured))
	for _, d := range o.structured {
		structured = append(structured, d)
	}
	o.pools = make(map[string]*mcp.Pool)
	o.structured = make(map[string]mcp.StructuredDriver)
	o.mu.Unlock()

	var firstErr error
	for _, p := range pools {
		if err := p.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, d := range structured {
		if err := d.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
