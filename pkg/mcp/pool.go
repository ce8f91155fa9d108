// Pool Manager: per-descriptor connection pooling with FIFO waiter
// fairness, idle reaping, and circuit-broken health probing, per spec.md
// §4.B. Generalizes the teacher's infrastructure/resilience circuit
// breaker usage and infrastructure/state pluggable-backend locking style
// to a connection pool.
package mcp

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	coreerrors "github.com/dbcore/agentcore/internal/errors"
	"github.com/dbcore/agentcore/internal/metrics"
	"github.com/dbcore/agentcore/pkg/async/bus"
)

// Factory builds a fresh, unconnected Driver for a Descriptor.
type Factory func(d Descriptor) (Driver, error)

type pooledConn struct {
	driver    Driver
	fsm       *ConnectionFSM
	idleSince time.Time
}

type waiter struct {
	ch chan *pooledConn
}

// Pool manages connections for one Descriptor. It is safe for concurrent
// use; all shared state is protected internally per spec.md's
// shared-resource policy.
type Pool struct {
	descriptor Descriptor
	factory    Factory
	eventBus   *bus.Bus
	metrics    *metrics.Metrics
	logger     *zap.Logger

	mu       sync.Mutex
	idle     []*pooledConn
	numConns int
	waiters  []*waiter // FIFO: append to back, pop from front
	closed   bool

	breaker *gobreaker.CircuitBreaker

	stopProbe chan struct{}
	probeDone chan struct{}
}

// NewPool builds a Pool for descriptor, backed by factory to mint new
// connections on demand up to descriptor.MaxSize.
func NewPool(descriptor Descriptor, factory Factory, eventBus *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		descriptor: descriptor,
		factory:    factory,
		eventBus:   eventBus,
		metrics:    m,
		logger:     logger,
		stopProbe:  make(chan struct{}),
		probeDone:  make(chan struct{}),
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "mcp-pool-" + descriptor.Name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	interval := descriptor.HealthProbeInterval
	if interval > 0 {
		go p.probeLoop(interval)
	} else {
		close(p.probeDone)
	}
	return p
}

// Lease is a handle to one acquired connection; the caller must call
// Release exactly once.
type Lease struct {
	pool *Pool
	conn *pooledConn
}

// Driver exposes the underlying Driver for query execution.
func (l *Lease) Driver() Driver { return l.conn.driver }

// Release returns the connection to the pool, handing it directly to the
// oldest waiting acquirer if one is queued (FIFO fairness), per spec.md
// §4.B.
func (l *Lease) Release() {
	l.pool.release(l.conn)
}

// Acquire blocks until a connection is available or ctx/descriptor's
// AcquireTimeout elapses, whichever is sooner.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	timeout := p.descriptor.AcquireTimeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, coreerrors.New(coreerrors.KindInvariantViolated, "mcp", "Acquire", "pool %q is closed", p.descriptor.Name)
	}

	if n := len(p.idle); n > 0 {
		conn := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		p.recordAcquire("reused")
		return &Lease{pool: p, conn: conn}, nil
	}

	if p.numConns < p.descriptor.MaxSize {
		p.numConns++
		p.mu.Unlock()

		conn, err := p.connectNew(ctx)
		if err != nil {
			p.mu.Lock()
			p.numConns--
			p.mu.Unlock()
			p.recordAcquire("error")
			return nil, err
		}
		p.recordAcquire("new")
		return &Lease{pool: p, conn: conn}, nil
	}

	w := &waiter{ch: make(chan *pooledConn, 1)}
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	select {
	case conn := <-w.ch:
		if conn == nil {
			return nil, coreerrors.New(coreerrors.KindInvariantViolated, "mcp", "Acquire", "pool %q closed while waiting", p.descriptor.Name)
		}
		p.recordAcquire("reused")
		return &Lease{pool: p, conn: conn}, nil
	case <-ctx.Done():
		p.removeWaiter(w)
		p.recordAcquire("timeout")
		return nil, coreerrors.New(coreerrors.KindPoolExhaustedTimout, "mcp", "Acquire", "POOL_EXHAUSTED_TIMEOUT: %q", p.descriptor.Name)
	}
}

func (p *Pool) connectNew(ctx context.Context) (*pooledConn, error) {
	driver, err := p.factory(p.descriptor)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindConnectionFailed, "mcp", "Acquire", err)
	}
	fsm := NewConnectionFSM(p.descriptor.Name, p.eventBus)
	fsm.Transition(StateConnecting)
	if err := driver.Connect(ctx); err != nil {
		fsm.Fault()
		return nil, coreerrors.Wrap(coreerrors.KindConnectionFailed, "mcp", "Acquire", err)
	}
	fsm.Transition(StateConnected)
	return &pooledConn{driver: driver, fsm: fsm}, nil
}

func (p *Pool) removeWaiter(target *waiter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.waiters {
		if w == target {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

func (p *Pool) release(conn *pooledConn) {
	conn.idleSince = time.Now()

	p.mu.Lock()
	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.mu.Unlock()
		w.ch <- conn
		return
	}
	p.idle = append(p.idle, conn)
	p.mu.Unlock()
}

func (p *Pool) recordAcquire(outcome string) {
	if p.metrics != nil {
		p.metrics.RecordPoolAcquire(p.descriptor.Name, outcome, 0)
	}
}

// probeLoop runs health probes on idle connections at the configured
// interval and reaps idle connections beyond MinSize whose idle time
// exceeds IdleTimeout.
func (p *Pool) probeLoop(interval time.Duration) {
	defer close(p.probeDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.probeOnce()
			p.reapIdle()
		case <-p.stopProbe:
			return
		}
	}
}

func (p *Pool) probeOnce() {
	p.mu.Lock()
	snapshot := append([]*pooledConn(nil), p.idle...)
	p.mu.Unlock()

	var g errgroup.Group
	for _, conn := range snapshot {
		conn := conn
		g.Go(func() error {
			_, err := p.breaker.Execute(func() (any, error) {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return nil, conn.driver.Ping(ctx)
			})
			if err != nil {
				conn.fsm.Transition(StateDegraded)
				p.logger.Warn("health probe failed", zap.String("connection", p.descriptor.Name), zap.Error(err))
			} else if conn.fsm.State() == StateDegraded {
				conn.fsm.Transition(StateConnected)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Pool) reapIdle() {
	if p.descriptor.IdleTimeout <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := time.Now().Add(-p.descriptor.IdleTimeout)
	kept := p.idle[:0]
	for _, conn := range p.idle {
		if p.numConns > p.descriptor.MinSize && conn.idleSince.Before(cutoff) {
			p.numConns--
			go conn.driver.Close(context.Background())
			continue
		}
		kept = append(kept, conn)
	}
	p.idle = kept
}

// Stats reports current pool occupancy.
type Stats struct {
	InUse     int
	Idle      int
	Waiters   int
	NumConns  int
}

// Stats returns a point-in-time snapshot.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		InUse:    p.numConns - len(p.idle),
		Idle:     len(p.idle),
		Waiters:  len(p.waiters),
		NumConns: p.numConns,
	}
}

// Close stops health probing and closes every idle connection. In-flight
// leases are not forcibly closed; callers must Release before Close
// reclaims them.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	close(p.stopProbe)
	<-p.probeDone

	for _, w := range waiters {
		close(w.ch)
	}
	for _, conn := range idle {
		conn.fsm.Transition(StateDisconnecting)
		if err := conn.driver.Close(ctx); err != nil {
			p.logger.Warn("error closing idle connection", zap.Error(err))
		}
		conn.fsm.Transition(StateDisconnected)
	}
	return nil
}
