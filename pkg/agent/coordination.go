package agent

import (
	"context"
	"time"

	coreerrors "github.com/dbcore/agentcore/internal/errors"
)

// Locker is the distributed-lock abstraction from spec.md §5 ("a keyed
// string resource, a TTL, and an owner token... backed by a pluggable
// store"), kept as a narrow interface here so multi-agent coordination
// doesn't couple this package to any one backend. pkg/mcp/drivers/redis's
// Lock satisfies this directly.
type Locker interface {
	Acquire(ctx context.Context, resource string, ttl time.Duration) (token string, acquired bool, err error)
	Release(ctx context.Context, resource, token string) (released bool, err error)
}

// WithLock runs fn while holding resource's lock, auto-releasing even on
// panic or early return. Used by the Agent Manager to serialize
// concurrently-running agents that target the same connection or
// resource name, per spec.md §4.H's Coordination paragraph.
func WithLock(ctx context.Context, locker Locker, resource string, ttl time.Duration, fn func(ctx context.Context) error) error {
	token, acquired, err := locker.Acquire(ctx, resource, ttl)
	if err != nil {
		return coreerrors.Wrap(coreerrors.KindConnectionFailed, "agent", "WithLock", err)
	}
	if !acquired {
		return coreerrors.New(coreerrors.KindPoolExhaustedTimout, "agent", "WithLock", "resource %q is held by another agent", resource)
	}
	defer func() {
		_, _ = locker.Release(ctx, resource, token)
	}()
	return fn(ctx)
}
