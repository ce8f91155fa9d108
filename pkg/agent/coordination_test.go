package agent_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dbcore/agentcore/pkg/agent"
)

type fakeLocker struct {
	mu      sync.Mutex
	holders map[string]string
}

func newFakeLocker() *fakeLocker { return &fakeLocker{holders: make(map[string]string)} }

func (l *fakeLocker) Acquire(ctx context.Context, resource string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.holders[resource]; held {
		return "", false, nil
	}
	token := resource + "-token"
	l.holders[resource] = token
	return token, true, nil
}

func (l *fakeLocker) Release(ctx context.Context, resource, token string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holders[resource] != token {
		return false, nil
	}
	delete(l.holders, resource)
	return true, nil
}

func TestWithLock_RunsFnThenReleases(t *testing.T) {
	locker := newFakeLocker()
	ran := false
	err := agent.WithLock(context.Background(), locker, "connections/prod", time.Second, func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)

	_, held := locker.holders["connections/prod"]
	require.False(t, held)
}

func TestWithLock_DeniesWhenAlreadyHeld(t *testing.T) {
	locker := newFakeLocker()
	_, acquired, err := locker.Acquire(context.Background(), "connections/prod", time.Second)
	require.NoError(t, err)
	require.True(t, acquired)

	err = agent.WithLock(context.Background(), locker, "connections/prod", time.Second, func(ctx context.Context) error {
		t.Fatal("fn should not run when lock is already held")
		return nil
	})
	require.Error(t, err)
}
