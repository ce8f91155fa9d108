package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	coreerrors "github.com/dbcore/agentcore/internal/errors"
)

// Lock is the distributed-lock abstraction from spec.md §5: a keyed
// string resource, a TTL, and an owner token, backed by a pluggable KV
// store — here, Redis via SET NX PX / a Lua-guarded DEL.
type Lock struct {
	client *redis.Client
}

// NewLock wraps an already-connected redis client as a Lock store.
func NewLock(client *redis.Client) *Lock {
	return &Lock{client: client}
}

// Acquire attempts to take resource for ttl, returning a random owner
// token the caller must present to Release. Returns false if already
// held.
func (l *Lock) Acquire(ctx context.Context, resource string, ttl time.Duration) (token string, acquired bool, err error) {
	token = uuid.NewString()
	ok, err := l.client.SetNX(ctx, lockKey(resource), token, ttl).Result()
	if err != nil {
		return "", false, coreerrors.Wrap(coreerrors.KindConnectionFailed, "redis", "Lock.Acquire", err)
	}
	return token, ok, nil
}

// releaseScript only deletes the key if the caller still owns it,
// preventing a caller from releasing a lock whose TTL already expired and
// was re-acquired by someone else.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

// Release drops resource's lock only if token matches the current holder.
func (l *Lock) Release(ctx context.Context, resource, token string) (released bool, err error) {
	res, err := releaseScript.Run(ctx, l.client, []string{lockKey(resource)}, token).Int64()
	if err != nil {
		return false, coreerrors.Wrap(coreerrors.KindConnectionFailed, "redis", "Lock.Release", err)
	}
	return res == 1, nil
}

// Owner returns the current holder's token, or "" if unheld.
func (l *Lock) Owner(ctx context.Context, resource string) (string, error) {
	token, err := l.client.Get(ctx, lockKey(resource)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", coreerrors.Wrap(coreerrors.KindConnectionFailed, "redis", "Lock.Owner", err)
	}
	return token, nil
}

func lockKey(resource string) string { return "lock:" + resource }
