package cache

import (
	"context"
	"time"
)

// Store is the external-backing-store interface spec.md §4.J names
// explicitly: GET/SET/DEL/EXPIRE/DBSIZE. Cache treats a nil Store as
// "in-process only"; a non-nil Store that errors is treated as
// unreachable and bypassed to the builder, per the Failure model
// paragraph — it never blocks correctness on the cache.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	DBSize(ctx context.Context) (int64, error)
}
