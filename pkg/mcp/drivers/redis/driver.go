// Package redis implements mcp.Driver for a key-value backend using
// go-redis/v8, grounded on the teacher's own redis dependency (used
// elsewhere in the pack for caching). This driver also backs the
// distributed-lock abstraction from spec.md §5 (see Lock).
package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"

	coreerrors "github.com/dbcore/agentcore/internal/errors"
	"github.com/dbcore/agentcore/pkg/mcp"
)

// Driver implements mcp.Driver against one *redis.Client.
type Driver struct {
	addr   string
	client *redis.Client
}

// New builds an unconnected Driver for addr.
func New(addr string) *Driver {
	return &Driver{addr: addr}
}

func (d *Driver) Connect(ctx context.Context) error {
	client := redis.NewClient(&redis.Options{Addr: d.addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return err
	}
	d.client = client
	return nil
}

func (d *Driver) Ping(ctx context.Context) error {
	if d.client == nil {
		return coreerrors.New(coreerrors.KindConnectionFailed, "redis", "Ping", "driver not connected")
	}
	return d.client.Ping(ctx).Err()
}

// Execute interprets query as a command name (GET, SET, DEL, EXPIRE,
// FLUSHALL, FLUSHDB) with params as its arguments, giving redis the same
// Execute(query, params...) shape as SQL backends without ever
// interpolating params into a string.
func (d *Driver) Execute(ctx context.Context, query string, params ...any) (mcp.QueryResult, error) {
	if d.client == nil {
		return mcp.QueryResult{}, coreerrors.New(coreerrors.KindConnectionFailed, "redis", "Execute", "driver not connected")
	}

	args := append([]any{query}, params...)
	cmd := d.client.Do(ctx, args...)
	val, err := cmd.Result()
	if err != nil && err != redis.Nil {
		return mcp.QueryResult{}, coreerrors.Wrap(coreerrors.KindQueryFailed, "redis", "Execute", err)
	}

	return mcp.QueryResult{Columns: []string{"value"}, Rows: [][]any{{fmt.Sprint(val)}}}, nil
}

func (d *Driver) Close(ctx context.Context) error {
	if d.client == nil {
		return nil
	}
	return d.client.Close()
}

// IsRetryable treats redis.Nil (key not found) and context cancellation as
// fatal for the caller to handle directly, and context.DeadlineExceeded
// and connection/timeout-class errors as retryable.
func (d *Driver) IsRetryable(err error) bool {
	if err == nil || err == redis.Nil {
		return false
	}
	return err == context.DeadlineExceeded || isNetworkLike(err)
}

func isNetworkLike(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "i/o timeout") || strings.Contains(msg, "EOF") || strings.Contains(msg, "broken pipe")
}

var _ mcp.Driver = (*Driver)(nil)
