// Package cache implements the Semantic Cache from spec.md §4.J:
// at-most-one concurrent builder per key, LRU eviction with TTL layered
// on top, transparent compression above a size threshold, and a
// fail-open contract against an optional external store.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	coreerrors "github.com/dbcore/agentcore/internal/errors"
)

// Builder computes the value for a cache miss.
type Builder func(ctx context.Context) (any, error)

type entry struct {
	value      []byte
	compressed bool
	expiresAt  time.Time
}

// Stats tracks the counters spec.md §4.J requires: hits, misses, entries,
// bytes, compression ratio, and memory savings.
type Stats struct {
	Hits             int64
	Misses           int64
	Entries          int
	Bytes            int64
	CompressionRatio float64 // compressed bytes / original bytes, over entries that were compressed
	MemorySavings    int64   // cumulative bytes saved by compression (original - compressed)
}

// Config configures a Cache.
type Config struct {
	MaxEntries          int
	CompressAboveBytes  int // 0 disables compression
	Store               Store
	Logger              *zap.Logger
}

// Cache is the Semantic Cache. It is safe for concurrent use.
type Cache struct {
	lru     *lru.Cache[string, entry]
	sf      singleflight.Group
	store   Store
	logger  *zap.Logger
	encoder *zstd.Encoder
	decoder *zstd.Decoder

	compressAbove int

	mu               sync.Mutex
	hits, misses     int64
	compressedBytes  int64
	originalBytes    int64
	compressedCount  int64
}

// New builds a Cache per cfg.
func New(cfg Config) (*Cache, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1024
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	backing, err := lru.New[string, entry](cfg.MaxEntries)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindInvalidParams, "cache", "New", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindInvariantViolated, "cache", "New", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindInvariantViolated, "cache", "New", err)
	}

	return &Cache{
		lru:           backing,
		store:         cfg.Store,
		logger:        logger,
		encoder:       enc,
		decoder:       dec,
		compressAbove: cfg.CompressAboveBytes,
	}, nil
}

// GetOrCompute guarantees at-most-one concurrent builder invocation per
// key; concurrent callers sharing a miss window all receive the same
// result, per spec.md §4.J's Contract paragraph.
func (c *Cache) GetOrCompute(ctx context.Context, key string, builder Builder, ttl time.Duration) (any, error) {
	if v, ok := c.lookup(ctx, key); ok {
		c.recordHit()
		return v, nil
	}

	result, err, _ := c.sf.Do(key, func() (any, error) {
		if v, ok := c.lookup(ctx, key); ok {
			return v, nil
		}
		c.recordMiss()

		v, err := builder(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.put(ctx, key, v, ttl); err != nil {
			c.logger.Warn("failed to store cache entry", zap.String("key", key), zap.Error(err))
		}
		return v, nil
	})
	return result, err
}

// lookup checks the in-process LRU first, then the external store if
// configured. A store error is logged and treated as a miss — the cache
// never blocks correctness on external availability.
func (c *Cache) lookup(ctx context.Context, key string) (any, bool) {
	if e, ok := c.lru.Get(key); ok {
		if time.Now().Before(e.expiresAt) {
			v, err := c.decode(e)
			if err == nil {
				return v, true
			}
		}
		c.lru.Remove(key)
	}

	if c.store == nil {
		return nil, false
	}
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache store unreachable, bypassing to builder", zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	c.lru.Add(key, entry{value: raw, expiresAt: time.Now().Add(time.Minute)})
	return v, true
}

func (c *Cache) put(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return coreerrors.Wrap(coreerrors.KindInvalidParams, "cache", "store", err)
	}

	e := entry{value: raw, expiresAt: time.Now().Add(ttl)}
	if c.compressAbove > 0 && len(raw) > c.compressAbove {
		compressed := c.encoder.EncodeAll(raw, nil)
		c.mu.Lock()
		c.originalBytes += int64(len(raw))
		c.compressedBytes += int64(len(compressed))
		c.compressedCount++
		c.mu.Unlock()
		e = entry{value: compressed, compressed: true, expiresAt: e.expiresAt}
	}
	c.lru.Add(key, e)

	if c.store != nil {
		if err := c.store.Set(ctx, key, raw, ttl); err != nil {
			return coreerrors.Wrap(coreerrors.KindCacheUnavailable, "cache", "store", err)
		}
	}
	return nil
}

func (c *Cache) decode(e entry) (any, error) {
	raw := e.value
	if e.compressed {
		decoded, err := c.decoder.DecodeAll(raw, nil)
		if err != nil {
			return nil, err
		}
		raw = decoded
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Invalidate removes key from both the in-process LRU and, if
// configured, the external store.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	c.lru.Remove(key)
	if c.store != nil {
		if err := c.store.Del(ctx, key); err != nil {
			c.logger.Warn("failed to delete cache entry from store", zap.String("key", key), zap.Error(err))
		}
	}
}

func (c *Cache) recordHit() {
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
}

func (c *Cache) recordMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}

// Stats reports the current hit/miss/size/compression counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	ratio := 0.0
	if c.originalBytes > 0 {
		ratio = float64(c.compressedBytes) / float64(c.originalBytes)
	}

	var bytes int64
	for _, key := range c.lru.Keys() {
		if e, ok := c.lru.Peek(key); ok {
			bytes += int64(len(e.value))
		}
	}

	return Stats{
		Hits:             c.hits,
		Misses:           c.misses,
		Entries:          c.lru.Len(),
		Bytes:            bytes,
		CompressionRatio: ratio,
		MemorySavings:    c.originalBytes - c.compressedBytes,
	}
}
