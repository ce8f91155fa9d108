// Package state implements the pluggable persistence backend behind
// pkg/agent's CheckpointStore: an in-memory backend good enough for tests
// and single-process runs, and a PersistenceBackend seam a durable
// implementation (Postgres, Redis, ...) can fill in without pkg/agent ever
// changing. Entries are opaque byte blobs — the checkpoint domain owns
// encoding (JSON) and key shape ("agent-checkpoint:<id>:<step>"); this
// package only stores, lists by prefix, and expires what it's handed.
package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrNotFound = errors.New("key not found")

// PersistenceBackend is the minimal contract CheckpointStore needs from a
// key/value store: save, load, delete, and prefix-scan (to reconstruct
// every checkpoint recorded for one agent run).
type PersistenceBackend interface {
	Save(ctx context.Context, key string, data []byte) error
	Load(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Close(ctx context.Context) error
}

type memoryEntry struct {
	data    []byte
	savedAt time.Time
}

// MemoryBackend is an in-process PersistenceBackend. When sweepInterval is
// positive, a background goroutine evicts entries older than
// sweepInterval on each tick — checkpoints for agent runs nobody ever
// resumed shouldn't accumulate forever in a long-lived process. A zero
// sweepInterval disables eviction entirely, the right choice for tests and
// for short-lived demo processes.
type MemoryBackend struct {
	mu            sync.RWMutex
	data          map[string]memoryEntry
	sweepInterval time.Duration
	timer         *time.Timer
	done          chan struct{}
}

func NewMemoryBackend(sweepInterval time.Duration) *MemoryBackend {
	mb := &MemoryBackend{
		data:          make(map[string]memoryEntry),
		sweepInterval: sweepInterval,
		done:          make(chan struct{}),
	}
	if sweepInterval > 0 {
		mb.timer = time.NewTimer(sweepInterval)
		go mb.cleanupLoop(sweepInterval)
	}
	return mb
}

func (m *MemoryBackend) cleanupLoop(interval time.Duration) {
	for {
		select {
		case <-m.timer.C:
			m.evictExpired(interval)
			m.timer.Reset(interval)
		case <-m.done:
			m.timer.Stop()
			return
		}
	}
}

func (m *MemoryBackend) evictExpired(ttl time.Duration) {
	cutoff := time.Now().Add(-ttl)
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, entry := range m.data {
		if entry.savedAt.Before(cutoff) {
			delete(m.data, key)
		}
	}
}

func (m *MemoryBackend) Save(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = memoryEntry{data: data, savedAt: time.Now()}
	return nil
}

func (m *MemoryBackend) Load(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return entry.data, nil
}

func (m *MemoryBackend) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryBackend) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *MemoryBackend) Close(ctx context.Context) error {
	close(m.done)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]memoryEntry)
	return nil
}

// PersistentState layers a key prefix, a max-entry-size guard, and
// change-notification hooks over a PersistenceBackend.
type PersistentState struct {
	mu        sync.RWMutex
	backend   PersistenceBackend
	keyPrefix string
	maxSize   int
	onChange  []func(key string, oldValue, newValue []byte)
}

// StateConfig configures a PersistentState.
type StateConfig struct {
	Backend       PersistenceBackend
	KeyPrefix     string
	MaxSize       int
	OnChangeHooks []func(key string, oldValue, newValue []byte)
}

func DefaultConfig() StateConfig {
	return StateConfig{
		Backend:       NewMemoryBackend(5 * time.Minute),
		KeyPrefix:     "state:",
		MaxSize:       1024 * 1024,
		OnChangeHooks: nil,
	}
}

func NewPersistentState(cfg StateConfig) (*PersistentState, error) {
	if cfg.Backend == nil {
		return nil, errors.New("backend is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "state:"
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1024 * 1024
	}
	return &PersistentState{
		backend:   cfg.Backend,
		keyPrefix: cfg.KeyPrefix,
		maxSize:   cfg.MaxSize,
		onChange:  cfg.OnChangeHooks,
	}, nil
}

func (s *PersistentState) Save(ctx context.Context, key string, data []byte) error {
	if len(data) > s.maxSize {
		return fmt.Errorf("data size %d exceeds max size %d", len(data), s.maxSize)
	}

	fullKey := s.keyPrefix + key
	var oldValue []byte

	s.mu.Lock()
	defer s.mu.Unlock()

	if oldVal, err := s.backend.Load(ctx, fullKey); err == nil {
		oldValue = oldVal
	}

	if err := s.backend.Save(ctx, fullKey, data); err != nil {
		return fmt.Errorf("save failed: %w", err)
	}

	for _, hook := range s.onChange {
		go hook(key, oldValue, data)
	}

	return nil
}

func (s *PersistentState) Load(ctx context.Context, key string) ([]byte, error) {
	fullKey := s.keyPrefix + key
	return s.backend.Load(ctx, fullKey)
}

func (s *PersistentState) Delete(ctx context.Context, key string) error {
	fullKey := s.keyPrefix + key
	return s.backend.Delete(ctx, fullKey)
}

func (s *PersistentState) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := s.keyPrefix + prefix
	return s.backend.List(ctx, fullPrefix)
}

func (s *PersistentState) SaveIfAbsent(ctx context.Context, key string, data []byte) (bool, error) {
	fullKey := s.keyPrefix + key

	s.mu.RLock()
	exists, err := s.backend.Load(ctx, fullKey)
	s.mu.RUnlock()

	if err == nil && exists != nil {
		return false, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return false, err
	}

	return true, s.Save(ctx, key, data)
}

func (s *PersistentState) CompareAndSwap(ctx context.Context, key string, oldData, newData []byte) (bool, error) {
	fullKey := s.keyPrefix + key

	s.mu.Lock()
	defer s.mu.Unlock()

	currentData, err := s.backend.Load(ctx, fullKey)
	if err != nil {
		return false, err
	}

	if string(currentData) != string(oldData) {
		return false, nil
	}

	if err := s.backend.Save(ctx, fullKey, newData); err != nil {
		return false, err
	}

	for _, hook := range s.onChange {
		go hook(key, oldData, newData)
	}

	return true, nil
}

func (s *PersistentState) OnChange(fn func(key string, oldValue, newValue []byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

func (s *PersistentState) Close(ctx context.Context) error {
	return s.backend.Close(ctx)
}

type Snapshot struct {
	Timestamp time.Time
	Data      map[string][]byte
}

func (s *PersistentState) Snapshot(ctx context.Context) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys, err := s.backend.List(ctx, s.keyPrefix)
	if err != nil {
		return nil, err
	}

	snapshot := &Snapshot{
		Timestamp: time.Now(),
		Data:      make(map[string][]byte),
	}

	for _, key := range keys {
		data, err := s.backend.Load(ctx, key)
		if err != nil {
			continue
		}
		relKey := key[len(s.keyPrefix):]
		snapshot.Data[relKey] = data
	}

	return snapshot, nil
}
