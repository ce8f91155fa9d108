// Package batch implements the Batcher from spec.md §4.A: accumulate
// inputs, fire the handler when either the size threshold or the time
// window triggers, and flush any partial batch on shutdown.
package batch

import (
	"sync"
	"time"
)

// Handler receives one completed (or flushed-partial) batch.
type Handler[T any] func(items []T)

// Batcher accumulates items of type T and dispatches them to Handler in
// groups bounded by size and time.
type Batcher[T any] struct {
	maxSize int
	window  time.Duration
	handler Handler[T]

	mu      sync.Mutex
	pending []T
	timer   *time.Timer
	closed  bool
	wg      sync.WaitGroup
}

// New constructs a Batcher that fires handler once len(pending) reaches
// maxSize, or window elapses since the first item in the current batch
// was added, whichever comes first.
func New[T any](maxSize int, window time.Duration, handler Handler[T]) *Batcher[T] {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Batcher[T]{maxSize: maxSize, window: window, handler: handler}
}

// Add appends item to the pending batch, firing the handler synchronously
// in the caller's goroutine if this add reaches the size threshold.
func (b *Batcher[T]) Add(item T) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}

	b.pending = append(b.pending, item)
	if len(b.pending) == 1 && b.window > 0 {
		b.timer = time.AfterFunc(b.window, b.flushOnTimer)
	}

	var flushed []T
	if len(b.pending) >= b.maxSize {
		flushed = b.takeLocked()
	}
	b.mu.Unlock()

	if flushed != nil {
		b.handler(flushed)
	}
}

func (b *Batcher[T]) flushOnTimer() {
	b.mu.Lock()
	flushed := b.takeLocked()
	b.mu.Unlock()
	if flushed != nil {
		b.handler(flushed)
	}
}

// takeLocked extracts the current batch and stops any pending timer;
// caller holds b.mu.
func (b *Batcher[T]) takeLocked() []T {
	if len(b.pending) == 0 {
		return nil
	}
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	out := b.pending
	b.pending = nil
	return out
}

// Flush forces dispatch of any partial batch immediately.
func (b *Batcher[T]) Flush() {
	b.mu.Lock()
	flushed := b.takeLocked()
	b.mu.Unlock()
	if flushed != nil {
		b.handler(flushed)
	}
}

// Close flushes any partial batch and prevents further Add calls.
func (b *Batcher[T]) Close() {
	b.mu.Lock()
	b.closed = true
	flushed := b.takeLocked()
	b.mu.Unlock()
	if flushed != nil {
		b.handler(flushed)
	}
}
