// Package bus implements the Event Bus from spec.md §4.A: subscribe/
// publish with wildcard topics, per-topic FIFO delivery from a single
// producer, and handler failures that are logged but never propagate to
// the publisher.
package bus

import (
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Message is one published event.
type Message struct {
	Topic   string
	Payload any
	Source  string
}

// Handler processes one delivered Message.
type Handler func(Message)

// Bus is an in-process, concurrency-safe publish/subscribe broker.
// Handlers for a topic run on the bus's own goroutine per subscriber, each
// fed a private ordered channel, so a slow subscriber never blocks
// publish() nor other subscribers.
type Bus struct {
	logger *zap.Logger

	mu   sync.RWMutex
	subs map[int64]*subscription

	nextID int64
}

type subscription struct {
	pattern string
	handler Handler
	ch      chan Message
	done    chan struct{}
}

// New builds a Bus. A nil logger is replaced with a no-op logger.
func New(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{logger: logger, subs: make(map[int64]*subscription)}
}

// Subscribe registers handler for pattern (an exact topic, or a wildcard
// like "connection.*" matching any topic sharing the "connection" prefix
// segment). Returns an id usable with Unsubscribe.
func (b *Bus) Subscribe(pattern string, handler Handler) int64 {
	id := atomic.AddInt64(&b.nextID, 1)
	sub := &subscription{
		pattern: pattern,
		handler: handler,
		ch:      make(chan Message, 256),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	go b.deliverLoop(sub)
	return id
}

func (b *Bus) deliverLoop(sub *subscription) {
	for {
		select {
		case msg, ok := <-sub.ch:
			if !ok {
				return
			}
			b.invoke(sub, msg)
		case <-sub.done:
			return
		}
	}
}

func (b *Bus) invoke(sub *subscription, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event bus handler panicked",
				zap.String("topic", msg.Topic), zap.Any("recovered", r))
		}
	}()
	sub.handler(msg)
}

// Unsubscribe removes the subscription with id. Idempotent: unsubscribing
// twice, or an unknown id, is a no-op.
func (b *Bus) Unsubscribe(id int64) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()

	if ok {
		close(sub.done)
	}
}

// Publish delivers payload to every subscriber whose pattern matches
// topic. Delivery to each subscriber is FIFO per-topic from this call;
// Publish itself never blocks on handler execution.
func (b *Bus) Publish(topic string, payload any, source string) {
	msg := Message{Topic: topic, Payload: payload, Source: source}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if !matches(sub.pattern, topic) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			// Subscriber's buffer is full; drop rather than block the
			// publisher, and note it so operators can size buffers.
			b.logger.Warn("event bus subscriber buffer full, dropping message",
				zap.String("topic", topic))
		}
	}
}

// matches reports whether pattern matches topic. A pattern ending in ".*"
// matches any topic sharing its dot-separated prefix; the bare pattern "*"
// matches every topic; any other pattern must match topic exactly.
func matches(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(topic, prefix)
	}
	if pattern == "*" {
		return true
	}
	return false
}
