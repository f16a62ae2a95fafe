// Package eventbus fans client lifecycle events out to operator-facing
// observers (status gateway, terminal view, journal) without letting them
// throttle the receive path.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"isaac-client/internal/domain"
)

// DefaultQueueSize is the per-subscriber buffer used by New.
const DefaultQueueSize = 256

type subscription struct {
	id      uint64
	typ     domain.EventType // "" receives every event
	handler domain.EventHandler
	queue   chan queued
	done    chan struct{}
	dropped atomic.Uint64
}

type queued struct {
	ctx   context.Context
	event domain.Event
}

// Bus is an in-process, goroutine-safe event bus. Every subscriber owns a
// bounded queue drained by its own goroutine, so handlers see events in
// publish order and a slow handler never blocks Publish. When a queue is full
// the event is dropped for that subscriber only.
type Bus struct {
	mu        sync.RWMutex
	subs      []*subscription
	nextID    atomic.Uint64
	queueSize int
	logger    *slog.Logger
	closed    atomic.Bool
}

// New creates an event bus with DefaultQueueSize per subscriber.
func New(logger *slog.Logger) *Bus {
	return NewWithQueue(logger, DefaultQueueSize)
}

// NewWithQueue creates an event bus with the given per-subscriber queue size.
func NewWithQueue(logger *slog.Logger, size int) *Bus {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{queueSize: size, logger: logger}
}

// Publish enqueues an event for every matching subscriber and returns
// immediately.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.typ != "" && sub.typ != event.Type {
			continue
		}
		select {
		case sub.queue <- queued{ctx: ctx, event: event}:
		default:
			if sub.dropped.Add(1) == 1 {
				b.logger.Warn("event subscriber lagging, dropping events",
					"subscription", sub.id, "event", string(event.Type))
			}
		}
	}
}

func (b *Bus) drain(sub *subscription) {
	defer close(sub.done)
	for q := range sub.queue {
		b.deliver(sub, q)
	}
}

func (b *Bus) deliver(sub *subscription, q queued) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(q.event.Type),
				"panic", r,
			)
		}
	}()
	sub.handler(q.ctx, q.event)
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	return b.add(eventType, handler)
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	return b.add("", handler)
}

func (b *Bus) add(eventType domain.EventType, handler domain.EventHandler) func() {
	sub := &subscription{
		id:      b.nextID.Add(1),
		typ:     eventType,
		handler: handler,
		queue:   make(chan queued, b.queueSize),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		close(sub.queue)
		close(sub.done)
		return func() {}
	}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	go b.drain(sub)

	var once sync.Once
	return func() {
		once.Do(func() {
			if b.remove(sub.id) {
				close(sub.queue)
			}
		})
	}
}

func (b *Bus) remove(id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Dropped returns the total number of events dropped across subscribers
// because their queues were full.
func (b *Bus) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var n uint64
	for _, s := range b.subs {
		n += s.dropped.Load()
	}
	return n
}

// Close prevents new publishes and waits for queued events to be handled.
// Close is idempotent and safe to call multiple times.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, s := range subs {
		close(s.queue)
	}
	for _, s := range subs {
		<-s.done
	}
}
