// Package eventbus implements the typed publish/subscribe registry that
// fans lifecycle events to subscribers on a worker pool (spec.md section 4.3).
//
// Rather than the dynamic, type-erased subscriber table a naive port would
// use, each event kind gets its own explicit, strictly typed subscriber
// list -- the "typed event bus without runtime type erasure" redesign
// spec.md section 9 calls for.
package eventbus

import (
	"sync"

	"github.com/kirillidk/minipgw/internal/logging"
	"github.com/kirillidk/minipgw/internal/workerpool"
)

// SessionCreated is published when an IMSI is admitted (spec.md section 3).
type SessionCreated struct{ IMSI string }

// SessionDeleted is published when a session is removed, via timeout,
// explicit delete, or graceful drain.
type SessionDeleted struct{ IMSI string }

// SessionRejected is published when an admission attempt is refused
// (blacklist hit or duplicate IMSI).
type SessionRejected struct{ IMSI string }

// GracefulShutdown is published once, when a shutdown is requested via the
// HTTP /stop route or a process signal.
type GracefulShutdown struct{}

// Bus dispatches events to per-type subscriber lists via a worker pool.
// Subscriptions are normally made during startup; mu guards the
// per-kind lists so a later Subscribe does not race a concurrent Publish.
type Bus struct {
	pool   *workerpool.Pool
	logger *logging.Logger

	mu sync.Mutex

	onCreated  []func(SessionCreated)
	onDeleted  []func(SessionDeleted)
	onRejected []func(SessionRejected)
	onShutdown []func(GracefulShutdown)
}

// New creates a Bus dispatching onto pool.
func New(pool *workerpool.Pool, logger *logging.Logger) *Bus {
	return &Bus{pool: pool, logger: logger}
}

// SubscribeCreated registers a handler invoked for every SessionCreated event.
func (b *Bus) SubscribeCreated(h func(SessionCreated)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onCreated = append(b.onCreated, h)
}

// SubscribeDeleted registers a handler invoked for every SessionDeleted event.
func (b *Bus) SubscribeDeleted(h func(SessionDeleted)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDeleted = append(b.onDeleted, h)
}

// SubscribeRejected registers a handler invoked for every SessionRejected event.
func (b *Bus) SubscribeRejected(h func(SessionRejected)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onRejected = append(b.onRejected, h)
}

// SubscribeShutdown registers a handler invoked for the GracefulShutdown event.
func (b *Bus) SubscribeShutdown(h func(GracefulShutdown)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onShutdown = append(b.onShutdown, h)
}

// PublishCreated submits one task per SessionCreated subscriber to the pool.
// Handlers run on pool workers, never on the publisher's goroutine; the
// publisher blocks only while the pool's task queue is full. A stopping
// pool causes the publish to be logged and dropped (spec.md section 4.3).
func (b *Bus) PublishCreated(ev SessionCreated) {
	b.mu.Lock()
	handlers := b.onCreated
	b.mu.Unlock()
	for _, h := range handlers {
		b.submit(func() { h(ev) })
	}
}

// PublishDeleted submits one task per SessionDeleted subscriber to the pool.
func (b *Bus) PublishDeleted(ev SessionDeleted) {
	b.mu.Lock()
	handlers := b.onDeleted
	b.mu.Unlock()
	for _, h := range handlers {
		b.submit(func() { h(ev) })
	}
}

// PublishRejected submits one task per SessionRejected subscriber to the pool.
func (b *Bus) PublishRejected(ev SessionRejected) {
	b.mu.Lock()
	handlers := b.onRejected
	b.mu.Unlock()
	for _, h := range handlers {
		b.submit(func() { h(ev) })
	}
}

// PublishShutdown submits one task per GracefulShutdown subscriber to the pool.
func (b *Bus) PublishShutdown(ev GracefulShutdown) {
	b.mu.Lock()
	handlers := b.onShutdown
	b.mu.Unlock()
	for _, h := range handlers {
		b.submit(func() { h(ev) })
	}
}

// submit enqueues task onto the pool, logging and dropping it if the pool
// is no longer accepting work.
func (b *Bus) submit(task func()) {
	if err := b.pool.Enqueue(task); err != nil {
		b.logger.Warning("dropping event dispatch: pool not accepting work", "error", err)
	}
}
