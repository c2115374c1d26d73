// Package eventbus dispatches embedg's domain events (deliveries, webhook
// creation, interaction outcomes, saved-message changes, lifecycle) to the
// metrics collectors and any other in-process subscriber.
//
// Delivery is synchronous on the publishing goroutine, so a subscriber sees
// the events of one request in the order the services emitted them.
package eventbus

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/embedg/embedg/pkg/domain"
	"github.com/embedg/embedg/pkg/logger"
)

// routes is an immutable subscription snapshot. Subscribing swaps in a new
// one, so Publish never takes a lock.
type routes struct {
	typed  map[domain.EventType][]domain.EventHandler
	all    []domain.EventHandler
	closed bool
}

type Bus struct {
	mu      sync.Mutex // serializes writers
	current atomic.Pointer[routes]
}

func New() *Bus {
	b := &Bus{}
	b.current.Store(&routes{typed: map[domain.EventType][]domain.EventHandler{}})
	return b
}

// Publish runs the handlers of the event's type, then the catch-all
// handlers. A panicking handler is logged and skipped.
func (b *Bus) Publish(event domain.Event) {
	r := b.current.Load()
	if r.closed {
		return
	}
	for _, h := range r.typed[event.EventType()] {
		dispatch(h, event)
	}
	for _, h := range r.all {
		dispatch(h, event)
	}
}

func dispatch(h domain.EventHandler, event domain.Event) {
	defer func() {
		if p := recover(); p != nil {
			logger.ErrorCF("eventbus", "Event handler panicked", map[string]interface{}{
				"event":        string(event.EventType()),
				"aggregate_id": string(event.AggregateID()),
				"panic":        fmt.Sprint(p),
			})
		}
	}()
	h(event)
}

func (b *Bus) Subscribe(eventType domain.EventType, h domain.EventHandler) {
	b.update(func(next *routes) {
		next.typed[eventType] = append(next.typed[eventType], h)
	})
}

func (b *Bus) SubscribeAll(h domain.EventHandler) {
	b.update(func(next *routes) { next.all = append(next.all, h) })
}

// Close stops dispatch; events published afterwards are dropped.
func (b *Bus) Close() {
	b.update(func(next *routes) { next.closed = true })
}

// HandlerCount is the number of registered handlers.
func (b *Bus) HandlerCount() int {
	r := b.current.Load()
	n := len(r.all)
	for _, hs := range r.typed {
		n += len(hs)
	}
	return n
}

func (b *Bus) update(mutate func(*routes)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cur := b.current.Load()
	next := &routes{
		typed:  make(map[domain.EventType][]domain.EventHandler, len(cur.typed)),
		all:    append([]domain.EventHandler(nil), cur.all...),
		closed: cur.closed,
	}
	for t, hs := range cur.typed {
		next.typed[t] = append([]domain.EventHandler(nil), hs...)
	}
	mutate(next)
	b.current.Store(next)
}

var _ domain.EventBus = (*Bus)(nil)
