// Package bus queues gateway interactions for a fixed pool of workers.
//
// The gateway publishes without blocking; when the queue is full the oldest
// pending interaction is dropped, since Discord stops accepting a response
// three seconds after the click anyway.
package bus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/sync/errgroup"

	"github.com/embedg/embedg/pkg/logger"
)

// Handler processes one interaction.
type Handler func(ctx context.Context, i *discordgo.Interaction) error

type InteractionBus struct {
	queue     chan *discordgo.Interaction
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	dropped   atomic.Int64
}

func NewInteractionBus(size int) *InteractionBus {
	if size <= 0 {
		size = 100
	}
	return &InteractionBus{queue: make(chan *discordgo.Interaction, size)}
}

// Publish enqueues i. It reports false when the bus is closed.
func (b *InteractionBus) Publish(i *discordgo.Interaction) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}

	select {
	case b.queue <- i:
		return true
	default:
	}
	// Full: drop oldest and retry
	select {
	case <-b.queue:
		b.dropped.Add(1)
	default:
	}
	select {
	case b.queue <- i:
	default:
		b.dropped.Add(1)
	}
	return true
}

// Consume blocks for the next interaction. ok is false once ctx is done or
// the bus is closed and drained.
func (b *InteractionBus) Consume(ctx context.Context) (*discordgo.Interaction, bool) {
	select {
	case i, ok := <-b.queue:
		return i, ok
	case <-ctx.Done():
		return nil, false
	}
}

// Dropped is the number of interactions discarded on overflow.
func (b *InteractionBus) Dropped() int64 { return b.dropped.Load() }

// Run consumes with workers goroutines until ctx is done or the bus is
// closed. Handler errors are logged and do not stop the workers.
func (b *InteractionBus) Run(ctx context.Context, workers int, handle Handler) error {
	if workers <= 0 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for {
				i, ok := b.Consume(ctx)
				if !ok {
					return nil
				}
				if err := handle(ctx, i); err != nil {
					logger.WarnCF("bus", "Interaction handling failed", map[string]interface{}{
						"interaction_id": i.ID,
						"error":          err.Error(),
					})
				}
			}
		})
	}
	return g.Wait()
}

func (b *InteractionBus) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
		close(b.queue)
	})
}
