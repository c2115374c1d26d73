// Package discord connects to the Discord gateway and routes message
// component interactions to the interaction service.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/embedg/embedg/pkg/bus"
	"github.com/embedg/embedg/pkg/logger"
)

// Intents needed to keep guilds, channels, roles and members in state.
const Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers

// Session is the part of *discordgo.Session the gateway drives.
type Session interface {
	AddHandler(handler interface{}) func()
	Open() error
	Close() error
}

type Gateway struct {
	session Session
	queue   *bus.InteractionBus
	handle  bus.Handler
	workers int

	removeHandler func()
	cancel        context.CancelFunc
	done          chan struct{}
}

// NewGateway prepares s for interaction delivery. Call Open to connect.
func NewGateway(s Session, handle bus.Handler, workers, queueSize int) *Gateway {
	if ds, ok := s.(*discordgo.Session); ok {
		ds.Identify.Intents = Intents
		ds.StateEnabled = true
		ds.State.TrackMembers = true
		ds.State.TrackRoles = true
		ds.State.TrackChannels = true
		ds.State.TrackThreads = true
	}
	return &Gateway{
		session: s,
		queue:   bus.NewInteractionBus(queueSize),
		handle:  handle,
		workers: workers,
	}
}

// onInteraction is registered with the session. Only component interactions
// are queued; slash commands are served elsewhere.
func (g *Gateway) onInteraction(_ *discordgo.Session, ic *discordgo.InteractionCreate) {
	if ic.Interaction == nil || ic.Type != discordgo.InteractionMessageComponent {
		return
	}
	if !g.queue.Publish(ic.Interaction) {
		logger.DebugCF("discord", "Interaction dropped after shutdown", map[string]interface{}{
			"interaction_id": ic.ID,
		})
	}
}

func (g *Gateway) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	logger.InfoCF("discord", "Gateway ready", map[string]interface{}{
		"user_id": r.User.ID,
		"guilds":  len(r.Guilds),
	})
}

// Open registers handlers, starts the workers and connects.
func (g *Gateway) Open(ctx context.Context) error {
	removeInteraction := g.session.AddHandler(g.onInteraction)
	removeReady := g.session.AddHandler(g.onReady)
	g.removeHandler = func() {
		removeInteraction()
		removeReady()
	}

	ctx, g.cancel = context.WithCancel(ctx)
	g.done = make(chan struct{})
	go func() {
		defer close(g.done)
		g.queue.Run(ctx, g.workers, g.handle)
	}()

	if err := g.session.Open(); err != nil {
		g.Close()
		return fmt.Errorf("open discord gateway: %w", err)
	}
	logger.InfoCF("discord", "Gateway connected", map[string]interface{}{
		"workers": g.workers,
	})
	return nil
}

// Close disconnects and waits for in-flight interactions.
func (g *Gateway) Close() error {
	if g.removeHandler != nil {
		g.removeHandler()
		g.removeHandler = nil
	}
	err := g.session.Close()
	g.queue.Close()
	if g.done != nil {
		<-g.done
		g.cancel()
	}
	if dropped := g.queue.Dropped(); dropped > 0 {
		logger.WarnCF("discord", "Interactions dropped on overflow", map[string]interface{}{
			"count": dropped,
		})
	}
	return err
}
