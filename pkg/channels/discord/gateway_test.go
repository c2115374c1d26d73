package discord

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu       sync.Mutex
	handlers []interface{}
	removed  int
	openErr  error
	opened   bool
	closed   bool
}

func (s *fakeSession) AddHandler(h interface{}) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
	return func() {
		s.mu.Lock()
		s.removed++
		s.mu.Unlock()
	}
}

func (s *fakeSession) Open() error {
	s.opened = s.openErr == nil
	return s.openErr
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

func (s *fakeSession) dispatch(ic *discordgo.InteractionCreate) {
	s.mu.Lock()
	handlers := append([]interface{}(nil), s.handlers...)
	s.mu.Unlock()
	for _, h := range handlers {
		if fn, ok := h.(func(*discordgo.Session, *discordgo.InteractionCreate)); ok {
			fn(nil, ic)
		}
	}
}

func TestGatewayRoutesComponentInteractions(t *testing.T) {
	s := &fakeSession{}
	var mu sync.Mutex
	var handled []string
	g := NewGateway(s, func(_ context.Context, i *discordgo.Interaction) error {
		mu.Lock()
		handled = append(handled, i.ID)
		mu.Unlock()
		return nil
	}, 2, 10)

	require.NoError(t, g.Open(context.Background()))
	assert.True(t, s.opened)

	s.dispatch(&discordgo.InteractionCreate{Interaction: &discordgo.Interaction{ID: "click", Type: discordgo.InteractionMessageComponent}})
	s.dispatch(&discordgo.InteractionCreate{Interaction: &discordgo.Interaction{ID: "slash", Type: discordgo.InteractionApplicationCommand}})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, g.Close())
	assert.True(t, s.closed)
	assert.Equal(t, 2, s.removed)
	assert.Equal(t, []string{"click"}, handled)
}

func TestGatewayOpenFailure(t *testing.T) {
	s := &fakeSession{openErr: errors.New("invalid token")}
	g := NewGateway(s, func(context.Context, *discordgo.Interaction) error { return nil }, 1, 1)

	err := g.Open(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid token")
	assert.True(t, s.closed)
}
