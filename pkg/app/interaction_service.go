package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/embedg/embedg/pkg/domain"
	"github.com/embedg/embedg/pkg/domain/action"
	"github.com/embedg/embedg/pkg/domain/message"
	"github.com/embedg/embedg/pkg/domain/provenance"
	"github.com/embedg/embedg/pkg/logger"
	"github.com/embedg/embedg/pkg/platform"
)

// ---------------------------------------------------------------------------
// Interaction application service
// ---------------------------------------------------------------------------

// InteractionService handles component interactions on delivered messages.
type InteractionService struct {
	client     platform.Client
	cache      platform.Cache
	provenance provenance.Repository
	executor   *ActionExecutor
	eventBus   domain.EventBus
	botID      string
}

// NewInteractionService creates the interaction service. botID is the bot's
// user id, which authors every message sent through its webhooks.
func NewInteractionService(
	client platform.Client,
	cache platform.Cache,
	prov provenance.Repository,
	executor *ActionExecutor,
	eventBus domain.EventBus,
	botID string,
) *InteractionService {
	return &InteractionService{
		client:     client,
		cache:      cache,
		provenance: prov,
		executor:   executor,
		eventBus:   eventBus,
		botID:      botID,
	}
}

// HandleComponent verifies the message i belongs to and runs the component's
// action token. Outcomes the user should see are sent as interaction
// responses; the returned error is for the caller's logs.
func (s *InteractionService) HandleComponent(ctx context.Context, i *discordgo.Interaction) error {
	if i.Type != discordgo.InteractionMessageComponent || i.Message == nil {
		return nil
	}

	data := i.MessageComponentData()
	var token string
	isSelect := false
	switch data.ComponentType {
	case discordgo.ButtonComponent:
		token = data.CustomID
	case discordgo.SelectMenuComponent:
		if len(data.Values) == 0 {
			return nil
		}
		token = data.Values[0]
		isSelect = true
	default:
		return nil
	}

	authCtx, err := s.deriveContext(ctx, i)
	if errors.Is(err, domain.ErrIntegrity) {
		s.eventBus.Publish(domain.NewEvent(domain.EventIntegrityFailed, domain.EntityID(i.Message.ID), domain.InteractionOutcome{
			MessageID: i.Message.ID,
			UserID:    interactionUserID(i),
		}))
		logger.WarnCF("interactions", "Message integrity check failed", map[string]interface{}{
			"message_id": i.Message.ID,
			"channel_id": i.ChannelID,
		})
		return s.respondText(ctx, i, domain.ErrIntegrity.Message)
	}
	if err != nil {
		return err
	}

	if actions := action.Parse(token); len(actions) > 0 {
		err = s.executor.Execute(ctx, i, actions, authCtx)
	} else {
		vars := platform.InteractionVariables(i, s.cache)
		err = s.respondText(ctx, i, vars.ExpandString(token))
	}

	if isSelect {
		s.resetComponents(ctx, i)
	}
	return err
}

func (s *InteractionService) deriveContext(ctx context.Context, i *discordgo.Interaction) (action.Context, error) {
	m := i.Message

	rec, err := s.provenance.FindByMessageID(ctx, m.ID)
	if errors.Is(err, provenance.ErrNotFound) {
		rec, err = nil, nil
	}
	if err != nil {
		return nil, domain.ErrStorage.Wrap(fmt.Errorf("find provenance: %w", err))
	}

	obs := action.Observed{
		Hash:      message.Hash(platform.PayloadFromMessage(m)),
		BotID:     s.botID,
		Timestamp: action.EffectiveTimestamp(m.Timestamp, m.EditedTimestamp),
	}
	if m.Author != nil {
		obs.AuthorID = m.Author.ID
	}
	return action.DeriveContext(rec, obs, platform.GuildRoles{Cache: s.cache, GuildID: i.GuildID})
}

// resetComponents restores the select menu so the same option can be picked
// again.
func (s *InteractionService) resetComponents(ctx context.Context, i *discordgo.Interaction) {
	components := i.Message.Components
	err := s.client.EditFollowup(ctx, i, i.Message.ID, &discordgo.WebhookEdit{Components: &components})
	if err != nil {
		logger.DebugCF("interactions", "Component reset failed", map[string]interface{}{
			"message_id": i.Message.ID,
			"error":      err,
		})
	}
}

func (s *InteractionService) respondText(ctx context.Context, i *discordgo.Interaction, text string) error {
	return respondText(ctx, s.client, i, text)
}

// respondText answers i with an ephemeral text message.
func respondText(ctx context.Context, client platform.Client, i *discordgo.Interaction, text string) error {
	err := client.RespondInteraction(ctx, i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: text,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		return domain.ErrPlatform.Wrap(fmt.Errorf("respond to interaction: %w", err))
	}
	return nil
}

func interactionUserID(i *discordgo.Interaction) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
