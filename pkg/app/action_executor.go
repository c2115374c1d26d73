package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/embedg/embedg/pkg/domain"
	"github.com/embedg/embedg/pkg/domain/action"
	"github.com/embedg/embedg/pkg/domain/savedmsg"
	"github.com/embedg/embedg/pkg/logger"
	"github.com/embedg/embedg/pkg/platform"
)

// ---------------------------------------------------------------------------
// Action executor
// ---------------------------------------------------------------------------

// ActionExecutor runs parsed actions in order under an authorization context.
type ActionExecutor struct {
	client   platform.Client
	cache    platform.Cache
	saved    savedmsg.Repository
	eventBus domain.EventBus
}

// NewActionExecutor creates the executor.
func NewActionExecutor(client platform.Client, cache platform.Cache, saved savedmsg.Repository, eventBus domain.EventBus) *ActionExecutor {
	return &ActionExecutor{
		client:   client,
		cache:    cache,
		saved:    saved,
		eventBus: eventBus,
	}
}

// Execute authorizes and runs each action. The first denial is sent to the
// user and ends the batch.
func (e *ActionExecutor) Execute(ctx context.Context, i *discordgo.Interaction, actions []action.Action, authCtx action.Context) error {
	env := action.Env{
		Roles:         platform.GuildRoles{Cache: e.cache, GuildID: i.GuildID},
		SavedMessages: e.saved,
	}

	for _, a := range actions {
		denial, err := action.Authorize(ctx, authCtx, a, env)
		if err != nil {
			return domain.ErrStorage.Wrap(fmt.Errorf("authorize %s: %w", a.Name(), err))
		}
		if denial != action.Allowed {
			e.publish(domain.EventInteractionDenied, i, a, string(denial))
			return respondText(ctx, e.client, i, string(denial))
		}

		switch a := a.(type) {
		case action.Unknown:
			continue
		case action.RespondWithSavedMessage:
			err = e.respondWithSavedMessage(ctx, i, a)
		case action.RoleToggle:
			err = e.toggleRole(ctx, i, a)
		}
		if err != nil {
			return err
		}
		e.publish(domain.EventActionExecuted, i, a, "")
	}
	return nil
}

func (e *ActionExecutor) respondWithSavedMessage(ctx context.Context, i *discordgo.Interaction, a action.RespondWithSavedMessage) error {
	msg, err := e.saved.FindByID(ctx, a.SavedMessageID)
	if errors.Is(err, savedmsg.ErrNotFound) {
		return respondText(ctx, e.client, i, "Response message not found")
	}
	if err != nil {
		return domain.ErrStorage.Wrap(fmt.Errorf("load saved message: %w", err))
	}

	p, err := msg.Payload()
	if err != nil {
		return respondText(ctx, e.client, i, "Invalid response message")
	}
	p = platform.InteractionVariables(i, e.cache).Expand(p)

	responseType := discordgo.InteractionResponseChannelMessageWithSource
	if a.Flags.Has(action.FlagEdit) {
		responseType = discordgo.InteractionResponseUpdateMessage
	}
	err = e.client.RespondInteraction(ctx, i, &discordgo.InteractionResponse{
		Type: responseType,
		Data: platform.ToResponseData(p, discordgo.MessageFlagsEphemeral),
	})
	if err != nil {
		return domain.ErrPlatform.Wrap(fmt.Errorf("respond with saved message: %w", err))
	}
	return nil
}

func (e *ActionExecutor) toggleRole(ctx context.Context, i *discordgo.Interaction, a action.RoleToggle) error {
	member := i.Member
	if member == nil || member.User == nil || i.GuildID == "" {
		return nil
	}

	if hasRole(member.Roles, a.RoleID) {
		if err := e.client.RemoveMemberRole(ctx, i.GuildID, member.User.ID, a.RoleID); err != nil {
			logger.WarnCF("actions", "Role removal failed", map[string]interface{}{
				"guild_id": i.GuildID,
				"role_id":  a.RoleID,
				"error":    err,
			})
			return respondText(ctx, e.client, i, "Failed to remove role. Does the bot have permissions to remove this role?")
		}
		return respondText(ctx, e.client, i, fmt.Sprintf("You no longer have the <@&%s> role", a.RoleID))
	}

	if err := e.client.AddMemberRole(ctx, i.GuildID, member.User.ID, a.RoleID); err != nil {
		logger.WarnCF("actions", "Role assignment failed", map[string]interface{}{
			"guild_id": i.GuildID,
			"role_id":  a.RoleID,
			"error":    err,
		})
		return respondText(ctx, e.client, i, "Failed to add role. Does the bot have permissions to add this role?")
	}
	return respondText(ctx, e.client, i, fmt.Sprintf("You now have the <@&%s> role", a.RoleID))
}

func (e *ActionExecutor) publish(eventType domain.EventType, i *discordgo.Interaction, a action.Action, reason string) {
	var messageID string
	if i.Message != nil {
		messageID = i.Message.ID
	}
	e.eventBus.Publish(domain.NewEvent(eventType, domain.EntityID(messageID), domain.InteractionOutcome{
		MessageID: messageID,
		UserID:    interactionUserID(i),
		Action:    a.Name(),
		Reason:    reason,
	}))
}

func hasRole(roles []string, roleID string) bool {
	for _, r := range roles {
		if r == roleID {
			return true
		}
	}
	return false
}
