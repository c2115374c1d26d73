package app

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/embedg/embedg/pkg/domain"
	"github.com/embedg/embedg/pkg/domain/message"
	"github.com/embedg/embedg/pkg/domain/provenance"
	"github.com/embedg/embedg/pkg/logger"
	"github.com/embedg/embedg/pkg/platform"
)

// ---------------------------------------------------------------------------
// Send targets
// ---------------------------------------------------------------------------

// SendTarget is either a WebhookTarget or a ChannelTarget.
type SendTarget interface {
	isSendTarget()
}

// WebhookTarget sends through credentials the user supplied. Components are
// stripped and no provenance is recorded.
type WebhookTarget struct {
	WebhookID string
	Token     string
	ThreadID  string
	// MessageID selects an edit of an existing message.
	MessageID string
}

// ChannelTarget sends through the bot's own webhook in the channel.
type ChannelTarget struct {
	GuildID   string
	ChannelID string
	MessageID string
}

func (WebhookTarget) isSendTarget() {}
func (ChannelTarget) isSendTarget() {}

// SendRequest is one send or edit on behalf of UserID.
type SendRequest struct {
	UserID      string
	Target      SendTarget
	Payload     message.Payload
	Attachments []message.Attachment
}

// ---------------------------------------------------------------------------
// Delivery application service
// ---------------------------------------------------------------------------

// DeliveryService routes messages to Discord and records their provenance.
type DeliveryService struct {
	client     platform.Client
	cache      platform.Cache
	access     platform.GuildAccess
	webhooks   *platform.WebhookResolver
	provenance provenance.Repository
	eventBus   domain.EventBus
	botID      string
	now        domain.Clock
}

// NewDeliveryService creates the delivery service. botID is the bot's user id.
func NewDeliveryService(
	client platform.Client,
	cache platform.Cache,
	access platform.GuildAccess,
	webhooks *platform.WebhookResolver,
	prov provenance.Repository,
	eventBus domain.EventBus,
	botID string,
	now domain.Clock,
) *DeliveryService {
	if now == nil {
		now = domain.SystemClock
	}
	return &DeliveryService{
		client:     client,
		cache:      cache,
		access:     access,
		webhooks:   webhooks,
		provenance: prov,
		eventBus:   eventBus,
		botID:      botID,
		now:        now,
	}
}

// Send creates or edits a message and returns its id. A delivered message
// whose provenance could not be recorded returns both its id and a storage
// error.
func (s *DeliveryService) Send(ctx context.Context, req SendRequest) (string, error) {
	var (
		id  string
		err error
	)
	switch t := req.Target.(type) {
	case WebhookTarget:
		id, err = s.sendWebhook(ctx, t, req)
	case ChannelTarget:
		id, err = s.sendChannel(ctx, t, req)
	default:
		err = domain.InvalidRequest("unknown target type %T", req.Target)
	}

	if err != nil && id == "" {
		code := domain.CodeMessageSend
		if de, ok := domain.AsError(err); ok {
			code = de.Code
		}
		s.eventBus.Publish(domain.NewEvent(domain.EventMessageFailed, domain.EntityID(id), domain.MessageFailed{
			ChannelID: targetChannel(req.Target),
			Code:      code,
		}))
		logger.WarnCF("delivery", "Send failed", map[string]interface{}{
			"user_id": req.UserID,
			"code":    code,
			"error":   err,
		})
	}
	return id, err
}

func (s *DeliveryService) sendWebhook(ctx context.Context, t WebhookTarget, req SendRequest) (string, error) {
	p := req.Payload.WithoutComponents()
	p.Attachments = req.Attachments
	creds := platform.Credentials{ID: t.WebhookID, Token: t.Token}

	var (
		msg *discordgo.Message
		err error
	)
	if t.MessageID == "" {
		msg, err = s.client.ExecuteWebhook(ctx, creds, t.ThreadID, p)
	} else {
		msg, err = s.client.EditWebhookMessage(ctx, creds, t.ThreadID, t.MessageID, p)
	}
	if err != nil {
		return "", domain.ErrMessageSend.Wrap(err)
	}

	s.publishDelivered(t.MessageID != "", domain.MessageDelivered{
		ThreadID:  t.ThreadID,
		MessageID: msg.ID,
		Direct:    true,
	})
	return msg.ID, nil
}

func (s *DeliveryService) sendChannel(ctx context.Context, t ChannelTarget, req SendRequest) (string, error) {
	ok, err := s.access.HasGuildAccess(ctx, req.UserID, t.GuildID)
	if err != nil {
		return "", domain.ErrPlatform.Wrap(fmt.Errorf("check guild access: %w", err))
	}
	if !ok {
		return "", domain.ErrMissingGuildAccess
	}

	channel, found := s.cache.Channel(t.ChannelID)
	if !found {
		return "", domain.NotFound("channel")
	}
	if channel.GuildID != t.GuildID {
		return "", domain.ErrGuildChannelMismatch
	}
	guild, found := s.cache.Guild(t.GuildID)
	if !found {
		return "", domain.NotFound("guild")
	}

	webhookChannel, threadID, err := s.classify(channel)
	if err != nil {
		return "", err
	}

	author, err := s.checkPermissions(ctx, guild, webhookChannel, req.UserID)
	if err != nil {
		return "", err
	}

	hook, err := s.webhooks.Resolve(ctx, webhookChannel.ID)
	if err != nil {
		return "", err
	}

	vars := platform.ChannelVariables(channel)
	vars.Merge(platform.GuildVariables(guild))
	p := vars.Expand(req.Payload)
	p.Attachments = req.Attachments

	creds := platform.Credentials{ID: hook.ID, Token: hook.Token}
	var msg *discordgo.Message
	if t.MessageID == "" {
		msg, err = s.client.ExecuteWebhook(ctx, creds, threadID, p)
	} else {
		msg, err = s.client.EditWebhookMessage(ctx, creds, threadID, t.MessageID, p)
	}
	if err != nil {
		if platform.IsUnknownWebhook(err) {
			s.webhooks.Invalidate(ctx, webhookChannel.ID)
		}
		return "", domain.ErrMessageSend.Wrap(err)
	}

	now := s.now()
	perr := s.provenance.Upsert(ctx, provenance.Record{
		ChannelID: channel.ID,
		MessageID: msg.ID,
		Hash:      message.Hash(p),
		CreatedAt: now,
		UpdatedAt: now,
		Author:    author,
	})

	s.publishDelivered(t.MessageID != "", domain.MessageDelivered{
		GuildID:   guild.ID,
		ChannelID: channel.ID,
		ThreadID:  threadID,
		MessageID: msg.ID,
	})
	logger.InfoCF("delivery", "Message delivered", map[string]interface{}{
		"guild_id":   guild.ID,
		"channel_id": channel.ID,
		"message_id": msg.ID,
		"edit":       t.MessageID != "",
	})
	if perr != nil {
		logger.ErrorCF("delivery", "Provenance not recorded for delivered message", map[string]interface{}{
			"message_id": msg.ID,
			"error":      perr,
		})
		return msg.ID, domain.ErrStorage.Wrap(fmt.Errorf("record provenance: %w", perr))
	}
	return msg.ID, nil
}

// classify returns the channel owning the webhook and, for threads, the
// thread to post into.
func (s *DeliveryService) classify(ch *discordgo.Channel) (*discordgo.Channel, string, error) {
	switch ch.Type {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews:
		return ch, "", nil
	case discordgo.ChannelTypeGuildPublicThread,
		discordgo.ChannelTypeGuildPrivateThread,
		discordgo.ChannelTypeGuildNewsThread:
		parent, ok := s.cache.Channel(ch.ParentID)
		if !ok {
			return nil, "", domain.NotFound("channel")
		}
		return parent, ch.ID, nil
	default:
		return nil, "", domain.ErrUnsupportedChannelType
	}
}

// checkPermissions requires Manage Webhooks for both the bot and the user in
// channel and returns the user's snapshot.
func (s *DeliveryService) checkPermissions(ctx context.Context, guild *discordgo.Guild, channel *discordgo.Channel, userID string) (*provenance.AuthorSnapshot, error) {
	bot, ok := s.cache.Member(guild.ID, s.botID)
	if !ok {
		return nil, domain.ErrBotMissingChannelAccess
	}
	botPerms := platform.ChannelPermissions(s.cache, guild, channel, s.botID, bot.Roles)
	if !botPerms.Has(domain.PermissionManageWebhooks) {
		return nil, domain.ErrBotMissingChannelAccess
	}

	member, err := s.client.GuildMember(ctx, guild.ID, userID)
	if err != nil {
		if platform.IsNotFound(err) {
			return nil, domain.ErrMissingChannelAccess
		}
		return nil, domain.ErrPlatform.Wrap(fmt.Errorf("fetch member: %w", err))
	}
	perms := platform.ChannelPermissions(s.cache, guild, channel, userID, member.Roles)
	if !perms.Has(domain.PermissionManageWebhooks) {
		return nil, domain.ErrMissingChannelAccess
	}

	return &provenance.AuthorSnapshot{
		UserID:      userID,
		IsOwner:     guild.OwnerID == userID,
		Permissions: perms,
		RoleIDs:     append([]string(nil), member.Roles...),
	}, nil
}

func (s *DeliveryService) publishDelivered(edit bool, payload domain.MessageDelivered) {
	eventType := domain.EventMessageSent
	if edit {
		eventType = domain.EventMessageEdited
	}
	s.eventBus.Publish(domain.NewEvent(eventType, domain.EntityID(payload.MessageID), payload))
}

func targetChannel(t SendTarget) string {
	if c, ok := t.(ChannelTarget); ok {
		return c.ChannelID
	}
	return ""
}

