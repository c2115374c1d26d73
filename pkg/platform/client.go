// Package platform adapts Discord (via discordgo) to the services: REST
// calls, the gateway state cache, channel permission resolution and the
// conversion between message payloads and discordgo types.
package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/bwmarrin/discordgo"

	"github.com/embedg/embedg/pkg/domain/message"
)

// Webhook is a cached delegated endpoint of a channel.
type Webhook struct {
	ID            string `json:"id"`
	Token         string `json:"token"`
	ApplicationID string `json:"application_id,omitempty"`
	ChannelID     string `json:"channel_id"`
}

// Credentials address a webhook for execution.
type Credentials struct {
	ID    string
	Token string
}

// Client is the Discord REST surface the services use.
type Client interface {
	ChannelWebhooks(ctx context.Context, channelID string) ([]Webhook, error)
	CreateWebhook(ctx context.Context, channelID, name, avatar string) (Webhook, error)

	// ExecuteWebhook creates a message and waits for it. threadID may be empty.
	ExecuteWebhook(ctx context.Context, wh Credentials, threadID string, p message.Payload) (*discordgo.Message, error)
	// EditWebhookMessage replaces a message previously sent through wh.
	EditWebhookMessage(ctx context.Context, wh Credentials, threadID, messageID string, p message.Payload) (*discordgo.Message, error)

	RespondInteraction(ctx context.Context, i *discordgo.Interaction, resp *discordgo.InteractionResponse) error
	EditFollowup(ctx context.Context, i *discordgo.Interaction, messageID string, edit *discordgo.WebhookEdit) error

	GuildMember(ctx context.Context, guildID, userID string) (*discordgo.Member, error)
	AddMemberRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveMemberRole(ctx context.Context, guildID, userID, roleID string) error
}

// DiscordClient implements Client on a discordgo session.
type DiscordClient struct {
	s *discordgo.Session
}

// NewDiscordClient wraps s. The session does not need an open gateway.
func NewDiscordClient(s *discordgo.Session) *DiscordClient {
	return &DiscordClient{s: s}
}

func (c *DiscordClient) ChannelWebhooks(ctx context.Context, channelID string) ([]Webhook, error) {
	hooks, err := c.s.ChannelWebhooks(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	out := make([]Webhook, 0, len(hooks))
	for _, h := range hooks {
		out = append(out, webhookFrom(h))
	}
	return out, nil
}

func (c *DiscordClient) CreateWebhook(ctx context.Context, channelID, name, avatar string) (Webhook, error) {
	h, err := c.s.WebhookCreate(channelID, name, avatar, discordgo.WithContext(ctx))
	if err != nil {
		return Webhook{}, err
	}
	return webhookFrom(h), nil
}

func (c *DiscordClient) ExecuteWebhook(ctx context.Context, wh Credentials, threadID string, p message.Payload) (*discordgo.Message, error) {
	params := ToWebhookParams(p)
	if threadID != "" {
		return c.s.WebhookThreadExecute(wh.ID, wh.Token, true, threadID, params, discordgo.WithContext(ctx))
	}
	return c.s.WebhookExecute(wh.ID, wh.Token, true, params, discordgo.WithContext(ctx))
}

func (c *DiscordClient) EditWebhookMessage(ctx context.Context, wh Credentials, threadID, messageID string, p message.Payload) (*discordgo.Message, error) {
	edit := ToWebhookEdit(p)
	if threadID == "" {
		return c.s.WebhookMessageEdit(wh.ID, wh.Token, messageID, edit, discordgo.WithContext(ctx))
	}

	// discordgo has no thread-scoped edit; same request as WebhookMessageEdit
	// plus the thread_id query.
	uri := discordgo.EndpointWebhookMessage(wh.ID, wh.Token, messageID) + "?thread_id=" + url.QueryEscape(threadID)
	var (
		body []byte
		err  error
	)
	if len(edit.Files) > 0 {
		contentType, payload, merr := discordgo.MultipartBodyWithJSON(edit, edit.Files)
		if merr != nil {
			return nil, merr
		}
		body, err = c.s.RequestRaw(http.MethodPatch, uri, contentType, payload, uri, 0, discordgo.WithContext(ctx))
	} else {
		body, err = c.s.RequestWithBucketID(http.MethodPatch, uri, edit, discordgo.EndpointWebhookToken("", ""), discordgo.WithContext(ctx))
	}
	if err != nil {
		return nil, err
	}

	var m *discordgo.Message
	if err := discordgo.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("decode edited message: %w", err)
	}
	return m, nil
}

func (c *DiscordClient) RespondInteraction(ctx context.Context, i *discordgo.Interaction, resp *discordgo.InteractionResponse) error {
	return c.s.InteractionRespond(i, resp, discordgo.WithContext(ctx))
}

func (c *DiscordClient) EditFollowup(ctx context.Context, i *discordgo.Interaction, messageID string, edit *discordgo.WebhookEdit) error {
	_, err := c.s.FollowupMessageEdit(i, messageID, edit, discordgo.WithContext(ctx))
	return err
}

func (c *DiscordClient) GuildMember(ctx context.Context, guildID, userID string) (*discordgo.Member, error) {
	return c.s.GuildMember(guildID, userID, discordgo.WithContext(ctx))
}

func (c *DiscordClient) AddMemberRole(ctx context.Context, guildID, userID, roleID string) error {
	return c.s.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx))
}

func (c *DiscordClient) RemoveMemberRole(ctx context.Context, guildID, userID, roleID string) error {
	return c.s.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx))
}

var _ Client = (*DiscordClient)(nil)

func webhookFrom(h *discordgo.Webhook) Webhook {
	return Webhook{
		ID:            h.ID,
		Token:         h.Token,
		ApplicationID: h.ApplicationID,
		ChannelID:     h.ChannelID,
	}
}

// ---------------------------------------------------------------------------
// Error classification
// ---------------------------------------------------------------------------

// IsUnknownWebhook reports whether err is Discord's "Unknown Webhook" error,
// meaning a cached webhook was deleted.
func IsUnknownWebhook(err error) bool {
	var re *discordgo.RESTError
	if !errors.As(err, &re) {
		return false
	}
	if re.Message != nil && re.Message.Code == discordgo.ErrCodeUnknownWebhook {
		return true
	}
	return re.Response != nil && re.Response.StatusCode == http.StatusNotFound &&
		bytes.Contains(re.ResponseBody, []byte("Unknown Webhook"))
}

// IsNotFound reports whether err is a 404 from Discord.
func IsNotFound(err error) bool {
	var re *discordgo.RESTError
	return errors.As(err, &re) && re.Response != nil && re.Response.StatusCode == http.StatusNotFound
}
