// Package platformtest provides in-memory doubles of the platform
// interfaces for service tests.
package platformtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/embedg/embedg/pkg/domain/message"
	"github.com/embedg/embedg/pkg/platform"
)

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Sent records one execute or edit call.
type Sent struct {
	Webhook   platform.Credentials
	ThreadID  string
	MessageID string
	Edit      bool
	Payload   message.Payload
}

// Response records one interaction response or followup edit.
type Response struct {
	Type       discordgo.InteractionResponseType
	Data       *discordgo.InteractionResponseData
	FollowupOf string
	Edit       *discordgo.WebhookEdit
}

// Client is a scripted platform.Client. Set the *Err fields to make the
// matching calls fail.
type Client struct {
	mu sync.Mutex

	Webhooks map[string][]platform.Webhook // by channel
	Members  map[string]*discordgo.Member  // by guild+"/"+user

	ListErr, CreateErr, SendErr, RespondErr, RoleErr, MemberErr error

	ListCalls   int
	Created     []platform.Webhook
	Sent        []Sent
	Responses   []Response
	RoleChanges []string // "+role" or "-role"

	nextID int
	// Now stamps sent messages.
	Now time.Time
	// AuthorID is the author of messages returned by execute/edit.
	AuthorID string
}

func NewClient() *Client {
	return &Client{
		Webhooks: map[string][]platform.Webhook{},
		Members:  map[string]*discordgo.Member{},
		Now:      time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		AuthorID: "bot",
	}
}

func (c *Client) id(prefix string) string {
	c.nextID++
	return fmt.Sprintf("%s%d", prefix, c.nextID)
}

func (c *Client) ChannelWebhooks(_ context.Context, channelID string) ([]platform.Webhook, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ListCalls++
	if c.ListErr != nil {
		return nil, c.ListErr
	}
	return append([]platform.Webhook(nil), c.Webhooks[channelID]...), nil
}

func (c *Client) CreateWebhook(_ context.Context, channelID, name, avatar string) (platform.Webhook, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.CreateErr != nil {
		return platform.Webhook{}, c.CreateErr
	}
	if len(c.Webhooks[channelID]) >= platform.MaxWebhooksPerChannel {
		return platform.Webhook{}, fmt.Errorf("maximum number of webhooks reached")
	}
	h := platform.Webhook{ID: c.id("wh"), Token: "token", ApplicationID: AppID, ChannelID: channelID}
	c.Webhooks[channelID] = append(c.Webhooks[channelID], h)
	c.Created = append(c.Created, h)
	return h, nil
}

// AppID is the application id of webhooks the fake creates.
const AppID = "app"

func (c *Client) ExecuteWebhook(_ context.Context, wh platform.Credentials, threadID string, p message.Payload) (*discordgo.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return nil, c.SendErr
	}
	id := c.id("msg")
	c.Sent = append(c.Sent, Sent{Webhook: wh, ThreadID: threadID, MessageID: id, Payload: p})
	return c.message(id, p), nil
}

func (c *Client) EditWebhookMessage(_ context.Context, wh platform.Credentials, threadID, messageID string, p message.Payload) (*discordgo.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return nil, c.SendErr
	}
	c.Sent = append(c.Sent, Sent{Webhook: wh, ThreadID: threadID, MessageID: messageID, Edit: true, Payload: p})
	return c.message(messageID, p), nil
}

func (c *Client) message(id string, p message.Payload) *discordgo.Message {
	return &discordgo.Message{
		ID:         id,
		Content:    p.Content,
		Embeds:     platform.ToEmbeds(p.Embeds),
		Components: platform.ToComponents(p.Components),
		Timestamp:  c.Now,
		Author:     &discordgo.User{ID: c.AuthorID, Bot: true},
	}
}

func (c *Client) RespondInteraction(_ context.Context, _ *discordgo.Interaction, resp *discordgo.InteractionResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.RespondErr != nil {
		return c.RespondErr
	}
	c.Responses = append(c.Responses, Response{Type: resp.Type, Data: resp.Data})
	return nil
}

func (c *Client) EditFollowup(_ context.Context, _ *discordgo.Interaction, messageID string, edit *discordgo.WebhookEdit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Responses = append(c.Responses, Response{FollowupOf: messageID, Edit: edit})
	return nil
}

func (c *Client) GuildMember(_ context.Context, guildID, userID string) (*discordgo.Member, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.MemberErr != nil {
		return nil, c.MemberErr
	}
	m, ok := c.Members[guildID+"/"+userID]
	if !ok {
		return nil, fmt.Errorf("unknown member %s", userID)
	}
	return m, nil
}

func (c *Client) AddMemberRole(_ context.Context, guildID, userID, roleID string) error {
	return c.changeRole(guildID, userID, roleID, true)
}

func (c *Client) RemoveMemberRole(_ context.Context, guildID, userID, roleID string) error {
	return c.changeRole(guildID, userID, roleID, false)
}

func (c *Client) changeRole(guildID, userID, roleID string, add bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.RoleErr != nil {
		return c.RoleErr
	}
	if add {
		c.RoleChanges = append(c.RoleChanges, "+"+roleID)
	} else {
		c.RoleChanges = append(c.RoleChanges, "-"+roleID)
	}
	if m, ok := c.Members[guildID+"/"+userID]; ok {
		m.Roles = toggled(m.Roles, roleID, add)
	}
	return nil
}

func toggled(roles []string, roleID string, add bool) []string {
	out := make([]string, 0, len(roles)+1)
	for _, r := range roles {
		if r != roleID {
			out = append(out, r)
		}
	}
	if add {
		out = append(out, roleID)
	}
	return out
}

// LastResponse returns the most recent interaction response.
func (c *Client) LastResponse() (Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Responses) == 0 {
		return Response{}, false
	}
	return c.Responses[len(c.Responses)-1], true
}

var _ platform.Client = (*Client)(nil)

// ---------------------------------------------------------------------------
// Cache
// ---------------------------------------------------------------------------

// Cache is a map-backed platform.Cache.
type Cache struct {
	Channels map[string]*discordgo.Channel
	Guilds   map[string]*discordgo.Guild
	Members  map[string]*discordgo.Member // guild+"/"+user
}

func NewCache() *Cache {
	return &Cache{
		Channels: map[string]*discordgo.Channel{},
		Guilds:   map[string]*discordgo.Guild{},
		Members:  map[string]*discordgo.Member{},
	}
}

func (c *Cache) Channel(id string) (*discordgo.Channel, bool) {
	ch, ok := c.Channels[id]
	return ch, ok
}

func (c *Cache) Guild(id string) (*discordgo.Guild, bool) {
	g, ok := c.Guilds[id]
	return g, ok
}

func (c *Cache) Role(guildID, roleID string) (*discordgo.Role, bool) {
	g, ok := c.Guilds[guildID]
	if !ok {
		return nil, false
	}
	for _, r := range g.Roles {
		if r.ID == roleID {
			return r, true
		}
	}
	return nil, false
}

func (c *Cache) Member(guildID, userID string) (*discordgo.Member, bool) {
	m, ok := c.Members[guildID+"/"+userID]
	return m, ok
}

var _ platform.Cache = (*Cache)(nil)

// ---------------------------------------------------------------------------
// KV
// ---------------------------------------------------------------------------

// KV is an unbounded map-backed platform.KV.
type KV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewKV() *KV { return &KV{data: map[string][]byte{}} }

func (k *KV) Get(_ context.Context, key string) ([]byte, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.data[key]
	return v, ok, nil
}

func (k *KV) Set(_ context.Context, key string, value []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.data[key] = value
	return nil
}

func (k *KV) Delete(_ context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.data, key)
	return nil
}

var _ platform.KV = (*KV)(nil)
