package platform_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embedg/embedg/pkg/domain"
	"github.com/embedg/embedg/pkg/domain/message"
	"github.com/embedg/embedg/pkg/platform"
	"github.com/embedg/embedg/pkg/platform/platformtest"
)

// ---------------------------------------------------------------------------
// Permissions
// ---------------------------------------------------------------------------

const (
	manageWebhooks = int64(domain.PermissionManageWebhooks)
	manageRoles    = int64(domain.PermissionManageRoles)
	admin          = int64(domain.PermissionAdministrator)
)

func permCache() (*platformtest.Cache, *discordgo.Guild) {
	c := platformtest.NewCache()
	g := &discordgo.Guild{
		ID:      "g",
		OwnerID: "owner",
		Roles: []*discordgo.Role{
			{ID: "g", Permissions: 0},
			{ID: "mods", Permissions: manageWebhooks},
			{ID: "admins", Permissions: admin},
			{ID: "helpers", Permissions: manageRoles},
		},
	}
	c.Guilds["g"] = g
	return c, g
}

func TestChannelPermissions(t *testing.T) {
	c, g := permCache()

	tests := []struct {
		name       string
		user       string
		roles      []string
		overwrites []*discordgo.PermissionOverwrite
		want       bool
	}{
		{name: "owner", user: "owner", want: true},
		{name: "no roles", user: "u", want: false},
		{name: "role grants", user: "u", roles: []string{"mods"}, want: true},
		{name: "administrator", user: "u", roles: []string{"admins"}, want: true},
		{
			name: "everyone overwrite denies", user: "u", roles: []string{"mods"},
			overwrites: []*discordgo.PermissionOverwrite{{ID: "g", Type: discordgo.PermissionOverwriteTypeRole, Deny: manageWebhooks}},
			want:       false,
		},
		{
			name: "role overwrite allows", user: "u", roles: []string{"helpers"},
			overwrites: []*discordgo.PermissionOverwrite{{ID: "helpers", Type: discordgo.PermissionOverwriteTypeRole, Allow: manageWebhooks}},
			want:       true,
		},
		{
			name: "role allow beats role deny", user: "u", roles: []string{"helpers", "mods"},
			overwrites: []*discordgo.PermissionOverwrite{
				{ID: "mods", Type: discordgo.PermissionOverwriteTypeRole, Deny: manageWebhooks},
				{ID: "helpers", Type: discordgo.PermissionOverwriteTypeRole, Allow: manageWebhooks},
			},
			want: true,
		},
		{
			name: "member overwrite wins", user: "u", roles: []string{"mods"},
			overwrites: []*discordgo.PermissionOverwrite{{ID: "u", Type: discordgo.PermissionOverwriteTypeMember, Deny: manageWebhooks}},
			want:       false,
		},
		{
			name: "overwrite of other role ignored", user: "u",
			overwrites: []*discordgo.PermissionOverwrite{{ID: "mods", Type: discordgo.PermissionOverwriteTypeRole, Allow: manageWebhooks}},
			want:       false,
		},
		{
			name: "administrator ignores overwrites", user: "u", roles: []string{"admins"},
			overwrites: []*discordgo.PermissionOverwrite{{ID: "u", Type: discordgo.PermissionOverwriteTypeMember, Deny: manageWebhooks}},
			want:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := &discordgo.Channel{ID: "c", GuildID: "g", PermissionOverwrites: tt.overwrites}
			perms := platform.ChannelPermissions(c, g, ch, tt.user, tt.roles)
			assert.Equal(t, tt.want, perms.Has(domain.PermissionManageWebhooks))
		})
	}
}

func TestMemberGuildAccess(t *testing.T) {
	c, _ := permCache()
	client := platformtest.NewClient()
	client.Members["g/fetched"] = &discordgo.Member{Roles: []string{"mods"}}
	c.Members["g/cached"] = &discordgo.Member{Roles: []string{"helpers"}}
	access := platform.MemberGuildAccess{Client: client, Cache: c}
	ctx := context.Background()

	ok, err := access.HasGuildAccess(ctx, "owner", "g")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = access.HasGuildAccess(ctx, "fetched", "g")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = access.HasGuildAccess(ctx, "cached", "g")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = access.HasGuildAccess(ctx, "owner", "unknown-guild")
	require.NoError(t, err)
	assert.False(t, ok)

	client.MemberErr = &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusNotFound}}
	ok, err = access.HasGuildAccess(ctx, "stranger", "g")
	require.NoError(t, err)
	assert.False(t, ok)
}

// ---------------------------------------------------------------------------
// Conversion
// ---------------------------------------------------------------------------

func TestPayloadSurvivesDelivery(t *testing.T) {
	p := message.Payload{
		Content:  "hello",
		Username: "not echoed",
		Embeds: []message.Embed{{
			Title: "T", Color: 7, Timestamp: "2024-06-01T12:00:00Z",
			Author:    &message.EmbedAuthor{Name: "A", IconURL: "https://i/a.png"},
			Footer:    &message.EmbedFooter{Text: "F"},
			Image:     &message.EmbedMedia{URL: "https://i/img.png"},
			Thumbnail: &message.EmbedMedia{URL: "https://i/th.png"},
			Fields:    []message.EmbedField{{Name: "n", Value: "v", Inline: true}},
		}},
		Components: []message.ActionRow{{Components: []message.Component{
			{Type: message.ComponentButton, Style: 1, Label: "Go", CustomID: "actions:role=1", Emoji: &message.Emoji{Name: "🎉"}},
			{Type: message.ComponentButton, Style: message.ButtonStyleLink, Label: "Site", URL: "https://example.com"},
		}}, {Components: []message.Component{
			{Type: message.ComponentStringSelect, CustomID: "s", Placeholder: "Pick", Options: []message.SelectOption{
				{Label: "One", Value: "actions:saved=x", Description: "d", Default: true},
			}},
		}}},
	}

	delivered := &discordgo.Message{
		Content:    p.Content,
		Embeds:     platform.ToEmbeds(p.Embeds),
		Components: platform.ToComponents(p.Components),
	}
	// link previews Discord adds must not count
	delivered.Embeds = append(delivered.Embeds, &discordgo.MessageEmbed{Type: discordgo.EmbedTypeLink, URL: "https://example.com"})

	got := platform.PayloadFromMessage(delivered)
	assert.Equal(t, message.Hash(p), message.Hash(got))
}

func TestPayloadFromPointerComponents(t *testing.T) {
	m := &discordgo.Message{Components: []discordgo.MessageComponent{
		&discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			&discordgo.Button{Label: "x", Style: discordgo.PrimaryButton, CustomID: "actions:role=5"},
		}},
	}}
	p := platform.PayloadFromMessage(m)
	require.Len(t, p.Components, 1)
	require.Len(t, p.Components[0].Components, 1)
	assert.Equal(t, "actions:role=5", p.Components[0].Components[0].CustomID)
	assert.Equal(t, message.ComponentButton, p.Components[0].Components[0].Type)
}

func TestToWebhookEditReplacesEverything(t *testing.T) {
	edit := platform.ToWebhookEdit(message.Payload{})
	require.NotNil(t, edit.Content)
	require.NotNil(t, edit.Embeds)
	require.NotNil(t, edit.Components)
	assert.Empty(t, *edit.Embeds)
}

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

func TestInteractionVariables(t *testing.T) {
	c := platformtest.NewCache()
	c.Channels["c"] = &discordgo.Channel{ID: "c", Name: "general", Topic: "chat"}
	c.Guilds["g"] = &discordgo.Guild{ID: "g", Name: "Gophers", MemberCount: 12}

	i := &discordgo.Interaction{
		GuildID:   "g",
		ChannelID: "c",
		Member: &discordgo.Member{
			Nick: "Ali",
			User: &discordgo.User{ID: "42", Username: "alice", GlobalName: "Alice"},
		},
	}
	vars := platform.InteractionVariables(i, c)

	assert.Equal(t, "Ali", vars["user.name"])
	assert.Equal(t, "alice", vars["user.username"])
	assert.Equal(t, "<@42>", vars["user.mention"])
	assert.Equal(t, "general", vars["channel.name"])
	assert.Equal(t, "<#c>", vars["channel.mention"])
	assert.Equal(t, "Gophers", vars["server.name"])
	assert.Equal(t, "12", vars["server.member_count"])
	assert.Equal(t, "", vars["server.icon"])
}

// ---------------------------------------------------------------------------
// Webhook resolution
// ---------------------------------------------------------------------------

func TestResolveReusesOwnedWebhook(t *testing.T) {
	client := platformtest.NewClient()
	client.Webhooks["c"] = []platform.Webhook{
		{ID: "foreign", Token: "t", ApplicationID: "other"},
		{ID: "mine", Token: "t", ApplicationID: platformtest.AppID},
	}
	r := platform.NewWebhookResolver(client, platformtest.NewKV(), nil, platformtest.AppID)

	h, err := r.Resolve(context.Background(), "c")
	require.NoError(t, err)
	assert.Equal(t, "mine", h.ID)
	assert.Empty(t, client.Created)

	// second lookup is served from the cache
	_, err = r.Resolve(context.Background(), "c")
	require.NoError(t, err)
	assert.Equal(t, 1, client.ListCalls)
}

func TestResolveRespectsChannelCap(t *testing.T) {
	client := platformtest.NewClient()
	for i := 0; i < 9; i++ {
		client.Webhooks["c"] = append(client.Webhooks["c"], platform.Webhook{ID: "f", ApplicationID: "other"})
	}
	kv := platformtest.NewKV()
	r := platform.NewWebhookResolver(client, kv, nil, platformtest.AppID)

	h, err := r.Resolve(context.Background(), "c")
	require.NoError(t, err)
	require.Len(t, client.Created, 1)
	assert.Equal(t, client.Created[0].ID, h.ID)
	assert.Len(t, client.Webhooks["c"], 10)

	// A different application at the cap has nothing to reuse.
	other := platform.NewWebhookResolver(client, kv, nil, "someone-else")
	_, err = other.Resolve(context.Background(), "c")
	assert.ErrorIs(t, err, domain.ErrWebhookLimitReached)
}

func TestResolveCollapsesConcurrentCreation(t *testing.T) {
	client := platformtest.NewClient()
	r := platform.NewWebhookResolver(client, platformtest.NewKV(), nil, platformtest.AppID)

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := r.Resolve(context.Background(), "c")
			if err == nil {
				ids[i] = h.ID
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, client.Created, 1)
	for _, id := range ids {
		assert.Equal(t, client.Created[0].ID, id)
	}
}

// gatedClient blocks the first webhook listing until release is closed and
// records the context error it saw.
type gatedClient struct {
	*platformtest.Client
	once    sync.Once
	entered chan struct{}
	release chan struct{}
	seenErr error
}

func (g *gatedClient) ChannelWebhooks(ctx context.Context, channelID string) ([]platform.Webhook, error) {
	first := false
	g.once.Do(func() { first = true; close(g.entered) })
	if first {
		<-g.release
		g.seenErr = ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return g.Client.ChannelWebhooks(ctx, channelID)
}

func TestResolveSurvivesCancelledCaller(t *testing.T) {
	client := &gatedClient{
		Client:  platformtest.NewClient(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	r := platform.NewWebhookResolver(client, platformtest.NewKV(), nil, platformtest.AppID)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.Resolve(ctx, "c")
		firstErr <- err
	}()
	<-client.entered

	second := make(chan error, 1)
	var hook platform.Webhook
	go func() {
		h, err := r.Resolve(context.Background(), "c")
		hook = h
		second <- err
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(client.release)
	require.NoError(t, <-second)
	assert.NoError(t, client.seenErr)
	require.Len(t, client.Created, 1)
	assert.Equal(t, client.Created[0].ID, hook.ID)
}

func TestResolveWrapsPlatformErrors(t *testing.T) {
	client := platformtest.NewClient()
	client.ListErr = errors.New("boom")
	r := platform.NewWebhookResolver(client, platformtest.NewKV(), nil, platformtest.AppID)

	_, err := r.Resolve(context.Background(), "c")
	assert.ErrorIs(t, err, domain.ErrPlatform)
}

func TestInvalidateForcesRefetch(t *testing.T) {
	client := platformtest.NewClient()
	client.Webhooks["c"] = []platform.Webhook{{ID: "mine", Token: "t", ApplicationID: platformtest.AppID}}
	r := platform.NewWebhookResolver(client, platformtest.NewKV(), nil, platformtest.AppID)
	ctx := context.Background()

	_, err := r.Resolve(ctx, "c")
	require.NoError(t, err)
	r.Invalidate(ctx, "c")
	_, err = r.Resolve(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 2, client.ListCalls)
}

func TestIsUnknownWebhook(t *testing.T) {
	unknown := &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusNotFound},
		Message:  &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownWebhook, Message: "Unknown Webhook"},
	}
	assert.True(t, platform.IsUnknownWebhook(unknown))
	assert.True(t, platform.IsNotFound(unknown))
	assert.False(t, platform.IsUnknownWebhook(errors.New("Unknown Webhook")))
}

func TestWebhookAvatarIsDataURL(t *testing.T) {
	assert.Contains(t, platform.WebhookAvatar, "data:image/png;base64,")
}

// ---------------------------------------------------------------------------
// REST client
// ---------------------------------------------------------------------------

func TestEditWebhookMessageInThread(t *testing.T) {
	var gotMethod, gotPath, gotThread string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath, gotThread = r.Method, r.URL.Path, r.URL.Query().Get("thread_id")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"m1","channel_id":"t","content":"edited"}`))
	}))
	defer srv.Close()

	prev := discordgo.EndpointWebhooks
	discordgo.EndpointWebhooks = srv.URL + "/webhooks/"
	defer func() { discordgo.EndpointWebhooks = prev }()

	s, err := discordgo.New("Bot test")
	require.NoError(t, err)
	c := platform.NewDiscordClient(s)

	m, err := c.EditWebhookMessage(context.Background(), platform.Credentials{ID: "w1", Token: "tok"}, "t", "m1", message.Payload{Content: "edited"})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPatch, gotMethod)
	assert.Equal(t, "/webhooks/w1/tok/messages/m1", gotPath)
	assert.Equal(t, "t", gotThread)
	assert.Equal(t, "edited", gotBody["content"])
	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, "edited", m.Content)
}
