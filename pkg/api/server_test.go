package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/embedg/embedg/pkg/app"
	"github.com/embedg/embedg/pkg/config"
	"github.com/embedg/embedg/pkg/domain"
	"github.com/embedg/embedg/pkg/domain/provenance"
	"github.com/embedg/embedg/pkg/infrastructure/eventbus"
	"github.com/embedg/embedg/pkg/infrastructure/persistence"
	"github.com/embedg/embedg/pkg/metrics"
	"github.com/embedg/embedg/pkg/platform"
	"github.com/embedg/embedg/pkg/platform/platformtest"
)

type testEnv struct {
	server    *Server
	handler   http.Handler
	client    *platformtest.Client
	container *app.Container
	prov      *flakyProvenance
	token     string
}

// flakyProvenance fails Upsert while upsertErr is set.
type flakyProvenance struct {
	provenance.Repository
	upsertErr error
}

func (p *flakyProvenance) Upsert(ctx context.Context, rec provenance.Record) error {
	if p.upsertErr != nil {
		return p.upsertErr
	}
	return p.Repository.Upsert(ctx, rec)
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Discord.Token = "t"
	cfg.Discord.ApplicationID = platformtest.AppID
	cfg.API.AllowedOrigins = []string{"https://app.example"}
	if mutate != nil {
		mutate(cfg)
	}

	manage := int64(domain.PermissionManageWebhooks)
	cache := platformtest.NewCache()
	cache.Guilds["1"] = &discordgo.Guild{
		ID: "1", Name: "Guild", OwnerID: "owner",
		Roles: []*discordgo.Role{{ID: "1"}, {ID: "10", Position: 1, Permissions: manage}},
	}
	cache.Channels["c"] = &discordgo.Channel{ID: "c", GuildID: "1", Name: "general", Type: discordgo.ChannelTypeGuildText}
	cache.Channels["other"] = &discordgo.Channel{ID: "other", GuildID: "2", Type: discordgo.ChannelTypeGuildText}
	cache.Channels["full"] = &discordgo.Channel{ID: "full", GuildID: "1", Type: discordgo.ChannelTypeGuildText}
	cache.Members["1/"+platformtest.AppID] = &discordgo.Member{Roles: []string{"10"}}

	client := platformtest.NewClient()
	client.Members["1/u"] = &discordgo.Member{User: &discordgo.User{ID: "u"}, Roles: []string{"10"}}
	client.Members["1/pleb"] = &discordgo.Member{User: &discordgo.User{ID: "pleb"}}
	for i := 0; i < platform.MaxWebhooksPerChannel; i++ {
		client.Webhooks["full"] = append(client.Webhooks["full"], platform.Webhook{ID: "x", ApplicationID: "other"})
	}

	stores, err := persistence.Open(context.Background(), config.StorageConfig{Driver: "file", DataDir: t.TempDir()})
	require.NoError(t, err)

	prov := &flakyProvenance{Repository: stores.Provenance}
	bus := eventbus.New()
	container := app.NewContainer(app.Deps{
		EventBus:      bus,
		Client:        client,
		Cache:         cache,
		Provenance:    prov,
		SavedMessages: stores.SavedMessages,
		WebhookKV:     platformtest.NewKV(),
		SessionKV:     platformtest.NewKV(),
		BotID:         platformtest.AppID,
	})

	reg := prometheus.NewRegistry()
	m := metrics.MustNewMetrics(reg)
	m.Subscribe(bus)

	s := NewServer(Options{
		Config:    cfg,
		Container: container,
		Metrics:   m,
		Gatherer:  reg,
		Ready:     stores.Ping,
		FetchUser: func(context.Context, *oauth2.Token) (*discordgo.User, error) {
			return &discordgo.User{ID: "u", Username: "user"}, nil
		},
	})

	token, err := container.Sessions.Create(context.Background(), "u", "user")
	require.NoError(t, err)

	return &testEnv{server: s, handler: s.Handler(), client: client, container: container, prov: prov, token: token}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(raw))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error errorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error.Code
}

func channelSend(channelID string) map[string]interface{} {
	return map[string]interface{}{
		"target":       map[string]string{"type": "channel", "guild_id": "1", "channel_id": channelID},
		"payload_json": `{"content":"hello {{channel.name}}"}`,
	}
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, nil)
	rec := e.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	e.server.ready = func(context.Context) error { return errors.New("mongo down") }
	rec = e.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestProtectedRoutesNeedSession(t *testing.T) {
	e := newTestEnv(t, nil)

	for _, path := range []string{"/api/saved-messages", "/api/users/@me"} {
		rec := e.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
		assert.Equal(t, domain.CodeUnauthorized, errorCode(t, rec))
	}
	rec := e.do(t, http.MethodPost, "/api/messages/send", "forged", channelSend("c"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSendRoute(t *testing.T) {
	e := newTestEnv(t, nil)

	rec := e.do(t, http.MethodPost, "/api/messages/send", e.token, channelSend("c"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["message_id"])
	require.Len(t, e.client.Sent, 1)
	assert.Equal(t, "hello general", e.client.Sent[0].Payload.Content)
}

func TestSendRouteAttachments(t *testing.T) {
	e := newTestEnv(t, nil)

	body := channelSend("c")
	body["attachments"] = []map[string]string{
		{"name": "../notes 1.txt", "data_url": "data:text/plain;base64,aGVsbG8="},
		{"name": "broken.bin", "data_url": "not a data url"},
	}
	rec := e.do(t, http.MethodPost, "/api/messages/send", e.token, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, e.client.Sent, 1)
	atts := e.client.Sent[0].Payload.Attachments
	require.Len(t, atts, 1)
	assert.Equal(t, "..notes1.txt", atts[0].Name)
	assert.Equal(t, []byte("hello"), atts[0].Data)
}

func TestSendRouteErrors(t *testing.T) {
	tests := []struct {
		name     string
		token    func(e *testEnv) string
		body     map[string]interface{}
		sendErr  error
		wantCode int
		wantErr  string
	}{
		{name: "unknown target", body: map[string]interface{}{"target": map[string]string{"type": "dm"}, "payload_json": "{}"},
			wantCode: http.StatusBadRequest, wantErr: domain.CodeInvalidRequest},
		{name: "bad payload", body: map[string]interface{}{"target": map[string]string{"type": "channel", "guild_id": "1", "channel_id": "c"}, "payload_json": "{"},
			wantCode: http.StatusBadRequest, wantErr: domain.CodeInvalidRequest},
		{name: "unknown channel", body: channelSend("nope"), wantCode: http.StatusNotFound, wantErr: domain.CodeNotFound},
		{name: "mismatch", body: channelSend("other"), wantCode: http.StatusBadRequest, wantErr: domain.CodeGuildChannelMismatch},
		{name: "webhook limit", body: channelSend("full"), wantCode: http.StatusConflict, wantErr: domain.CodeWebhookLimitReached},
		{name: "platform failure", body: channelSend("c"), sendErr: errors.New("discord says no"),
			wantCode: http.StatusBadGateway, wantErr: domain.CodeMessageSend},
		{name: "no guild access", body: channelSend("c"), wantCode: http.StatusForbidden, wantErr: domain.CodeMissingGuildAccess,
			token: func(e *testEnv) string {
				tok, _ := e.container.Sessions.Create(context.Background(), "pleb", "pleb")
				return tok
			}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t, nil)
			e.client.SendErr = tt.sendErr
			token := e.token
			if tt.token != nil {
				token = tt.token(e)
			}

			rec := e.do(t, http.MethodPost, "/api/messages/send", token, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantErr, errorCode(t, rec))
			assert.NotContains(t, rec.Body.String(), "discord says no")
		})
	}
}

func TestSendRouteReportsDeliveredMessageOnStorageFailure(t *testing.T) {
	e := newTestEnv(t, nil)
	e.prov.upsertErr = errors.New("disk full")

	rec := e.do(t, http.MethodPost, "/api/messages/send", e.token, channelSend("c"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body struct {
		Error errorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, e.client.Sent, 1)
	assert.Equal(t, domain.CodeStorage, body.Error.Code)
	assert.Equal(t, e.client.Sent[0].MessageID, body.Error.MessageID)
	assert.NotContains(t, rec.Body.String(), "disk full")

	rec = e.do(t, http.MethodGet, "/metrics", "", nil)
	assert.NotContains(t, rec.Body.String(), "embedg_delivery_failures_total{")
}

func TestSavedMessageRoutes(t *testing.T) {
	e := newTestEnv(t, nil)

	rec := e.do(t, http.MethodPost, "/api/saved-messages", e.token, app.SavedMessageInput{Name: "greeting", PayloadJSON: `{"content":"hi"}`})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "greeting", created.Name)

	rec = e.do(t, http.MethodGet, "/api/saved-messages", e.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), created.ID)

	rec = e.do(t, http.MethodPut, "/api/saved-messages/"+created.ID, e.token, app.SavedMessageInput{Name: "renamed", PayloadJSON: `{"content":"hey"}`})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "renamed")

	rec = e.do(t, http.MethodPost, "/api/saved-messages", e.token, app.SavedMessageInput{Name: "", PayloadJSON: `{}`})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	other, err := e.container.Sessions.Create(context.Background(), "someone", "someone")
	require.NoError(t, err)
	rec = e.do(t, http.MethodGet, "/api/saved-messages/"+created.ID, other, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodDelete, "/api/saved-messages/"+created.ID, e.token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = e.do(t, http.MethodGet, "/api/saved-messages/"+created.ID, e.token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLoginFlow(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "the-code", r.Form.Get("code"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at","token_type":"Bearer","expires_in":3600}`))
	}))
	defer tokenServer.Close()

	e := newTestEnv(t, func(c *config.Config) {
		c.Discord.ClientSecret = "secret"
		c.Discord.RedirectURL = "https://embedg.example/api/auth/callback"
	})
	require.NotNil(t, e.server.oauth)
	e.server.oauth.Endpoint.TokenURL = tokenServer.URL

	rec := e.do(t, http.MethodGet, "/api/auth/login", "", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "discord.com", loc.Host)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/callback?code=the-code&state="+state, nil)
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: state})
	rec = httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())

	var session *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie {
			session = c
		}
	}
	require.NotNil(t, session)

	req = httptest.NewRequest(http.MethodGet, "/api/users/@me", nil)
	req.AddCookie(session)
	rec = httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"user_id":"u"`)

	req = httptest.NewRequest(http.MethodGet, "/api/auth/callback?code=x&state=forged", nil)
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: state})
	rec = httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginDisabled(t *testing.T) {
	e := newTestEnv(t, nil)
	rec := e.do(t, http.MethodGet, "/api/auth/login", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLogout(t *testing.T) {
	e := newTestEnv(t, nil)
	rec := e.do(t, http.MethodPost, "/api/auth/logout", e.token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/users/@me", e.token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	e := newTestEnv(t, nil)
	e.do(t, http.MethodPost, "/api/messages/send", e.token, channelSend("c"))

	rec := e.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "embedg_http_request_duration_seconds")
	assert.Contains(t, body, `embedg_delivery_messages_total{mode="create",target="channel"} 1`)
	assert.Contains(t, body, "embedg_delivery_webhooks_created_total 1")
}

func TestCORS(t *testing.T) {
	e := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/messages/send", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
