package platform

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/vincent-petithory/dataurl"
	"golang.org/x/sync/singleflight"

	"github.com/embedg/embedg/pkg/domain"
	"github.com/embedg/embedg/pkg/logger"
)

const (
	// WebhookName is the display name of webhooks the bot creates.
	WebhookName = "Embed Generator"
	// MaxWebhooksPerChannel is Discord's per-channel webhook cap.
	MaxWebhooksPerChannel = 10
)

//go:embed assets/icon.png
var iconPNG []byte

// WebhookAvatar is the avatar of webhooks the bot creates, as a data URL.
var WebhookAvatar = dataurl.New(iconPNG, "image/png").String()

// KV is the byte cache the resolver keeps channel webhook lists in.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// WebhookResolver finds or creates the bot-owned webhook of a channel.
//
// Resolution is collapsed per channel within this process, so concurrent
// sends to a channel without a bot webhook create at most one. Separate
// processes can still race and each create one.
type WebhookResolver struct {
	client Client
	kv     KV
	bus    domain.EventBus
	appID  string
	group  singleflight.Group
}

// NewWebhookResolver returns a resolver reusing webhooks owned by appID.
// bus may be nil.
func NewWebhookResolver(client Client, kv KV, bus domain.EventBus, appID string) *WebhookResolver {
	return &WebhookResolver{client: client, kv: kv, bus: bus, appID: appID}
}

// Resolve returns the bot's webhook for channelID, creating it when the
// channel has none and is below MaxWebhooksPerChannel.
//
// The shared resolution is not cancelled with ctx, since other callers may be
// waiting on it; a cancelled caller stops waiting and gets ctx.Err().
func (r *WebhookResolver) Resolve(ctx context.Context, channelID string) (Webhook, error) {
	shared := context.WithoutCancel(ctx)
	ch := r.group.DoChan(channelID, func() (interface{}, error) {
		return r.resolve(shared, channelID)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return Webhook{}, res.Err
		}
		return res.Val.(Webhook), nil
	case <-ctx.Done():
		return Webhook{}, ctx.Err()
	}
}

func (r *WebhookResolver) resolve(ctx context.Context, channelID string) (Webhook, error) {
	hooks, err := r.List(ctx, channelID)
	if err != nil {
		return Webhook{}, err
	}

	for _, h := range hooks {
		if h.ApplicationID == r.appID && h.Token != "" {
			return h, nil
		}
	}
	if len(hooks) >= MaxWebhooksPerChannel {
		return Webhook{}, domain.ErrWebhookLimitReached
	}

	h, err := r.client.CreateWebhook(ctx, channelID, WebhookName, WebhookAvatar)
	if err != nil {
		return Webhook{}, domain.ErrPlatform.Wrap(fmt.Errorf("create webhook: %w", err))
	}
	if h.ChannelID == "" {
		h.ChannelID = channelID
	}

	logger.InfoCF("webhooks", "Webhook created", map[string]interface{}{
		"channel_id": channelID,
		"webhook_id": h.ID,
	})
	if r.bus != nil {
		r.bus.Publish(domain.NewEvent(domain.EventWebhookCreated, domain.EntityID(h.ID), domain.WebhookCreated{
			ChannelID: channelID,
			WebhookID: h.ID,
		}))
	}

	r.store(ctx, channelID, append(hooks, h))
	return h, nil
}

// List returns the channel's webhooks, from cache when possible.
func (r *WebhookResolver) List(ctx context.Context, channelID string) ([]Webhook, error) {
	key := cacheKey(channelID)
	if raw, ok, err := r.kv.Get(ctx, key); err != nil {
		logger.WarnCF("webhooks", "Webhook cache read failed", map[string]interface{}{
			"channel_id": channelID,
			"error":      err,
		})
	} else if ok {
		var hooks []Webhook
		if err := json.Unmarshal(raw, &hooks); err == nil {
			return hooks, nil
		}
	}

	hooks, err := r.client.ChannelWebhooks(ctx, channelID)
	if err != nil {
		return nil, domain.ErrPlatform.Wrap(fmt.Errorf("list webhooks: %w", err))
	}
	r.store(ctx, channelID, hooks)
	return hooks, nil
}

// Invalidate drops the cached list of channelID, e.g. after Discord reported
// a cached webhook as unknown.
func (r *WebhookResolver) Invalidate(ctx context.Context, channelID string) {
	if err := r.kv.Delete(ctx, cacheKey(channelID)); err != nil {
		logger.WarnCF("webhooks", "Webhook cache invalidation failed", map[string]interface{}{
			"channel_id": channelID,
			"error":      err,
		})
	}
}

func (r *WebhookResolver) store(ctx context.Context, channelID string, hooks []Webhook) {
	raw, err := json.Marshal(hooks)
	if err != nil {
		return
	}
	if err := r.kv.Set(ctx, cacheKey(channelID), raw); err != nil {
		logger.WarnCF("webhooks", "Webhook cache write failed", map[string]interface{}{
			"channel_id": channelID,
			"error":      err,
		})
	}
}

func cacheKey(channelID string) string { return "webhooks:" + channelID }
