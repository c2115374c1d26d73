// Package app provides application services that orchestrate domain operations.
// These services sit between the API/gateway layer and the domain layer,
// coordinating use cases across bounded contexts.
package app

import (
	"github.com/embedg/embedg/pkg/domain"
	"github.com/embedg/embedg/pkg/domain/provenance"
	"github.com/embedg/embedg/pkg/domain/savedmsg"
	"github.com/embedg/embedg/pkg/platform"
)

// ---------------------------------------------------------------------------
// Application container: dependency injection root
// ---------------------------------------------------------------------------

// Deps are the infrastructure collaborators of the services.
type Deps struct {
	EventBus domain.EventBus

	Client platform.Client
	Cache  platform.Cache
	// Access defaults to platform.MemberGuildAccess over Client and Cache.
	Access platform.GuildAccess

	Provenance    provenance.Repository
	SavedMessages savedmsg.Repository

	// WebhookKV caches channel webhook lists; SessionKV holds login sessions.
	WebhookKV platform.KV
	SessionKV platform.KV

	// BotID is the bot's user id, equal to its application id.
	BotID string
	Clock domain.Clock
}

// Container holds all application services and their dependencies.
// It acts as a composition root for dependency injection.
type Container struct {
	EventBus domain.EventBus

	Webhooks      *platform.WebhookResolver
	Delivery      *DeliveryService
	Actions       *ActionExecutor
	Interactions  *InteractionService
	SavedMessages *SavedMessageService
	Sessions      *SessionService
}

// NewContainer creates a fully wired application container.
func NewContainer(d Deps) *Container {
	if d.Access == nil {
		d.Access = platform.MemberGuildAccess{Client: d.Client, Cache: d.Cache}
	}
	if d.Clock == nil {
		d.Clock = domain.SystemClock
	}

	webhooks := platform.NewWebhookResolver(d.Client, d.WebhookKV, d.EventBus, d.BotID)
	actions := NewActionExecutor(d.Client, d.Cache, d.SavedMessages, d.EventBus)

	return &Container{
		EventBus:      d.EventBus,
		Webhooks:      webhooks,
		Delivery:      NewDeliveryService(d.Client, d.Cache, d.Access, webhooks, d.Provenance, d.EventBus, d.BotID, d.Clock),
		Actions:       actions,
		Interactions:  NewInteractionService(d.Client, d.Cache, d.Provenance, actions, d.EventBus, d.BotID),
		SavedMessages: NewSavedMessageService(d.SavedMessages, d.EventBus, d.Clock),
		Sessions:      NewSessionService(d.SessionKV, d.Clock),
	}
}
