package domain

import "time"

// ---------------------------------------------------------------------------
// Domain events
// ---------------------------------------------------------------------------

// EventType classifies domain events for routing and filtering.
type EventType string

const (
	// Delivery context events
	EventMessageSent    EventType = "message.sent"
	EventMessageEdited  EventType = "message.edited"
	EventMessageFailed  EventType = "message.failed"
	EventWebhookCreated EventType = "webhook.created"

	// Interaction context events
	EventIntegrityFailed   EventType = "interaction.integrity_failed"
	EventInteractionDenied EventType = "interaction.denied"
	EventActionExecuted    EventType = "action.executed"

	// Saved message context events
	EventSavedMessageSaved   EventType = "saved_message.saved"
	EventSavedMessageDeleted EventType = "saved_message.deleted"

	// System-level events
	EventSystemStartup  EventType = "system.startup"
	EventSystemShutdown EventType = "system.shutdown"
)

// Event is the interface all domain events implement.
type Event interface {
	// EventType returns the classified event type.
	EventType() EventType
	// OccurredAt returns when the event happened.
	OccurredAt() time.Time
	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() EntityID
	// Payload returns the event-specific data.
	Payload() interface{}
}

// BaseEvent provides a reusable implementation of the Event interface.
type BaseEvent struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	AggID     EntityID    `json:"aggregate_id"`
	EventData interface{} `json:"data,omitempty"`
}

func (e BaseEvent) EventType() EventType  { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) AggregateID() EntityID { return e.AggID }
func (e BaseEvent) Payload() interface{}  { return e.EventData }

// NewEvent creates a new domain event.
func NewEvent(eventType EventType, aggregateID EntityID, data interface{}) BaseEvent {
	return BaseEvent{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		AggID:     aggregateID,
		EventData: data,
	}
}

// ---------------------------------------------------------------------------
// Event payloads
// ---------------------------------------------------------------------------

// MessageDelivered is the payload of EventMessageSent and EventMessageEdited.
type MessageDelivered struct {
	GuildID   string `json:"guild_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`
	MessageID string `json:"message_id"`
	// Direct is set for webhook targets, which skip provenance.
	Direct bool `json:"direct"`
}

// MessageFailed is the payload of EventMessageFailed.
type MessageFailed struct {
	ChannelID string `json:"channel_id,omitempty"`
	Code      string `json:"code"`
}

// WebhookCreated is the payload of EventWebhookCreated.
type WebhookCreated struct {
	ChannelID string `json:"channel_id"`
	WebhookID string `json:"webhook_id"`
}

// InteractionOutcome is the payload of the interaction context events.
type InteractionOutcome struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id,omitempty"`
	Action    string `json:"action,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// ---------------------------------------------------------------------------
// Event bus
// ---------------------------------------------------------------------------

// EventHandler processes a domain event. Handlers should be idempotent.
type EventHandler func(Event)

// EventBus dispatches domain events to registered handlers.
type EventBus interface {
	// Publish dispatches an event to all registered handlers.
	Publish(event Event)
	// Subscribe registers a handler for a specific event type.
	Subscribe(eventType EventType, handler EventHandler)
	// SubscribeAll registers a handler that receives every event.
	SubscribeAll(handler EventHandler)
	// Close shuts down the event bus.
	Close()
}
