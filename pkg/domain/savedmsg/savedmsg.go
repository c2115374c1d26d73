// Package savedmsg defines the saved message bounded context: payloads a
// user stores to send later or to answer component interactions with.
package savedmsg

import (
	"context"
	"strings"
	"time"

	"github.com/embedg/embedg/pkg/domain"
	"github.com/embedg/embedg/pkg/domain/message"
)

// SavedMessage is owned by exactly one user.
type SavedMessage struct {
	ID          string    `json:"id" bson:"_id"`
	OwnerID     string    `json:"owner_id" bson:"owner_id"`
	Name        string    `json:"name" bson:"name"`
	Description string    `json:"description,omitempty" bson:"description,omitempty"`
	PayloadJSON string    `json:"payload_json" bson:"payload_json"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" bson:"updated_at"`
}

// MaxNameLength bounds SavedMessage.Name.
const MaxNameLength = 100

// New validates the input and returns a saved message with a fresh id.
func New(ownerID, name, description, payloadJSON string, now time.Time) (*SavedMessage, error) {
	m := &SavedMessage{
		ID:          domain.NewID().String(),
		OwnerID:     ownerID,
		Description: description,
		CreatedAt:   now,
	}
	if err := m.Update(name, description, payloadJSON, now); err != nil {
		return nil, err
	}
	return m, nil
}

// Update replaces the editable fields after validating them.
func (m *SavedMessage) Update(name, description, payloadJSON string, now time.Time) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	if len(name) > MaxNameLength {
		return ErrNameTooLong
	}
	if _, err := message.Parse([]byte(payloadJSON)); err != nil {
		return ErrInvalidPayload
	}
	m.Name = name
	m.Description = description
	m.PayloadJSON = payloadJSON
	m.UpdatedAt = now
	return nil
}

// Payload decodes the stored payload.
func (m *SavedMessage) Payload() (message.Payload, error) {
	return message.Parse([]byte(m.PayloadJSON))
}

// Repository persists saved messages.
type Repository interface {
	Save(ctx context.Context, m *SavedMessage) error
	// FindByID returns ErrNotFound when no message has that id.
	FindByID(ctx context.Context, id string) (*SavedMessage, error)
	ExistsByOwnerAndID(ctx context.Context, ownerID, id string) (bool, error)
	// ListByOwner returns the owner's messages, most recently updated first.
	ListByOwner(ctx context.Context, ownerID string) ([]*SavedMessage, error)
	// Delete returns ErrNotFound when the owner has no message with that id.
	Delete(ctx context.Context, ownerID, id string) error
}

// SavedMessageError is a typed error for the saved message domain.
type SavedMessageError string

func (e SavedMessageError) Error() string { return string(e) }

const (
	ErrNotFound       SavedMessageError = "saved message not found"
	ErrEmptyName      SavedMessageError = "saved message name cannot be empty"
	ErrNameTooLong    SavedMessageError = "saved message name is too long"
	ErrInvalidPayload SavedMessageError = "saved message payload is not a valid message"
)
