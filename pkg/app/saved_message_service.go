package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/embedg/embedg/pkg/domain"
	"github.com/embedg/embedg/pkg/domain/savedmsg"
)

// ---------------------------------------------------------------------------
// Saved message application service
// ---------------------------------------------------------------------------

// SavedMessageInput holds the editable fields of a saved message.
type SavedMessageInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	PayloadJSON string `json:"payload_json"`
}

// SavedMessageService orchestrates the owner-scoped saved message use cases.
type SavedMessageService struct {
	repo     savedmsg.Repository
	eventBus domain.EventBus
	now      domain.Clock
}

// NewSavedMessageService creates a new saved message service.
func NewSavedMessageService(repo savedmsg.Repository, eventBus domain.EventBus, now domain.Clock) *SavedMessageService {
	if now == nil {
		now = domain.SystemClock
	}
	return &SavedMessageService{repo: repo, eventBus: eventBus, now: now}
}

// List returns the owner's messages, most recently updated first.
func (s *SavedMessageService) List(ctx context.Context, ownerID string) ([]*savedmsg.SavedMessage, error) {
	msgs, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, domain.ErrStorage.Wrap(fmt.Errorf("list saved messages: %w", err))
	}
	return msgs, nil
}

// Get returns one of the owner's messages. Messages of other users are
// reported as missing.
func (s *SavedMessageService) Get(ctx context.Context, ownerID, id string) (*savedmsg.SavedMessage, error) {
	m, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, savedmsg.ErrNotFound) {
		return nil, domain.NotFound("saved_message")
	}
	if err != nil {
		return nil, domain.ErrStorage.Wrap(fmt.Errorf("find saved message: %w", err))
	}
	if m.OwnerID != ownerID {
		return nil, domain.NotFound("saved_message")
	}
	return m, nil
}

// Create stores a new message for ownerID.
func (s *SavedMessageService) Create(ctx context.Context, ownerID string, in SavedMessageInput) (*savedmsg.SavedMessage, error) {
	m, err := savedmsg.New(ownerID, in.Name, in.Description, in.PayloadJSON, s.now())
	if err != nil {
		return nil, domain.InvalidRequest("%s", err.Error())
	}
	if err := s.save(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Update replaces the editable fields of one of the owner's messages.
func (s *SavedMessageService) Update(ctx context.Context, ownerID, id string, in SavedMessageInput) (*savedmsg.SavedMessage, error) {
	m, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if err := m.Update(in.Name, in.Description, in.PayloadJSON, s.now()); err != nil {
		return nil, domain.InvalidRequest("%s", err.Error())
	}
	if err := s.save(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Delete removes one of the owner's messages.
func (s *SavedMessageService) Delete(ctx context.Context, ownerID, id string) error {
	err := s.repo.Delete(ctx, ownerID, id)
	if errors.Is(err, savedmsg.ErrNotFound) {
		return domain.NotFound("saved_message")
	}
	if err != nil {
		return domain.ErrStorage.Wrap(fmt.Errorf("delete saved message: %w", err))
	}
	s.eventBus.Publish(domain.NewEvent(domain.EventSavedMessageDeleted, domain.EntityID(id), nil))
	return nil
}

func (s *SavedMessageService) save(ctx context.Context, m *savedmsg.SavedMessage) error {
	if err := s.repo.Save(ctx, m); err != nil {
		return domain.ErrStorage.Wrap(fmt.Errorf("save saved message: %w", err))
	}
	s.eventBus.Publish(domain.NewEvent(domain.EventSavedMessageSaved, domain.EntityID(m.ID), nil))
	return nil
}
