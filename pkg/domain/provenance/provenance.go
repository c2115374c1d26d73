// Package provenance defines the per-message record binding a delivered
// message to its author snapshot and integrity digest.
package provenance

import (
	"context"
	"time"

	"github.com/embedg/embedg/pkg/domain"
)

// AuthorSnapshot is the sender's authority at send time. It is written once
// with the record and never refreshed.
type AuthorSnapshot struct {
	UserID      string             `json:"id" bson:"id"`
	IsOwner     bool               `json:"is_owner" bson:"is_owner"`
	Permissions domain.Permissions `json:"permissions" bson:"permissions"`
	RoleIDs     []string           `json:"role_ids" bson:"role_ids"`
}

// Record is the provenance entry of one delivered message, keyed by MessageID.
type Record struct {
	ChannelID string          `json:"channel_id" bson:"channel_id"`
	MessageID string          `json:"message_id" bson:"message_id"`
	Hash      string          `json:"hash" bson:"hash"`
	CreatedAt time.Time       `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" bson:"updated_at"`
	Author    *AuthorSnapshot `json:"author,omitempty" bson:"author,omitempty"`
}

// Merge applies an upsert of next onto the stored record cur (nil when no
// record exists yet). Hash and UpdatedAt follow next; ChannelID, CreatedAt
// and Author keep their first written values. Stores that cannot express the
// update atomically use it under their own lock.
func Merge(cur *Record, next Record) Record {
	if cur == nil {
		return next
	}
	out := *cur
	out.Hash = next.Hash
	out.UpdatedAt = next.UpdatedAt
	return out
}

// Repository persists provenance records.
type Repository interface {
	// Upsert inserts rec or, when a record with the same MessageID exists,
	// updates its Hash and UpdatedAt only.
	Upsert(ctx context.Context, rec Record) error
	// FindByMessageID returns ErrNotFound when no record exists.
	FindByMessageID(ctx context.Context, messageID string) (*Record, error)
}

// ProvenanceError is a typed error for the provenance domain.
type ProvenanceError string

func (e ProvenanceError) Error() string { return string(e) }

const (
	ErrNotFound ProvenanceError = "provenance record not found"
)
