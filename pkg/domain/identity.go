// Package domain provides the building blocks shared by the embedg bounded
// contexts: identifiers, domain events and the error taxonomy.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Entity identity
// ---------------------------------------------------------------------------

// EntityID is a typed identifier. Discord snowflakes and locally generated
// ids share this type so events can carry either.
type EntityID string

// NewID generates a random (v4) identifier for locally owned entities such as
// saved messages and sessions.
func NewID() EntityID {
	return EntityID(uuid.NewString())
}

// String implements fmt.Stringer.
func (id EntityID) String() string { return string(id) }

// IsZero returns true if the ID is empty.
func (id EntityID) IsZero() bool { return id == "" }

// ---------------------------------------------------------------------------
// Clock
// ---------------------------------------------------------------------------

// Clock returns the current time. Services take one so tests can pin it.
type Clock func() time.Time

// SystemClock is the UTC wall clock.
func SystemClock() time.Time { return time.Now().UTC() }
