package action

import (
	"time"

	"github.com/embedg/embedg/pkg/domain"
	"github.com/embedg/embedg/pkg/domain/provenance"
)

// Epochs of the two compatibility tiers, in unix seconds. Messages whose
// effective timestamp is older were sent before the respective control
// existed. Both values are load-bearing for old messages.
const (
	PermissionTrackingEpoch int64 = 0
	IntegrityTrackingEpoch  int64 = 1659880800
)

// Observed is what an interaction tells us about its message.
type Observed struct {
	// Hash is the digest of the message as Discord delivered it.
	Hash     string
	AuthorID string
	BotID    string
	// Timestamp is the edit time, or the creation time of unedited messages.
	Timestamp time.Time
}

// EffectiveTimestamp picks edited over created.
func EffectiveTimestamp(created time.Time, edited *time.Time) time.Time {
	if edited != nil && !edited.IsZero() {
		return *edited
	}
	return created
}

// DeriveContext builds the authorization context of a message from its
// provenance record (nil when none exists). It fails with domain.ErrIntegrity
// when the message was changed since delivery, or when it has no record and
// was not sent by the bot.
func DeriveContext(rec *provenance.Record, obs Observed, roles RoleLookup) (Context, error) {
	if rec != nil && rec.Hash != obs.Hash {
		return nil, domain.ErrIntegrity
	}
	if rec == nil && obs.AuthorID != obs.BotID {
		return nil, domain.ErrIntegrity
	}

	if c, ok := legacyContext(rec != nil, obs.Timestamp); ok {
		return c, nil
	}

	if rec.Author == nil {
		return Deny{}, nil
	}
	return derived(rec.Author, roles), nil
}

// legacyContext holds both compatibility tiers. ok is false when the message
// is recent enough to be judged by its author snapshot.
//
// With a record, messages older than PermissionTrackingEpoch are allowed
// outright. Without one, bot messages older than IntegrityTrackingEpoch are
// allowed and every newer one is denied.
func legacyContext(hasRecord bool, ts time.Time) (Context, bool) {
	secs := ts.Unix()
	if hasRecord {
		if secs < PermissionTrackingEpoch {
			return Allow{}, true
		}
		return nil, false
	}
	if secs < IntegrityTrackingEpoch {
		return Allow{}, true
	}
	return Deny{}, true
}

func derived(a *provenance.AuthorSnapshot, roles RoleLookup) Derived {
	highest := 0
	for _, id := range a.RoleIDs {
		if pos, ok := roles.RolePosition(id); ok && pos > highest {
			highest = pos
		}
	}
	return Derived{
		UserID:              a.UserID,
		Permissions:         a.Permissions,
		HighestRolePosition: highest,
	}
}
