// Package action defines the actions a message component can trigger, the
// authorization context they run under and how that context is derived from
// a message's provenance.
package action

import (
	"strconv"
	"strings"
)

// TokenPrefix marks a component custom id (or select option value) as an
// action token:
//
//	actions:role=123;saved=abc,1
//
// Segments are separated by ';'. "role=<role id>" toggles a role,
// "saved=<saved message id>[,<flags>]" responds with a saved message.
// Unrecognised segments parse to Unknown.
const TokenPrefix = "actions:"

// Action is one step requested by a component interaction.
type Action interface {
	// Name identifies the variant in logs and events.
	Name() string
	isAction()
}

// Unknown is a segment this version does not understand. It does nothing.
type Unknown struct{}

// RespondWithSavedMessage answers the interaction with a saved message.
type RespondWithSavedMessage struct {
	SavedMessageID string
	Flags          ResponseFlags
}

// RoleToggle adds the role to the interacting member, or removes it when
// already held.
type RoleToggle struct {
	RoleID string
}

func (Unknown) Name() string                 { return "unknown" }
func (RespondWithSavedMessage) Name() string { return "saved_message" }
func (RoleToggle) Name() string              { return "role_toggle" }

func (Unknown) isAction()                 {}
func (RespondWithSavedMessage) isAction() {}
func (RoleToggle) isAction()              {}

// ResponseFlags modify how a saved message response is delivered.
type ResponseFlags uint32

const (
	// FlagEdit replaces the message the component belongs to.
	FlagEdit ResponseFlags = 1 << 0
)

func (f ResponseFlags) Has(flag ResponseFlags) bool { return f&flag == flag }

// Parse decodes token into its actions. A token without TokenPrefix, or with
// no segments, yields none.
func Parse(token string) []Action {
	rest, ok := strings.CutPrefix(token, TokenPrefix)
	if !ok {
		return nil
	}

	var actions []Action
	for _, seg := range strings.Split(rest, ";") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		actions = append(actions, parseSegment(seg))
	}
	return actions
}

func parseSegment(seg string) Action {
	key, value, ok := strings.Cut(seg, "=")
	if !ok || value == "" {
		return Unknown{}
	}

	switch key {
	case "role":
		if !isSnowflake(value) {
			return Unknown{}
		}
		return RoleToggle{RoleID: value}
	case "saved":
		id, rawFlags, hasFlags := strings.Cut(value, ",")
		if id == "" {
			return Unknown{}
		}
		var flags ResponseFlags
		if hasFlags {
			n, err := strconv.ParseUint(rawFlags, 10, 32)
			if err != nil {
				return Unknown{}
			}
			flags = ResponseFlags(n)
		}
		return RespondWithSavedMessage{SavedMessageID: id, Flags: flags}
	default:
		return Unknown{}
	}
}

// Encode is the inverse of Parse for known actions. Unknown entries are
// skipped.
func Encode(actions ...Action) string {
	segs := make([]string, 0, len(actions))
	for _, a := range actions {
		switch a := a.(type) {
		case RoleToggle:
			segs = append(segs, "role="+a.RoleID)
		case RespondWithSavedMessage:
			seg := "saved=" + a.SavedMessageID
			if a.Flags != 0 {
				seg += "," + strconv.FormatUint(uint64(a.Flags), 10)
			}
			segs = append(segs, seg)
		}
	}
	return TokenPrefix + strings.Join(segs, ";")
}

func isSnowflake(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}
