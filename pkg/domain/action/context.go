package action

import (
	"context"
	"fmt"

	"github.com/embedg/embedg/pkg/domain"
)

// ---------------------------------------------------------------------------
// Authorization context
// ---------------------------------------------------------------------------

// Context is the authority actions on a message run with.
type Context interface {
	isContext()
}

// Allow permits every action.
type Allow struct{}

// Deny refuses every action that needs authorization.
type Deny struct{}

// Derived carries the original author's snapshot.
type Derived struct {
	UserID              string
	Permissions         domain.Permissions
	HighestRolePosition int
}

func (Allow) isContext()   {}
func (Deny) isContext()    {}
func (Derived) isContext() {}

// ---------------------------------------------------------------------------
// Authorization
// ---------------------------------------------------------------------------

// Denial is the user-facing reason an action was refused. Allowed means the
// action may run.
type Denial string

const Allowed Denial = ""

const (
	DenialNoActions        Denial = "This message can't perform any actions."
	DenialSavedMessageGone Denial = "The response message doesn't exist."
	DenialRoleMissing      Denial = "Role to toggle doesn't exist."
)

func denialRolePermission(userID string) Denial {
	return Denial(fmt.Sprintf("The original author (<@%s>) of this message doesn't have permissions to toggle this role.", userID))
}

// RoleLookup resolves live role positions within one guild.
type RoleLookup interface {
	RolePosition(roleID string) (position int, ok bool)
}

// SavedMessageChecker answers whether a user owns a saved message.
type SavedMessageChecker interface {
	ExistsByOwnerAndID(ctx context.Context, ownerID, id string) (bool, error)
}

// Env is what authorization reads besides the context itself.
type Env struct {
	Roles         RoleLookup
	SavedMessages SavedMessageChecker
}

// Authorize decides whether a may run under c. Denials are returned as data;
// the error is reserved for failed lookups.
func Authorize(ctx context.Context, c Context, a Action, env Env) (Denial, error) {
	var d Derived
	switch c := c.(type) {
	case Allow:
		return Allowed, nil
	case Deny:
		return DenialNoActions, nil
	case Derived:
		d = c
	default:
		return "", fmt.Errorf("action: unknown context %T", c)
	}

	switch a := a.(type) {
	case Unknown:
		return Allowed, nil
	case RespondWithSavedMessage:
		ok, err := env.SavedMessages.ExistsByOwnerAndID(ctx, d.UserID, a.SavedMessageID)
		if err != nil {
			return "", err
		}
		if !ok {
			return DenialSavedMessageGone, nil
		}
		return Allowed, nil
	case RoleToggle:
		pos, ok := env.Roles.RolePosition(a.RoleID)
		if !ok {
			return DenialRoleMissing, nil
		}
		if !d.Permissions.Has(domain.PermissionManageRoles) || pos > d.HighestRolePosition {
			return denialRolePermission(d.UserID), nil
		}
		return Allowed, nil
	default:
		return "", fmt.Errorf("action: unknown action %T", a)
	}
}
