package domain

// ---------------------------------------------------------------------------
// Shared value objects
// ---------------------------------------------------------------------------

// Permissions is a Discord permission bitset.
type Permissions int64

// Bits this service reads. Values follow the Discord API.
const (
	PermissionAdministrator  Permissions = 1 << 3
	PermissionManageChannels Permissions = 1 << 4
	PermissionManageGuild    Permissions = 1 << 5
	PermissionManageRoles    Permissions = 1 << 28
	PermissionManageWebhooks Permissions = 1 << 29

	PermissionAll Permissions = 1<<53 - 1
)

// Has reports whether every bit of p is set.
func (ps Permissions) Has(p Permissions) bool { return ps&p == p }
