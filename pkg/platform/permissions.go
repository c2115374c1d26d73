package platform

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"github.com/embedg/embedg/pkg/domain"
)

// GuildPermissions returns the member's guild-wide permissions: the union of
// @everyone and the member's roles. Owners and administrators get everything.
func GuildPermissions(c Cache, guild *discordgo.Guild, userID string, roleIDs []string) domain.Permissions {
	if guild.OwnerID == userID {
		return domain.PermissionAll
	}

	var perms domain.Permissions
	if everyone, ok := c.Role(guild.ID, guild.ID); ok {
		perms |= domain.Permissions(everyone.Permissions)
	}
	for _, id := range roleIDs {
		if r, ok := c.Role(guild.ID, id); ok {
			perms |= domain.Permissions(r.Permissions)
		}
	}
	if perms.Has(domain.PermissionAdministrator) {
		return domain.PermissionAll
	}
	return perms
}

// ChannelPermissions applies the channel's overwrites to the member's guild
// permissions: @everyone first, then the member's roles combined, then the
// member itself.
func ChannelPermissions(c Cache, guild *discordgo.Guild, channel *discordgo.Channel, userID string, roleIDs []string) domain.Permissions {
	perms := GuildPermissions(c, guild, userID, roleIDs)
	if perms == domain.PermissionAll {
		return perms
	}

	memberRoles := make(map[string]struct{}, len(roleIDs))
	for _, id := range roleIDs {
		memberRoles[id] = struct{}{}
	}

	var roleAllow, roleDeny domain.Permissions
	var member *discordgo.PermissionOverwrite
	for _, ow := range channel.PermissionOverwrites {
		switch {
		case ow.Type == discordgo.PermissionOverwriteTypeRole && ow.ID == guild.ID:
			perms &^= domain.Permissions(ow.Deny)
			perms |= domain.Permissions(ow.Allow)
		case ow.Type == discordgo.PermissionOverwriteTypeRole:
			if _, ok := memberRoles[ow.ID]; ok {
				roleAllow |= domain.Permissions(ow.Allow)
				roleDeny |= domain.Permissions(ow.Deny)
			}
		case ow.Type == discordgo.PermissionOverwriteTypeMember && ow.ID == userID:
			member = ow
		}
	}
	perms &^= roleDeny
	perms |= roleAllow
	if member != nil {
		perms &^= domain.Permissions(member.Deny)
		perms |= domain.Permissions(member.Allow)
	}
	return perms
}

// ---------------------------------------------------------------------------
// Guild access
// ---------------------------------------------------------------------------

// GuildAccess decides whether a user may manage messages of a guild.
type GuildAccess interface {
	HasGuildAccess(ctx context.Context, userID, guildID string) (bool, error)
}

// MemberGuildAccess grants access to guild owners and to members holding
// Administrator, Manage Server or Manage Webhooks.
type MemberGuildAccess struct {
	Client Client
	Cache  Cache
}

func (a MemberGuildAccess) HasGuildAccess(ctx context.Context, userID, guildID string) (bool, error) {
	guild, ok := a.Cache.Guild(guildID)
	if !ok {
		return false, nil
	}
	if guild.OwnerID == userID {
		return true, nil
	}

	member, ok := a.Cache.Member(guildID, userID)
	if !ok {
		m, err := a.Client.GuildMember(ctx, guildID, userID)
		if err != nil {
			if IsNotFound(err) {
				return false, nil
			}
			return false, err
		}
		member = m
	}

	perms := GuildPermissions(a.Cache, guild, userID, member.Roles)
	return perms.Has(domain.PermissionAdministrator) ||
		perms.Has(domain.PermissionManageGuild) ||
		perms.Has(domain.PermissionManageWebhooks), nil
}
