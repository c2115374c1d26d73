package platform

import (
	"github.com/bwmarrin/discordgo"
)

// Cache is the read-only view of the gateway state. Entries are eventually
// consistent with Discord.
type Cache interface {
	Channel(channelID string) (*discordgo.Channel, bool)
	Guild(guildID string) (*discordgo.Guild, bool)
	Role(guildID, roleID string) (*discordgo.Role, bool)
	Member(guildID, userID string) (*discordgo.Member, bool)
}

// StateCache serves Cache from a discordgo state populated by the gateway.
type StateCache struct {
	state *discordgo.State
}

func NewStateCache(state *discordgo.State) *StateCache {
	return &StateCache{state: state}
}

func (c *StateCache) Channel(channelID string) (*discordgo.Channel, bool) {
	ch, err := c.state.Channel(channelID)
	return ch, err == nil && ch != nil
}

func (c *StateCache) Guild(guildID string) (*discordgo.Guild, bool) {
	g, err := c.state.Guild(guildID)
	return g, err == nil && g != nil
}

func (c *StateCache) Role(guildID, roleID string) (*discordgo.Role, bool) {
	r, err := c.state.Role(guildID, roleID)
	return r, err == nil && r != nil
}

func (c *StateCache) Member(guildID, userID string) (*discordgo.Member, bool) {
	m, err := c.state.Member(guildID, userID)
	return m, err == nil && m != nil
}

var _ Cache = (*StateCache)(nil)

// GuildRoles resolves role positions of one guild from the cache.
type GuildRoles struct {
	Cache   Cache
	GuildID string
}

func (g GuildRoles) RolePosition(roleID string) (int, bool) {
	r, ok := g.Cache.Role(g.GuildID, roleID)
	if !ok {
		return 0, false
	}
	return r.Position, true
}
