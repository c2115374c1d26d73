package platform

import (
	"strconv"

	"github.com/bwmarrin/discordgo"

	"github.com/embedg/embedg/pkg/domain/message"
)

// ChannelVariables exposes channel.{id,name,mention,topic}.
func ChannelVariables(ch *discordgo.Channel) message.Variables {
	return message.Variables{
		"channel.id":      ch.ID,
		"channel.name":    ch.Name,
		"channel.mention": ch.Mention(),
		"channel.topic":   ch.Topic,
	}
}

// GuildVariables exposes server.{id,name,icon,member_count}.
func GuildVariables(g *discordgo.Guild) message.Variables {
	vars := message.Variables{
		"server.id":           g.ID,
		"server.name":         g.Name,
		"server.member_count": strconv.Itoa(g.MemberCount),
		"server.icon":         "",
	}
	if g.Icon != "" {
		vars["server.icon"] = g.IconURL("256")
	}
	return vars
}

// UserVariables exposes user.{id,name,username,mention,avatar}. name prefers
// the member nickname, then the global display name.
func UserVariables(u *discordgo.User, nick string) message.Variables {
	name := nick
	if name == "" {
		name = u.GlobalName
	}
	if name == "" {
		name = u.Username
	}
	return message.Variables{
		"user.id":       u.ID,
		"user.name":     name,
		"user.username": u.Username,
		"user.mention":  u.Mention(),
		"user.avatar":   u.AvatarURL("256"),
	}
}

// InteractionVariables collects the variables of the interacting user and,
// when cached, of the channel and guild the interaction happened in.
func InteractionVariables(i *discordgo.Interaction, c Cache) message.Variables {
	vars := message.Variables{}
	switch {
	case i.Member != nil && i.Member.User != nil:
		vars.Merge(UserVariables(i.Member.User, i.Member.Nick))
	case i.User != nil:
		vars.Merge(UserVariables(i.User, ""))
	}
	if ch, ok := c.Channel(i.ChannelID); ok {
		vars.Merge(ChannelVariables(ch))
	}
	if i.GuildID != "" {
		if g, ok := c.Guild(i.GuildID); ok {
			vars.Merge(GuildVariables(g))
		}
	}
	return vars
}
