package platform

import (
	"bytes"

	"github.com/bwmarrin/discordgo"

	"github.com/embedg/embedg/pkg/domain/message"
)

// ---------------------------------------------------------------------------
// Payload -> discordgo
// ---------------------------------------------------------------------------

// ToWebhookParams builds an execute request for p.
func ToWebhookParams(p message.Payload) *discordgo.WebhookParams {
	return &discordgo.WebhookParams{
		Content:    p.Content,
		Username:   p.Username,
		AvatarURL:  p.AvatarURL,
		Embeds:     ToEmbeds(p.Embeds),
		Components: ToComponents(p.Components),
		Files:      ToFiles(p.Attachments),
	}
}

// ToWebhookEdit builds an edit request replacing every part of the message.
func ToWebhookEdit(p message.Payload) *discordgo.WebhookEdit {
	content := p.Content
	embeds := ToEmbeds(p.Embeds)
	components := ToComponents(p.Components)
	return &discordgo.WebhookEdit{
		Content:    &content,
		Embeds:     &embeds,
		Components: &components,
		Files:      ToFiles(p.Attachments),
	}
}

// ToResponseData builds interaction response data for p.
func ToResponseData(p message.Payload, flags discordgo.MessageFlags) *discordgo.InteractionResponseData {
	return &discordgo.InteractionResponseData{
		Content:    p.Content,
		Embeds:     ToEmbeds(p.Embeds),
		Components: ToComponents(p.Components),
		Flags:      flags,
	}
}

func ToEmbeds(in []message.Embed) []*discordgo.MessageEmbed {
	out := make([]*discordgo.MessageEmbed, 0, len(in))
	for _, e := range in {
		de := &discordgo.MessageEmbed{
			Type:        discordgo.EmbedTypeRich,
			Title:       e.Title,
			Description: e.Description,
			URL:         e.URL,
			Timestamp:   e.Timestamp,
			Color:       e.Color,
		}
		if e.Author != nil {
			de.Author = &discordgo.MessageEmbedAuthor{Name: e.Author.Name, URL: e.Author.URL, IconURL: e.Author.IconURL}
		}
		if e.Footer != nil {
			de.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer.Text, IconURL: e.Footer.IconURL}
		}
		if e.Image != nil {
			de.Image = &discordgo.MessageEmbedImage{URL: e.Image.URL}
		}
		if e.Thumbnail != nil {
			de.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: e.Thumbnail.URL}
		}
		for _, f := range e.Fields {
			de.Fields = append(de.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
		}
		out = append(out, de)
	}
	return out
}

func ToComponents(rows []message.ActionRow) []discordgo.MessageComponent {
	out := make([]discordgo.MessageComponent, 0, len(rows))
	for _, row := range rows {
		dr := discordgo.ActionsRow{Components: make([]discordgo.MessageComponent, 0, len(row.Components))}
		for _, c := range row.Components {
			switch c.Type {
			case message.ComponentButton:
				dr.Components = append(dr.Components, discordgo.Button{
					Label:    c.Label,
					Style:    discordgo.ButtonStyle(c.Style),
					Disabled: c.Disabled,
					Emoji:    toEmoji(c.Emoji),
					URL:      c.URL,
					CustomID: c.CustomID,
				})
			case message.ComponentStringSelect:
				opts := make([]discordgo.SelectMenuOption, 0, len(c.Options))
				for _, o := range c.Options {
					opts = append(opts, discordgo.SelectMenuOption{
						Label:       o.Label,
						Value:       o.Value,
						Description: o.Description,
						Emoji:       toEmoji(o.Emoji),
						Default:     o.Default,
					})
				}
				dr.Components = append(dr.Components, discordgo.SelectMenu{
					MenuType:    discordgo.StringSelectMenu,
					CustomID:    c.CustomID,
					Placeholder: c.Placeholder,
					Options:     opts,
					Disabled:    c.Disabled,
				})
			}
		}
		out = append(out, dr)
	}
	return out
}

func toEmoji(e *message.Emoji) *discordgo.ComponentEmoji {
	if e == nil {
		return nil
	}
	return &discordgo.ComponentEmoji{ID: e.ID, Name: e.Name, Animated: e.Animated}
}

// ToFiles converts decoded attachments to multipart uploads.
func ToFiles(in []message.Attachment) []*discordgo.File {
	if len(in) == 0 {
		return nil
	}
	out := make([]*discordgo.File, 0, len(in))
	for _, a := range in {
		out = append(out, &discordgo.File{
			Name:        a.Name,
			ContentType: a.ContentType,
			Reader:      bytes.NewReader(a.Data),
		})
	}
	return out
}

// ---------------------------------------------------------------------------
// discordgo -> payload
// ---------------------------------------------------------------------------

// PayloadFromMessage reconstructs the payload of a delivered message. Embeds
// Discord generated itself (link previews) are skipped.
func PayloadFromMessage(m *discordgo.Message) message.Payload {
	p := message.Payload{Content: m.Content}

	for _, e := range m.Embeds {
		if e == nil || (e.Type != "" && e.Type != discordgo.EmbedTypeRich) {
			continue
		}
		me := message.Embed{
			Title:       e.Title,
			Description: e.Description,
			URL:         e.URL,
			Timestamp:   e.Timestamp,
			Color:       e.Color,
		}
		if e.Author != nil {
			me.Author = &message.EmbedAuthor{Name: e.Author.Name, URL: e.Author.URL, IconURL: e.Author.IconURL}
		}
		if e.Footer != nil {
			me.Footer = &message.EmbedFooter{Text: e.Footer.Text, IconURL: e.Footer.IconURL}
		}
		if e.Image != nil {
			me.Image = &message.EmbedMedia{URL: e.Image.URL}
		}
		if e.Thumbnail != nil {
			me.Thumbnail = &message.EmbedMedia{URL: e.Thumbnail.URL}
		}
		for _, f := range e.Fields {
			if f == nil {
				continue
			}
			me.Fields = append(me.Fields, message.EmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
		}
		p.Embeds = append(p.Embeds, me)
	}

	for _, c := range m.Components {
		var row *discordgo.ActionsRow
		switch r := c.(type) {
		case *discordgo.ActionsRow:
			row = r
		case discordgo.ActionsRow:
			row = &r
		default:
			continue
		}
		mr := message.ActionRow{Components: make([]message.Component, 0, len(row.Components))}
		for _, inner := range row.Components {
			if comp, ok := componentFrom(inner); ok {
				mr.Components = append(mr.Components, comp)
			}
		}
		p.Components = append(p.Components, mr)
	}
	return p
}

func componentFrom(c discordgo.MessageComponent) (message.Component, bool) {
	switch v := c.(type) {
	case *discordgo.Button:
		return buttonFrom(*v), true
	case discordgo.Button:
		return buttonFrom(v), true
	case *discordgo.SelectMenu:
		return selectFrom(*v), true
	case discordgo.SelectMenu:
		return selectFrom(v), true
	}
	return message.Component{}, false
}

func buttonFrom(b discordgo.Button) message.Component {
	return message.Component{
		Type:     message.ComponentButton,
		Style:    int(b.Style),
		Label:    b.Label,
		CustomID: b.CustomID,
		URL:      b.URL,
		Disabled: b.Disabled,
		Emoji:    emojiFrom(b.Emoji),
	}
}

func selectFrom(s discordgo.SelectMenu) message.Component {
	c := message.Component{
		Type:        message.ComponentStringSelect,
		CustomID:    s.CustomID,
		Placeholder: s.Placeholder,
		Disabled:    s.Disabled,
	}
	for _, o := range s.Options {
		c.Options = append(c.Options, message.SelectOption{
			Label:       o.Label,
			Value:       o.Value,
			Description: o.Description,
			Emoji:       emojiFrom(o.Emoji),
			Default:     o.Default,
		})
	}
	return c
}

func emojiFrom(e *discordgo.ComponentEmoji) *message.Emoji {
	if e == nil || (e.ID == "" && e.Name == "") {
		return nil
	}
	return &message.Emoji{ID: e.ID, Name: e.Name, Animated: e.Animated}
}
