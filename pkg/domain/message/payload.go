// Package message defines the message payload users compose, its integrity
// digest and the variable expansion applied before dispatch.
package message

import (
	"encoding/json"
	"fmt"
)

// Payload is a message definition as stored in saved messages and submitted
// to the send route. JSON field names follow the Discord API.
type Payload struct {
	Content    string      `json:"content,omitempty"`
	Username   string      `json:"username,omitempty"`
	AvatarURL  string      `json:"avatar_url,omitempty"`
	Embeds     []Embed     `json:"embeds,omitempty"`
	Components []ActionRow `json:"components,omitempty"`

	// Attachments are decoded uploads; they are never part of the digest.
	Attachments []Attachment `json:"-"`
}

type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Color       int          `json:"color,omitempty"`
	Author      *EmbedAuthor `json:"author,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Image       *EmbedMedia  `json:"image,omitempty"`
	Thumbnail   *EmbedMedia  `json:"thumbnail,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
}

type EmbedAuthor struct {
	Name    string `json:"name"`
	URL     string `json:"url,omitempty"`
	IconURL string `json:"icon_url,omitempty"`
}

type EmbedFooter struct {
	Text    string `json:"text"`
	IconURL string `json:"icon_url,omitempty"`
}

type EmbedMedia struct {
	URL string `json:"url"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// ---------------------------------------------------------------------------
// Components
// ---------------------------------------------------------------------------

// ComponentType values follow the Discord API.
type ComponentType int

const (
	ComponentActionRow    ComponentType = 1
	ComponentButton       ComponentType = 2
	ComponentStringSelect ComponentType = 3
)

// ButtonStyleLink buttons carry a URL instead of a custom id.
const ButtonStyleLink = 5

// ActionRow is a top-level component row.
type ActionRow struct {
	Components []Component `json:"components"`
}

// Component is a button or a string select menu inside an ActionRow.
type Component struct {
	Type        ComponentType  `json:"type"`
	Style       int            `json:"style,omitempty"`
	Label       string         `json:"label,omitempty"`
	CustomID    string         `json:"custom_id,omitempty"`
	URL         string         `json:"url,omitempty"`
	Disabled    bool           `json:"disabled,omitempty"`
	Emoji       *Emoji         `json:"emoji,omitempty"`
	Placeholder string         `json:"placeholder,omitempty"`
	Options     []SelectOption `json:"options,omitempty"`
}

type Emoji struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	Animated bool   `json:"animated,omitempty"`
}

type SelectOption struct {
	Label       string `json:"label"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
	Emoji       *Emoji `json:"emoji,omitempty"`
	Default     bool   `json:"default,omitempty"`
}

// MarshalJSON writes the row with its fixed component type.
func (r ActionRow) MarshalJSON() ([]byte, error) {
	type row ActionRow
	return json.Marshal(struct {
		Type ComponentType `json:"type"`
		row
	}{ComponentActionRow, row(r)})
}

// ---------------------------------------------------------------------------
// Attachments
// ---------------------------------------------------------------------------

// Attachment is a decoded file uploaded alongside a message.
type Attachment struct {
	Name        string
	Description string
	ContentType string
	Data        []byte
}

// ---------------------------------------------------------------------------

// Parse decodes a payload from its JSON form.
func Parse(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("decode payload: %w", err)
	}
	for i, row := range p.Components {
		for j, c := range row.Components {
			if c.Type != ComponentButton && c.Type != ComponentStringSelect {
				return Payload{}, fmt.Errorf("decode payload: component %d.%d has unsupported type %d", i, j, c.Type)
			}
		}
	}
	return p, nil
}

// WithoutComponents returns a copy of p with every component row removed.
func (p Payload) WithoutComponents() Payload {
	p.Components = nil
	return p
}

// Clone returns a deep copy of p so expansion never writes through to the
// caller's slices.
func (p Payload) Clone() Payload {
	out := p
	if p.Embeds != nil {
		out.Embeds = make([]Embed, len(p.Embeds))
		for i, e := range p.Embeds {
			out.Embeds[i] = e.clone()
		}
	}
	if p.Components != nil {
		out.Components = make([]ActionRow, len(p.Components))
		for i, row := range p.Components {
			out.Components[i].Components = make([]Component, len(row.Components))
			for j, c := range row.Components {
				out.Components[i].Components[j] = c.clone()
			}
		}
	}
	if p.Attachments != nil {
		out.Attachments = append([]Attachment(nil), p.Attachments...)
	}
	return out
}

func (e Embed) clone() Embed {
	out := e
	if e.Author != nil {
		a := *e.Author
		out.Author = &a
	}
	if e.Footer != nil {
		f := *e.Footer
		out.Footer = &f
	}
	if e.Image != nil {
		m := *e.Image
		out.Image = &m
	}
	if e.Thumbnail != nil {
		m := *e.Thumbnail
		out.Thumbnail = &m
	}
	if e.Fields != nil {
		out.Fields = append([]EmbedField(nil), e.Fields...)
	}
	return out
}

func (c Component) clone() Component {
	out := c
	if c.Emoji != nil {
		em := *c.Emoji
		out.Emoji = &em
	}
	if c.Options != nil {
		out.Options = make([]SelectOption, len(c.Options))
		for i, o := range c.Options {
			if o.Emoji != nil {
				em := *o.Emoji
				o.Emoji = &em
			}
			out.Options[i] = o
		}
	}
	return out
}
