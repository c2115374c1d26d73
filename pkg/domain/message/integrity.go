package message

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// HashPrefix tags digests with their algorithm.
const HashPrefix = "sha256:"

// Hash returns the integrity digest of p: SHA-256 over the canonical JSON of
// its content, embeds and components. Only data that Discord echoes back on
// a delivered message takes part, so hashing the observed message of an
// unmodified delivery reproduces the stored digest.
func Hash(p Payload) string {
	b, err := json.Marshal(canonicalize(p))
	if err != nil {
		// canonicalPayload holds only strings, ints and bools.
		panic("message: canonical payload not encodable: " + err.Error())
	}
	sum := sha256.Sum256(b)
	return HashPrefix + hex.EncodeToString(sum[:])
}

type canonicalPayload struct {
	Content    string             `json:"content"`
	Embeds     []canonicalEmbed   `json:"embeds"`
	Components [][]canonicalField `json:"components"`
}

type canonicalEmbed struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	URL         string           `json:"url"`
	Timestamp   string           `json:"timestamp"`
	Color       int              `json:"color"`
	Author      []string         `json:"author"`
	Footer      []string         `json:"footer"`
	Image       string           `json:"image"`
	Thumbnail   string           `json:"thumbnail"`
	Fields      []canonicalField `json:"fields"`
}

// canonicalField is an ordered list so key order never depends on struct
// layout or map iteration.
type canonicalField []interface{}

// canonicalize trims leading and trailing whitespace of text fields the way
// Discord does before storing a message, so the sent payload and the echoed
// message agree. Whitespace-only edits cannot survive delivery and therefore
// cannot be used to tamper.
func canonicalize(p Payload) canonicalPayload {
	out := canonicalPayload{
		Content:    strings.TrimSpace(p.Content),
		Embeds:     make([]canonicalEmbed, 0, len(p.Embeds)),
		Components: make([][]canonicalField, 0, len(p.Components)),
	}

	for _, e := range p.Embeds {
		ce := canonicalEmbed{
			Title:       strings.TrimSpace(e.Title),
			Description: strings.TrimSpace(e.Description),
			URL:         e.URL,
			Timestamp:   canonicalTimestamp(e.Timestamp),
			Color:       e.Color,
			Fields:      make([]canonicalField, 0, len(e.Fields)),
		}
		if e.Author != nil && e.Author.Name != "" {
			ce.Author = []string{strings.TrimSpace(e.Author.Name), e.Author.URL, e.Author.IconURL}
		}
		if e.Footer != nil && e.Footer.Text != "" {
			ce.Footer = []string{strings.TrimSpace(e.Footer.Text), e.Footer.IconURL}
		}
		if e.Image != nil {
			ce.Image = e.Image.URL
		}
		if e.Thumbnail != nil {
			ce.Thumbnail = e.Thumbnail.URL
		}
		for _, f := range e.Fields {
			ce.Fields = append(ce.Fields, canonicalField{
				strings.TrimSpace(f.Name), strings.TrimSpace(f.Value), f.Inline,
			})
		}
		out.Embeds = append(out.Embeds, ce)
	}

	for _, row := range p.Components {
		cr := make([]canonicalField, 0, len(row.Components))
		for _, c := range row.Components {
			cr = append(cr, canonicalComponent(c))
		}
		out.Components = append(out.Components, cr)
	}
	return out
}

func canonicalComponent(c Component) canonicalField {
	f := canonicalField{
		int(c.Type), c.Style, c.Label, c.CustomID, c.URL, c.Disabled,
		canonicalEmoji(c.Emoji), c.Placeholder,
	}
	opts := make([]canonicalField, 0, len(c.Options))
	for _, o := range c.Options {
		opts = append(opts, canonicalField{o.Label, o.Value, o.Description, canonicalEmoji(o.Emoji), o.Default})
	}
	return append(f, opts)
}

func canonicalEmoji(e *Emoji) []interface{} {
	if e == nil || (e.ID == "" && e.Name == "") {
		return nil
	}
	return []interface{}{e.ID, e.Name, e.Animated}
}

// canonicalTimestamp renders any RFC 3339 timestamp in UTC with second
// precision; Discord echoes timestamps with its own offset and fraction.
func canonicalTimestamp(ts string) string {
	if ts == "" {
		return ""
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return t.UTC().Format(time.RFC3339)
}
