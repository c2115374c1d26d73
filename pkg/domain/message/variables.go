package message

import (
	"io"
	"strings"

	"github.com/valyala/fasttemplate"
)

// Template tag delimiters, e.g. "Welcome to {{server.name}}".
const (
	TagStart = "{{"
	TagEnd   = "}}"
)

// Variables is the flat key/value context a payload is expanded against.
type Variables map[string]string

// Merge copies every entry of other into v.
func (v Variables) Merge(other Variables) {
	for k, val := range other {
		v[k] = val
	}
}

// ExpandString replaces {{key}} tags in s. Whitespace around the key is
// ignored; unknown keys are left untouched.
func (v Variables) ExpandString(s string) string {
	if len(v) == 0 || !strings.Contains(s, TagStart) {
		return s
	}
	return fasttemplate.ExecuteFuncString(s, TagStart, TagEnd, func(w io.Writer, tag string) (int, error) {
		if val, ok := v[strings.TrimSpace(tag)]; ok {
			return io.WriteString(w, val)
		}
		return io.WriteString(w, TagStart+tag+TagEnd)
	})
}

// Expand returns a copy of p with every user-visible text expanded. Custom ids
// and option values are left alone since they carry action tokens.
func (v Variables) Expand(p Payload) Payload {
	out := p.Clone()
	out.Content = v.ExpandString(out.Content)
	out.Username = v.ExpandString(out.Username)
	out.AvatarURL = v.ExpandString(out.AvatarURL)

	for i := range out.Embeds {
		e := &out.Embeds[i]
		e.Title = v.ExpandString(e.Title)
		e.Description = v.ExpandString(e.Description)
		e.URL = v.ExpandString(e.URL)
		if e.Author != nil {
			e.Author.Name = v.ExpandString(e.Author.Name)
			e.Author.URL = v.ExpandString(e.Author.URL)
			e.Author.IconURL = v.ExpandString(e.Author.IconURL)
		}
		if e.Footer != nil {
			e.Footer.Text = v.ExpandString(e.Footer.Text)
			e.Footer.IconURL = v.ExpandString(e.Footer.IconURL)
		}
		if e.Image != nil {
			e.Image.URL = v.ExpandString(e.Image.URL)
		}
		if e.Thumbnail != nil {
			e.Thumbnail.URL = v.ExpandString(e.Thumbnail.URL)
		}
		for j := range e.Fields {
			e.Fields[j].Name = v.ExpandString(e.Fields[j].Name)
			e.Fields[j].Value = v.ExpandString(e.Fields[j].Value)
		}
	}

	for i := range out.Components {
		for j := range out.Components[i].Components {
			c := &out.Components[i].Components[j]
			c.Label = v.ExpandString(c.Label)
			c.Placeholder = v.ExpandString(c.Placeholder)
			for k := range c.Options {
				c.Options[k].Label = v.ExpandString(c.Options[k].Label)
				c.Options[k].Description = v.ExpandString(c.Options[k].Description)
			}
		}
	}
	return out
}
