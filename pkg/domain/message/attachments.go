package message

import (
	"github.com/vincent-petithory/dataurl"
)

// EncodedAttachment is an upload as it arrives over the wire.
type EncodedAttachment struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	DataURL     string `json:"data_url"`
}

// DecodeAttachments decodes data URLs into attachments. Entries whose data
// cannot be decoded are dropped; names are reduced to [A-Za-z0-9._-].
func DecodeAttachments(in []EncodedAttachment) []Attachment {
	out := make([]Attachment, 0, len(in))
	for _, a := range in {
		du, err := dataurl.DecodeString(a.DataURL)
		if err != nil {
			continue
		}
		out = append(out, Attachment{
			Name:        SanitizeFilename(a.Name),
			Description: a.Description,
			ContentType: du.ContentType(),
			Data:        du.Data,
		})
	}
	return out
}

// SanitizeFilename keeps ASCII letters, digits, '.', '-' and '_'.
func SanitizeFilename(name string) string {
	b := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '.', c == '-', c == '_':
			b = append(b, c)
		}
	}
	return string(b)
}
