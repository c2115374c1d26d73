package api

import (
	"net/http"

	"github.com/embedg/embedg/pkg/app"
	"github.com/embedg/embedg/pkg/domain"
	"github.com/embedg/embedg/pkg/domain/message"
)

// sendTargetWire is the tagged target of a send request:
//
//	{"type":"channel","guild_id":"…","channel_id":"…","message_id":"…"}
//	{"type":"webhook","webhook_id":"…","webhook_token":"…","thread_id":"…","message_id":"…"}
type sendTargetWire struct {
	Type         string `json:"type"`
	GuildID      string `json:"guild_id,omitempty"`
	ChannelID    string `json:"channel_id,omitempty"`
	WebhookID    string `json:"webhook_id,omitempty"`
	WebhookToken string `json:"webhook_token,omitempty"`
	ThreadID     string `json:"thread_id,omitempty"`
	MessageID    string `json:"message_id,omitempty"`
}

type sendRequestWire struct {
	Target      sendTargetWire              `json:"target"`
	PayloadJSON string                      `json:"payload_json"`
	Attachments []message.EncodedAttachment `json:"attachments"`
}

func (t sendTargetWire) target() (app.SendTarget, error) {
	switch t.Type {
	case "channel":
		if t.GuildID == "" || t.ChannelID == "" {
			return nil, domain.InvalidRequest("channel target needs guild_id and channel_id")
		}
		return app.ChannelTarget{GuildID: t.GuildID, ChannelID: t.ChannelID, MessageID: t.MessageID}, nil
	case "webhook":
		if t.WebhookID == "" || t.WebhookToken == "" {
			return nil, domain.InvalidRequest("webhook target needs webhook_id and webhook_token")
		}
		return app.WebhookTarget{
			WebhookID: t.WebhookID,
			Token:     t.WebhookToken,
			ThreadID:  t.ThreadID,
			MessageID: t.MessageID,
		}, nil
	default:
		return nil, domain.InvalidRequest("unknown target type %q", t.Type)
	}
}

// POST /api/messages/send creates or edits a message on behalf of the session user.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request, sess *app.Session) {
	var req sendRequestWire
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	target, err := req.Target.target()
	if err != nil {
		writeError(w, err)
		return
	}
	payload, err := message.Parse([]byte(req.PayloadJSON))
	if err != nil {
		writeError(w, domain.InvalidRequest("invalid payload_json: %v", err))
		return
	}

	id, err := s.container.Delivery.Send(r.Context(), app.SendRequest{
		UserID:      sess.UserID,
		Target:      target,
		Payload:     payload,
		Attachments: message.DecodeAttachments(req.Attachments),
	})
	if err != nil {
		status, body := errorResponse(err)
		body.MessageID = id
		writeJSON(w, status, map[string]errorBody{"error": body})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message_id": id})
}
