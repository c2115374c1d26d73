package api

import (
	"net/http"

	"github.com/embedg/embedg/pkg/app"
)

// GET /api/saved-messages
func (s *Server) handleListSavedMessages(w http.ResponseWriter, r *http.Request, sess *app.Session) {
	msgs, err := s.container.SavedMessages.List(r.Context(), sess.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// POST /api/saved-messages
func (s *Server) handleCreateSavedMessage(w http.ResponseWriter, r *http.Request, sess *app.Session) {
	var in app.SavedMessageInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	m, err := s.container.SavedMessages.Create(r.Context(), sess.UserID, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// GET /api/saved-messages/{id}
func (s *Server) handleGetSavedMessage(w http.ResponseWriter, r *http.Request, sess *app.Session) {
	m, err := s.container.SavedMessages.Get(r.Context(), sess.UserID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// PUT /api/saved-messages/{id}
func (s *Server) handleUpdateSavedMessage(w http.ResponseWriter, r *http.Request, sess *app.Session) {
	var in app.SavedMessageInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	m, err := s.container.SavedMessages.Update(r.Context(), sess.UserID, r.PathValue("id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// DELETE /api/saved-messages/{id}
func (s *Server) handleDeleteSavedMessage(w http.ResponseWriter, r *http.Request, sess *app.Session) {
	if err := s.container.SavedMessages.Delete(r.Context(), sess.UserID, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
