package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/eludris/eludris/internal/apierror"
	"github.com/eludris/eludris/internal/models"
)

// CreateSession handles POST /sessions.
func (s *Server) CreateSession(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r, "create_session", clientIP(r)) {
		return
	}
	var create models.SessionCreate
	if err := readJSON(r, &create); err != nil {
		writeError(w, err)
		return
	}
	created, err := s.Svc.CreateSession(r.Context(), create, clientIP(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GetSessions handles GET /sessions.
func (s *Server) GetSessions(w http.ResponseWriter, r *http.Request) {
	session, err := s.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if !s.admit(w, r, "get_sessions", strconv.FormatUint(session.UserID, 10)) {
		return
	}
	sessions, err := s.Svc.Sessions(r.Context(), session.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// DeleteSession handles DELETE /sessions/{id}.
func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if !s.admit(w, r, "delete_session", strconv.FormatUint(session.UserID, 10)) {
		return
	}
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, apierror.Validation("id", "The session id must be a number"))
		return
	}
	var credentials models.PasswordDeleteCredentials
	if err := readJSON(r, &credentials); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Svc.DeleteSession(r.Context(), session.UserID, id, credentials.Password); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
