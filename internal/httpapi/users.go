package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/eludris/eludris/internal/apierror"
	"github.com/eludris/eludris/internal/cache"
	"github.com/eludris/eludris/internal/models"
)

// CreateUser handles POST /users.
func (s *Server) CreateUser(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r, "create_user", clientIP(r)) {
		return
	}
	var create models.UserCreate
	if err := readJSON(r, &create); err != nil {
		writeError(w, err)
		return
	}
	user, err := s.Svc.CreateUser(r.Context(), create)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// VerifyUser handles POST /users/verify?code=N.
func (s *Server) VerifyUser(w http.ResponseWriter, r *http.Request) {
	session, err := s.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if !s.admit(w, r, "verify_user", strconv.FormatUint(session.UserID, 10)) {
		return
	}
	code, err := strconv.ParseUint(r.URL.Query().Get("code"), 10, 32)
	if err != nil {
		writeError(w, apierror.Validation("code", "The verification code must be a number"))
		return
	}
	if err := s.Svc.VerifyUser(r.Context(), uint32(code), session); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSelf handles GET /users/@me.
func (s *Server) GetSelf(w http.ResponseWriter, r *http.Request) {
	session, err := s.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if !s.admit(w, r, "get_user", strconv.FormatUint(session.UserID, 10)) {
		return
	}
	user, err := s.Svc.GetUser(r.Context(), session.UserID, &session.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// GetUser handles GET /users/{identifier} where the identifier is either an
// id or a username. Authentication is optional; guests get their own, more
// conservative bucket.
func (s *Server) GetUser(w http.ResponseWriter, r *http.Request) {
	var requesterID *uint64
	if r.Header.Get("Authorization") != "" {
		session, err := s.authenticate(r)
		if err != nil {
			writeError(w, err)
			return
		}
		requesterID = &session.UserID
	}

	if requesterID != nil {
		if !s.admit(w, r, "get_user", strconv.FormatUint(*requesterID, 10)) {
			return
		}
	} else if !s.admit(w, r, "guest_get_user", clientIP(r)) {
		return
	}

	identifier := chi.URLParam(r, "identifier")
	var user models.User
	var err error
	if id, numErr := strconv.ParseUint(identifier, 10, 64); numErr == nil {
		user, err = s.Svc.GetUser(r.Context(), id, requesterID)
	} else {
		user, err = s.Svc.GetUserByUsername(r.Context(), identifier, requesterID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UpdateUser handles PATCH /users.
func (s *Server) UpdateUser(w http.ResponseWriter, r *http.Request) {
	session, err := s.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if !s.admit(w, r, "update_user", strconv.FormatUint(session.UserID, 10)) {
		return
	}
	var update models.UpdateUser
	if err := readJSON(r, &update); err != nil {
		writeError(w, err)
		return
	}
	user, err := s.Svc.UpdateUser(r.Context(), session.UserID, update)
	if err != nil {
		writeError(w, err)
		return
	}
	s.publishUserUpdate(r, user)
	writeJSON(w, http.StatusOK, user)
}

// UpdateProfile handles PATCH /users/profile.
func (s *Server) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	session, err := s.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if !s.admit(w, r, "update_profile", strconv.FormatUint(session.UserID, 10)) {
		return
	}
	var profile models.UpdateUserProfile
	if err := readJSON(r, &profile); err != nil {
		writeError(w, err)
		return
	}
	user, err := s.Svc.UpdateProfile(r.Context(), session.UserID, profile)
	if err != nil {
		writeError(w, err)
		return
	}
	s.publishUserUpdate(r, user)
	writeJSON(w, http.StatusOK, user)
}

// publishUserUpdate fans a USER_UPDATE out on the events channel. The event
// carries the self view; the gateway scrubs it per subscriber.
func (s *Server) publishUserUpdate(r *http.Request, user models.User) {
	payload := models.NewPayload(models.OpUserUpdate, user)
	if err := cache.PublishEvent(r.Context(), s.Svc.Cache, payload); err != nil {
		log.Error().Err(err).Msg("failed to publish user update event")
	}
}

// DeleteUser handles DELETE /users.
func (s *Server) DeleteUser(w http.ResponseWriter, r *http.Request) {
	session, err := s.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if !s.admit(w, r, "delete_user", strconv.FormatUint(session.UserID, 10)) {
		return
	}
	var credentials models.PasswordDeleteCredentials
	if err := readJSON(r, &credentials); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Svc.DeleteUser(r.Context(), session.UserID, credentials.Password); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreatePasswordResetCode handles POST /users/reset-password.
func (s *Server) CreatePasswordResetCode(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r, "create_password_reset_code", clientIP(r)) {
		return
	}
	var create models.CreatePasswordResetCode
	if err := readJSON(r, &create); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Svc.CreatePasswordResetCode(r.Context(), create.Email); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResetPassword handles PATCH /users/reset-password.
func (s *Server) ResetPassword(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r, "reset_password", clientIP(r)) {
		return
	}
	var reset models.ResetPassword
	if err := readJSON(r, &reset); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Svc.ResetPassword(r.Context(), reset); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
