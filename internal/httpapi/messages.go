package httpapi

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/eludris/eludris/internal/cache"
	"github.com/eludris/eludris/internal/models"
)

// CreateMessage handles POST /messages: validate, stamp the author and fan
// the message out on the events channel.
func (s *Server) CreateMessage(w http.ResponseWriter, r *http.Request) {
	session, err := s.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if !s.admit(w, r, "create_message", strconv.FormatUint(session.UserID, 10)) {
		return
	}

	var create models.MessageCreate
	if err := readJSON(r, &create); err != nil {
		writeError(w, err)
		return
	}
	message, err := s.Svc.CreateMessage(r.Context(), session.UserID, create)
	if err != nil {
		writeError(w, err)
		return
	}

	payload := models.NewPayload(models.OpMessageCreate, message)
	if err := cache.PublishEvent(r.Context(), s.Svc.Cache, payload); err != nil {
		log.Error().Err(err).Msg("failed to publish message event")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, message)
}
