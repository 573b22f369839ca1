package gateway

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/eludris/eludris/internal/models"
)

// rewriteEvent adjusts a bus event for one subscriber. The subscriber's own
// profile and presence updates refresh the local view and are swallowed;
// other users' events are scrubbed of private fields before forwarding. The
// returned bool reports whether the event should be sent.
func rewriteEvent(payload models.Payload, self *models.User) (models.Payload, bool) {
	switch payload.Op {
	case models.OpPresenceUpdate:
		var data models.PresenceUpdateData
		if err := json.Unmarshal(payload.D, &data); err != nil {
			log.Error().Err(err).Msg("malformed presence update on the bus")
			return models.Payload{}, false
		}
		if data.UserID == self.ID {
			self.Status = data.Status
			return models.Payload{}, false
		}
		if data.Status.Type == models.StatusOffline {
			// An offline user's status text is private.
			data.Status.Text = nil
			return models.NewPayload(models.OpPresenceUpdate, data), true
		}
		return payload, true
	case models.OpUserUpdate:
		var user models.User
		if err := json.Unmarshal(payload.D, &user); err != nil {
			log.Error().Err(err).Msg("malformed user update on the bus")
			return models.Payload{}, false
		}
		if user.ID == self.ID {
			*self = user
			return models.Payload{}, false
		}
		user.Email = nil
		user.Verified = nil
		if user.Status.Type == models.StatusOffline {
			user.Status.Text = nil
		}
		return models.NewPayload(models.OpUserUpdate, user), true
	}
	return payload, true
}
