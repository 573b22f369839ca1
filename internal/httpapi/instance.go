package httpapi

import (
	"net/http"

	"github.com/eludris/eludris/internal/models"
)

// GetInstanceInfo handles GET /?rate_limits=bool. The per-bucket rate limit
// configuration is only included when requested.
func (s *Server) GetInstanceInfo(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r, "get_instance_info", clientIP(r)) {
		return
	}
	rateLimits := r.URL.Query().Get("rate_limits") == "true"
	writeJSON(w, http.StatusOK, models.InstanceInfoFromConf(s.Svc.Conf, rateLimits))
}
