// Package httpapi implements the REST API.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/eludris/eludris/internal/apierror"
	"github.com/eludris/eludris/internal/metrics"
	"github.com/eludris/eludris/internal/models"
	"github.com/eludris/eludris/internal/ratelimit"
	"github.com/eludris/eludris/internal/service"
)

// Server holds dependencies for HTTP handlers
type Server struct {
	Svc     *service.Service
	Limiter *ratelimit.Limiter
}

// Routes creates the HTTP router with all endpoints
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware("oprish"))

	r.Get("/", s.GetInstanceInfo)
	r.Post("/messages", s.CreateMessage)

	r.Route("/users", func(r chi.Router) {
		r.Post("/", s.CreateUser)
		r.Patch("/", s.UpdateUser)
		r.Delete("/", s.DeleteUser)
		r.Post("/verify", s.VerifyUser)
		r.Get("/@me", s.GetSelf)
		r.Patch("/profile", s.UpdateProfile)
		r.Post("/reset-password", s.CreatePasswordResetCode)
		r.Patch("/reset-password", s.ResetPassword)
		r.Get("/{identifier}", s.GetUser)
	})

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.CreateSession)
		r.Get("/", s.GetSessions)
		r.Delete("/{id}", s.DeleteSession)
	})

	r.Handle("/metrics", metrics.Handler())

	log.Info().Msg("HTTP routes registered")
	return r
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// writeError maps a domain error to its HTTP response.
func writeError(w http.ResponseWriter, err error) {
	apierror.Write(w, apierror.From(err))
}

// readJSON decodes a request body, rejecting malformed input as VALIDATION.
func readJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apierror.Validation("body", "Malformed request body")
	}
	return nil
}

// clientIP resolves the caller's address. middleware.RealIP has already
// folded the proxy headers into RemoteAddr.
func clientIP(r *http.Request) string {
	ip := r.RemoteAddr
	if i := strings.LastIndex(ip, ":"); i != -1 && strings.Count(ip, ":") == 1 {
		ip = ip[:i]
	} else if strings.HasPrefix(ip, "[") {
		if i := strings.LastIndex(ip, "]"); i != -1 {
			ip = ip[1:i]
		}
	}
	return ip
}

// admit runs the rate limiter for a bucket and writes the rate limit headers.
// When the request is rejected the error response has already been written.
func (s *Server) admit(w http.ResponseWriter, r *http.Request, bucket, identifier string) bool {
	res, err := s.Limiter.Process(r.Context(), bucket, identifier, s.Svc.Conf.RateLimit(bucket))
	res.SetHeaders(w.Header())
	if err != nil {
		writeError(w, err)
		return false
	}
	return true
}

// authenticate resolves the session behind the Authorization header.
func (s *Server) authenticate(r *http.Request) (models.Session, error) {
	token := r.Header.Get("Authorization")
	if token == "" {
		return models.Session{}, apierror.Unauthorized()
	}
	return s.Svc.ValidateToken(r.Context(), token)
}
