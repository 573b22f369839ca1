package files

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/eludris/eludris/internal/apierror"
)

// GetStaticFile handles GET /static/{name}.
func (s *Server) GetStaticFile(w http.ResponseWriter, r *http.Request) {
	s.serveStatic(w, r, "inline")
}

// DownloadStaticFile handles GET /static/{name}/download.
func (s *Server) DownloadStaticFile(w http.ResponseWriter, r *http.Request) {
	s.serveStatic(w, r, "attachment")
}

// serveStatic streams a file straight from the static directory. Static files
// are operator-managed and have no database rows.
func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request, disposition string) {
	res, err := s.Limiter.Process(r.Context(), "fetch_file", clientIP(r),
		s.Conf.Effis.RateLimits.FetchFile)
	res.SetHeaders(w.Header())
	if err != nil {
		writeError(w, err)
		return
	}

	name := filepath.Base(chi.URLParam(r, "name"))
	if name == "." || name == string(filepath.Separator) {
		writeError(w, apierror.NotFound())
		return
	}
	file, err := os.Open(filepath.Join(s.Store.Root, "static", name))
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, apierror.NotFound())
			return
		}
		log.Error().Err(err).Str("name", name).Msg("could not open static file")
		writeError(w, apierror.Server("Error fetching file"))
		return
	}
	defer file.Close()

	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, name))
	if _, err := io.Copy(w, file); err != nil {
		log.Error().Err(err).Str("name", name).Msg("failed to stream static file")
	}
}
