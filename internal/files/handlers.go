package files

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/eludris/eludris/internal/apierror"
	"github.com/eludris/eludris/internal/config"
	"github.com/eludris/eludris/internal/metrics"
	"github.com/eludris/eludris/internal/models"
	"github.com/eludris/eludris/internal/ratelimit"
)

// Server exposes the file service over HTTP.
type Server struct {
	Store   *Store
	Limiter *ratelimit.Limiter
	Conf    *config.Conf
}

// Routes creates the file service router. The bare paths are shortcuts for
// the attachments bucket.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware("effis"))

	r.Handle("/metrics", metrics.Handler())

	r.Get("/static/{name}", s.GetStaticFile)
	r.Get("/static/{name}/download", s.DownloadStaticFile)

	r.Post("/", s.uploadTo("attachments"))
	r.Get("/{id}", s.fetchFrom("attachments", "inline"))
	r.Get("/{id}/download", s.fetchFrom("attachments", "attachment"))
	r.Get("/{id}/data", s.fetchDataFrom("attachments"))

	r.Post("/{bucket}", s.UploadFile)
	r.Get("/{bucket}/{id}", s.GetFile)
	r.Get("/{bucket}/{id}/download", s.DownloadFile)
	r.Get("/{bucket}/{id}/data", s.GetFileData)

	log.Info().Msg("file routes registered")
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	apierror.Write(w, apierror.From(err))
}

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

func checkBucket(bucket string) error {
	if !ValidBucket(bucket) {
		return apierror.Validation("bucket", "Unknown bucket")
	}
	return nil
}

// UploadFile handles POST /{bucket}.
func (s *Server) UploadFile(w http.ResponseWriter, r *http.Request) {
	s.uploadTo(chi.URLParam(r, "bucket"))(w, r)
}

func (s *Server) uploadTo(bucket string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		maxSize := s.Conf.Effis.FileSize
		if bucket == "attachments" {
			maxSize = s.Conf.Effis.AttachmentFileSize
		}
		r.Body = http.MaxBytesReader(w, r.Body, int64(maxSize)+1)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeError(w, apierror.Validation("body", "Malformed multipart form"))
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, apierror.Validation("file", "A file field is required"))
			return
		}
		defer file.Close()

		// The upload bucket's window tracks both request count and bytes.
		res, err := s.Limiter.ProcessUpload(r.Context(), bucket, clientIP(r),
			s.Conf.UploadRateLimit(bucket), uint64(header.Size))
		res.SetHeaders(w.Header())
		if err != nil {
			writeError(w, err)
			return
		}
		if err := checkBucket(bucket); err != nil {
			writeError(w, err)
			return
		}
		if uint64(header.Size) > maxSize {
			writeError(w, apierror.Validation("file", fmt.Sprintf(
				"The file size must not exceed %d bytes", maxSize)))
			return
		}

		spoiler := r.FormValue("spoiler") == "true"
		data, err := s.Store.Create(r.Context(), bucket, header.Filename, file, spoiler)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, data)
	}
}

// GetFile handles GET /{bucket}/{id}.
func (s *Server) GetFile(w http.ResponseWriter, r *http.Request) {
	s.fetchFrom(chi.URLParam(r, "bucket"), "inline")(w, r)
}

// DownloadFile handles GET /{bucket}/{id}/download.
func (s *Server) DownloadFile(w http.ResponseWriter, r *http.Request) {
	s.fetchFrom(chi.URLParam(r, "bucket"), "attachment")(w, r)
}

func (s *Server) fetchFrom(bucket, disposition string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		file, ok := s.admitFetch(w, r, bucket)
		if !ok {
			return
		}
		blob, err := s.Store.Open(file)
		if err != nil {
			writeError(w, err)
			return
		}
		defer blob.Close()

		w.Header().Set("Content-Type", file.ContentType)
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("%s; filename=%q", disposition, file.Name))
		if _, err := io.Copy(w, blob); err != nil {
			log.Error().Err(err).Uint64("id", file.ID).Msg("failed to stream file")
		}
	}
}

// GetFileData handles GET /{bucket}/{id}/data.
func (s *Server) GetFileData(w http.ResponseWriter, r *http.Request) {
	s.fetchDataFrom(chi.URLParam(r, "bucket"))(w, r)
}

func (s *Server) fetchDataFrom(bucket string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		file, ok := s.admitFetch(w, r, bucket)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, file.Data())
	}
}

// admitFetch runs the fetch_file bucket, validates the target bucket and
// resolves the file row. On a false return the response is already written.
func (s *Server) admitFetch(w http.ResponseWriter, r *http.Request, bucket string) (models.File, bool) {
	res, err := s.Limiter.Process(r.Context(), "fetch_file", clientIP(r),
		s.Conf.Effis.RateLimits.FetchFile)
	res.SetHeaders(w.Header())
	if err != nil {
		writeError(w, err)
		return models.File{}, false
	}
	if err := checkBucket(bucket); err != nil {
		writeError(w, err)
		return models.File{}, false
	}
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, apierror.Validation("id", "The file id must be a number"))
		return models.File{}, false
	}
	file, err := s.Store.Get(r.Context(), id, bucket)
	if err != nil {
		writeError(w, err)
		return models.File{}, false
	}
	return file, true
}
