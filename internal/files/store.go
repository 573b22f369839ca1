// Package files implements the file service: content-addressed deduplicated
// storage with media introspection.
package files

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/eludris/eludris/internal/apierror"
	"github.com/eludris/eludris/internal/ids"
	"github.com/eludris/eludris/internal/models"
)

// Buckets are the database-backed file namespaces. The static namespace is
// served straight from disk and has no rows.
var Buckets = []string{"attachments", "avatars", "banners"}

// ValidBucket reports whether bucket is a known database-backed namespace.
func ValidBucket(bucket string) bool {
	for _, b := range Buckets {
		if b == bucket {
			return true
		}
	}
	return false
}

// Store persists file blobs under <root>/<bucket>/<file_id> and their rows
// in the files table.
type Store struct {
	DB   *pgxpool.Pool
	IDs  *ids.Generator
	Root string

	// probes bounds concurrent media probing and re-encoding, keeping the
	// CPU-bound work off the handler goroutines.
	probes *semaphore.Weighted
}

// NewStore creates a Store rooted at root, ensuring the bucket directories
// exist.
func NewStore(db *pgxpool.Pool, gen *ids.Generator, root string) (*Store, error) {
	for _, bucket := range append([]string{"static"}, Buckets...) {
		if err := os.MkdirAll(filepath.Join(root, bucket), 0o755); err != nil {
			return nil, fmt.Errorf("create bucket directory %s: %w", bucket, err)
		}
	}
	return &Store{
		DB:     db,
		IDs:    gen,
		Root:   root,
		probes: semaphore.NewWeighted(int64(runtime.NumCPU())),
	}, nil
}

// Create stores an upload. Uploads whose content hash already exists in the
// bucket share the existing blob; fresh content is sniffed, probed for
// dimensions and, for JPEGs, re-encoded to strip metadata.
func (s *Store) Create(ctx context.Context, bucket, name string, src io.Reader, spoiler bool) (models.FileData, error) {
	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = "attachment"
	}
	if len(name) > 256 {
		return models.FileData{}, apierror.Validation("name",
			"Invalid file name. File name must be between 1 and 256 characters long")
	}

	tempPath := filepath.Join(s.Root, uuid.NewString())
	data, err := spool(tempPath, src)
	if err != nil {
		log.Error().Err(err).Msg("failed to spool upload")
		return models.FileData{}, apierror.Server("Failed to store file")
	}
	// From here on the temp blob must not outlive the call.
	keepBlob := false
	defer func() {
		if !keepBlob {
			os.Remove(tempPath)
		}
	}()

	if len(data) == 0 {
		return models.FileData{}, apierror.Validation("file", "You cannot upload an empty file")
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	id := s.IDs.Generate()

	var fileID int64
	var contentType string
	var width, height *int
	err = s.DB.QueryRow(ctx,
		"SELECT file_id, content_type, width, height FROM files WHERE hash = $1 AND bucket = $2 LIMIT 1",
		hash, bucket).Scan(&fileID, &contentType, &width, &height)
	switch {
	case err == nil:
		// Duplicate content: drop the temp blob and share the existing one.
		file := models.File{
			ID:          id,
			FileID:      uint64(fileID),
			Name:        name,
			ContentType: contentType,
			Hash:        hash,
			Bucket:      bucket,
			Spoiler:     spoiler,
			Width:       width,
			Height:      height,
		}
		if err := s.insert(ctx, file); err != nil {
			return models.FileData{}, err
		}
		return file.Data(), nil
	case !errors.Is(err, pgx.ErrNoRows):
		log.Error().Err(err).Msg("failed to look up file by hash")
		return models.FileData{}, apierror.Server("Failed to store file")
	}

	if err := s.probes.Acquire(ctx, 1); err != nil {
		return models.FileData{}, apierror.Server("Failed to store file")
	}
	probed, err := probe(tempPath, data, bucket, name)
	s.probes.Release(1)
	if err != nil {
		return models.FileData{}, err
	}

	file := models.File{
		ID:          id,
		FileID:      id,
		Name:        name,
		ContentType: probed.contentType,
		Hash:        hash,
		Bucket:      bucket,
		Spoiler:     spoiler,
		Width:       probed.width,
		Height:      probed.height,
	}
	finalPath := s.blobPath(bucket, id)
	if err := os.Rename(tempPath, finalPath); err != nil {
		log.Error().Err(err).Str("path", finalPath).Msg("failed to move blob into place")
		return models.FileData{}, apierror.Server("Failed to store file")
	}
	keepBlob = true
	if err := s.insert(ctx, file); err != nil {
		os.Remove(finalPath)
		return models.FileData{}, err
	}
	return file.Data(), nil
}

func (s *Store) insert(ctx context.Context, file models.File) error {
	_, err := s.DB.Exec(ctx, `
INSERT INTO files(id, file_id, name, content_type, hash, bucket, spoiler, width, height)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		int64(file.ID), int64(file.FileID), file.Name, file.ContentType, file.Hash,
		file.Bucket, file.Spoiler, file.Width, file.Height)
	if err != nil {
		log.Error().Err(err).Msg("failed to store file row")
		return apierror.Server("Failed to store file")
	}
	return nil
}

// Get fetches a file row by id and bucket.
func (s *Store) Get(ctx context.Context, id uint64, bucket string) (models.File, error) {
	var file models.File
	var fid, fileID int64
	err := s.DB.QueryRow(ctx, `
SELECT id, file_id, name, content_type, hash, bucket, spoiler, width, height
FROM files WHERE id = $1 AND bucket = $2`,
		int64(id), bucket,
	).Scan(&fid, &fileID, &file.Name, &file.ContentType, &file.Hash, &file.Bucket,
		&file.Spoiler, &file.Width, &file.Height)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.File{}, apierror.NotFound()
		}
		log.Error().Err(err).Msg("failed to fetch file row")
		return models.File{}, apierror.Server("Error fetching file")
	}
	file.ID = uint64(fid)
	file.FileID = uint64(fileID)
	return file, nil
}

// Open opens a file's blob for reading.
func (s *Store) Open(file models.File) (*os.File, error) {
	blob, err := os.Open(s.blobPath(file.Bucket, file.FileID))
	if err != nil {
		log.Error().Err(err).Uint64("id", file.ID).Str("name", file.Name).Msg("could not open blob")
		return nil, apierror.Server("Error fetching file")
	}
	return blob, nil
}

func (s *Store) blobPath(bucket string, fileID uint64) string {
	return filepath.Join(s.Root, bucket, fmt.Sprintf("%d", fileID))
}

// spool copies src to path and returns the written bytes.
func spool(path string, src io.Reader) ([]byte, error) {
	dst, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer dst.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	if _, err := dst.Write(data); err != nil {
		return nil, err
	}
	return data, nil
}
