package service

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/eludris/eludris/internal/apierror"
	"github.com/eludris/eludris/internal/auth"
	"github.com/eludris/eludris/internal/models"
)

// CreateSession logs a user in by username or email and returns a signed
// token alongside the session record.
func (s *Service) CreateSession(ctx context.Context, create models.SessionCreate, ip string) (models.SessionCreated, error) {
	create.Platform = strings.ToLower(create.Platform)
	create.Client = strings.ToLower(create.Client)

	var userID int64
	err := s.DB.QueryRow(ctx,
		"SELECT id FROM users WHERE (username = $1 OR email = $1) AND is_deleted = FALSE",
		create.Identifier).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.SessionCreated{}, apierror.NotFound()
		}
		log.Error().Err(err).Msg("couldn't fetch user for login")
		return models.SessionCreated{}, apierror.Server("Failed to create session")
	}
	if err := s.ValidateUserPassword(ctx, uint64(userID), create.Password); err != nil {
		return models.SessionCreated{}, err
	}

	id := s.IDs.Generate()
	if _, err := s.DB.Exec(ctx,
		"INSERT INTO sessions(id, user_id, platform, client, ip) VALUES($1, $2, $3, $4, $5)",
		int64(id), userID, create.Platform, create.Client, ip); err != nil {
		log.Error().Err(err).Msg("couldn't store session")
		return models.SessionCreated{}, apierror.Server("Failed to create session")
	}

	token, err := auth.SignToken(s.Secret, uint64(userID), id)
	if err != nil {
		log.Error().Err(err).Msg("couldn't sign session token")
		return models.SessionCreated{}, apierror.Server("Failed to generate a token for the user")
	}
	return models.SessionCreated{
		Token: token,
		Session: models.Session{
			ID:       id,
			UserID:   uint64(userID),
			Platform: create.Platform,
			Client:   create.Client,
			IP:       ip,
		},
	}, nil
}

// ValidateToken verifies a token and resolves its session, requiring the
// owning user to not be tombstoned.
func (s *Service) ValidateToken(ctx context.Context, token string) (models.Session, error) {
	claims, err := auth.ParseToken(s.Secret, token)
	if err != nil {
		return models.Session{}, err
	}

	var session models.Session
	var id, userID int64
	err = s.DB.QueryRow(ctx, `
SELECT s.id, s.user_id, s.platform, s.client, s.ip
FROM sessions s
JOIN users u ON u.id = s.user_id
WHERE s.id = $1 AND s.user_id = $2 AND u.is_deleted = FALSE`,
		int64(claims.SessionID), int64(claims.UserID),
	).Scan(&id, &userID, &session.Platform, &session.Client, &session.IP)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Session{}, apierror.Unauthorized()
		}
		log.Error().Err(err).Msg("couldn't fetch session")
		return models.Session{}, apierror.Server("Failed to validate session")
	}
	session.ID = uint64(id)
	session.UserID = uint64(userID)
	return session, nil
}

// Sessions lists a user's sessions.
func (s *Service) Sessions(ctx context.Context, userID uint64) ([]models.Session, error) {
	rows, err := s.DB.Query(ctx,
		"SELECT id, user_id, platform, client, ip FROM sessions WHERE user_id = $1",
		int64(userID))
	if err != nil {
		log.Error().Err(err).Msg("couldn't fetch sessions")
		return nil, apierror.Server("Failed to fetch sessions")
	}
	defer rows.Close()

	sessions := []models.Session{}
	for rows.Next() {
		var session models.Session
		var id, uid int64
		if err := rows.Scan(&id, &uid, &session.Platform, &session.Client, &session.IP); err != nil {
			log.Error().Err(err).Msg("couldn't scan session")
			return nil, apierror.Server("Failed to fetch sessions")
		}
		session.ID = uint64(id)
		session.UserID = uint64(uid)
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		log.Error().Err(err).Msg("couldn't iterate sessions")
		return nil, apierror.Server("Failed to fetch sessions")
	}
	return sessions, nil
}

// DeleteSession revokes one of the user's sessions after re-authentication.
func (s *Service) DeleteSession(ctx context.Context, userID, sessionID uint64, password string) error {
	if err := s.ValidateUserPassword(ctx, userID, password); err != nil {
		return err
	}
	tag, err := s.DB.Exec(ctx,
		"DELETE FROM sessions WHERE id = $1 AND user_id = $2",
		int64(sessionID), int64(userID))
	if err != nil {
		log.Error().Err(err).Msg("couldn't delete session")
		return apierror.Server("Failed to delete session")
	}
	if tag.RowsAffected() == 0 {
		return apierror.NotFound()
	}
	return nil
}
