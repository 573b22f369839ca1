package service

import (
	"context"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/eludris/eludris/internal/apierror"
	"github.com/eludris/eludris/internal/models"
)

// OnlineUsers returns every user with a live gateway connection except
// excludeID. Users whose chosen status is offline are invisible and left
// out.
func (s *Service) OnlineUsers(ctx context.Context, excludeID uint64) ([]models.User, error) {
	members, err := s.Cache.SMembers(ctx, "sessions").Result()
	if err != nil {
		log.Error().Err(err).Msg("failed to list online users")
		return nil, apierror.Server("Couldn't provide user data")
	}

	ids := make([]int64, 0, len(members))
	for _, member := range members {
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil || uint64(id) == excludeID {
			continue
		}
		ids = append(ids, id)
	}
	users := []models.User{}
	if len(ids) == 0 {
		return users, nil
	}

	rows, err := s.DB.Query(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = ANY($1) AND is_deleted = FALSE", ids)
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch online users")
		return nil, apierror.Server("Couldn't provide user data")
	}
	defer rows.Close()
	for rows.Next() {
		row, err := scanUser(rows)
		if err != nil {
			log.Error().Err(err).Msg("failed to scan online user")
			return nil, apierror.Server("Couldn't provide user data")
		}
		if row.statusType == string(models.StatusOffline) {
			continue
		}
		users = append(users, row.user(false, true))
	}
	if err := rows.Err(); err != nil {
		log.Error().Err(err).Msg("failed to iterate online users")
		return nil, apierror.Server("Couldn't provide user data")
	}
	return users, nil
}
