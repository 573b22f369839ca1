package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/eludris/eludris/internal/ids"
)

const unverifiedMaxAge = 7 * 24 * time.Hour

// StartCleanup schedules the daily maintenance run at UTC midnight. The
// returned cron is already started; stop it on shutdown.
func (s *Service) StartCleanup() *cron.Cron {
	c := cron.New(cron.WithLocation(time.UTC))
	// The schedule spec is static, the error is unreachable.
	_, err := c.AddFunc("0 0 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		s.Cleanup(ctx)
	})
	if err != nil {
		panic("schedule cleanup: " + err.Error())
	}
	c.Start()
	return c
}

// Cleanup deletes unverified users older than seven days and purges
// tombstoned rows.
func (s *Service) Cleanup(ctx context.Context) {
	nowMS := time.Since(ids.Epoch).Milliseconds()
	tag, err := s.DB.Exec(ctx,
		"DELETE FROM users WHERE verified = FALSE AND $1 - (id >> 16) * 1000 > $2",
		nowMS, unverifiedMaxAge.Milliseconds())
	if err != nil {
		log.Error().Err(err).Msg("failed to clean up unverified users")
	} else if tag.RowsAffected() > 0 {
		log.Info().Int64("count", tag.RowsAffected()).Msg("cleaned up unverified users")
	}

	tag, err = s.DB.Exec(ctx, "DELETE FROM users WHERE is_deleted = TRUE")
	if err != nil {
		log.Error().Err(err).Msg("failed to purge deleted users")
	} else if tag.RowsAffected() > 0 {
		log.Info().Int64("count", tag.RowsAffected()).Msg("purged deleted users")
	}
}
