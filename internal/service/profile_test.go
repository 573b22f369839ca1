package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eludris/eludris/internal/config"
	"github.com/eludris/eludris/internal/models"
)

func TestValidateProfile(t *testing.T) {
	s := &Service{Conf: &config.Conf{Oprish: config.OprishConf{BioLimit: 250}}}
	ctx := context.Background()

	var empty models.UpdateUserProfile
	require.Error(t, s.validateProfile(ctx, &empty))

	short := models.UpdateUserProfile{DisplayName: models.Some("y")}
	require.Error(t, s.validateProfile(ctx, &short))

	longBio := models.UpdateUserProfile{Bio: models.Some(strings.Repeat("a", 251))}
	require.Error(t, s.validateProfile(ctx, &longBio))

	badStatus := models.UpdateUserProfile{StatusType: models.Some(models.StatusType("away"))}
	require.Error(t, s.validateProfile(ctx, &badStatus))

	ok := models.UpdateUserProfile{
		DisplayName: models.Some("Yendri"),
		Status:      models.Some("vibing"),
		StatusType:  models.Some(models.StatusIdle),
	}
	require.NoError(t, s.validateProfile(ctx, &ok))

	// Clearing fields with explicit nulls is always valid.
	cleared := models.UpdateUserProfile{
		DisplayName: models.Null[string](),
		Bio:         models.Null[string](),
	}
	require.NoError(t, s.validateProfile(ctx, &cleared))
}
