package service

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eludris/eludris/internal/apierror"
	"github.com/eludris/eludris/internal/config"
	"github.com/eludris/eludris/internal/models"
)

func TestValidateUsername(t *testing.T) {
	valid := []string{"yendri", "ye", "a2", "user_name", "user-name", "0x55"}
	for _, username := range valid {
		require.NoError(t, ValidateUsername(username), username)
	}

	invalid := []string{
		"",
		"y",
		"йендри",
		"Yendri",
		"yendri bakr",
		"yendri@bakr",
		"123456",
		"_-_-",
		strings.Repeat("a", 33),
	}
	for _, username := range invalid {
		require.Error(t, ValidateUsername(username), username)
	}
}

func TestValidateEmail(t *testing.T) {
	require.NoError(t, ValidateEmail("yendri@llamoyendri.io"))
	require.NoError(t, ValidateEmail("a.b-c_d@sub.domain.dev"))

	for _, email := range []string{"", "yendri", "yendri@", "@llamoyendri.io", "a b@c.d"} {
		require.Error(t, ValidateEmail(email), email)
	}
}

func TestValidatePassword(t *testing.T) {
	require.NoError(t, ValidatePassword("password1"))
	require.Error(t, ValidatePassword("1234567"))
}

func TestValidateMessage(t *testing.T) {
	conf := &config.Conf{Oprish: config.OprishConf{MessageLimit: 2048}}

	msg := models.MessageCreate{Content: "  Hello, World!  "}
	require.NoError(t, validateMessage(&msg, conf))
	require.Equal(t, "Hello, World!", msg.Content)

	empty := models.MessageCreate{Content: "   "}
	err := validateMessage(&empty, conf)
	require.Error(t, err)
	var apiErr *apierror.Error
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "content", apiErr.ValueName)

	long := models.MessageCreate{Content: strings.Repeat("a", 2049)}
	require.Error(t, validateMessage(&long, conf))

	name := "x"
	disguised := models.MessageCreate{
		Content:  "hi",
		Disguise: &models.MessageDisguise{Name: &name},
	}
	err = validateMessage(&disguised, conf)
	require.Error(t, err)
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "disguise.name", apiErr.ValueName)
}
