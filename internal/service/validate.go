package service

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/eludris/eludris/internal/apierror"
	"github.com/eludris/eludris/internal/config"
	"github.com/eludris/eludris/internal/models"
)

var (
	usernameRegex = regexp.MustCompile(`^[a-z0-9_-]+$`)
	// https://stackoverflow.com/a/201378
	emailRegex = regexp.MustCompile(`^(?:[a-z0-9!#$%&'*+/=?^_` + "`" + `{|}~-]+(?:\.[a-z0-9!#$%&'*+/=?^_` + "`" + `{|}~-]+)*|"(?:[\x01-\x08\x0b\x0c\x0e-\x1f\x21\x23-\x5b\x5d-\x7f]|\\[\x01-\x09\x0b\x0c\x0e-\x7f])*")@(?:(?:[a-z0-9](?:[a-z0-9-]*[a-z0-9])?\.)+[a-z0-9](?:[a-z0-9-]*[a-z0-9])?|\[(?:(?:(2(5[0-5]|[0-4][0-9])|1[0-9][0-9]|[1-9]?[0-9]))\.){3}(?:(2(5[0-5]|[0-4][0-9])|1[0-9][0-9]|[1-9]?[0-9])|[a-z0-9-]*[a-z0-9]:(?:[\x01-\x08\x0b\x0c\x0e-\x1f\x21-\x5a\x53-\x7f]|\\[\x01-\x09\x0b\x0c\x0e-\x7f])+)\])$`)
)

// ValidateUsername enforces the username contract: lowercase [a-z0-9_-],
// 2 to 32 characters, at least one letter.
func ValidateUsername(username string) error {
	if !usernameRegex.MatchString(username) {
		return apierror.Validation("username",
			"The user's username must only consist of lowercase letters, numbers, underscores and dashes")
	}
	if len(username) < 2 || len(username) > 32 {
		return apierror.Validation("username",
			"The user's username must be between 2 and 32 characters in length")
	}
	if !strings.ContainsFunc(username, func(r rune) bool { return r >= 'a' && r <= 'z' }) {
		return apierror.Validation("username",
			"The user's username must have at least one alphabetical letter")
	}
	return nil
}

// ValidateEmail enforces a practical RFC 5321 address shape.
func ValidateEmail(email string) error {
	if !emailRegex.MatchString(email) {
		return apierror.Validation("email", "The user's email must be valid")
	}
	return nil
}

// ValidatePassword enforces the minimum password length.
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return apierror.Validation("password",
			"The user's password must be at least 8 characters long")
	}
	return nil
}

func validateUserCreate(user models.UserCreate) error {
	if err := ValidateUsername(user.Username); err != nil {
		return err
	}
	if err := ValidateEmail(user.Email); err != nil {
		return err
	}
	return ValidatePassword(user.Password)
}

func validateResetPassword(reset models.ResetPassword) error {
	if err := ValidateEmail(reset.Email); err != nil {
		return err
	}
	return ValidatePassword(reset.Password)
}

func validateMessage(message *models.MessageCreate, conf *config.Conf) error {
	message.Content = strings.TrimSpace(message.Content)
	if message.Content == "" || len(message.Content) > conf.Oprish.MessageLimit {
		return apierror.Validation("content", fmt.Sprintf(
			"Message content has to be between 1 and %d characters long",
			conf.Oprish.MessageLimit))
	}
	if message.Disguise != nil && message.Disguise.Name != nil {
		if len(*message.Disguise.Name) < 2 || len(*message.Disguise.Name) > 32 {
			return apierror.Validation("disguise.name",
				"The user's disguise name must be between 2 and 32 characters in length")
		}
	}
	return nil
}
