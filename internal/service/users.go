package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/eludris/eludris/internal/apierror"
	"github.com/eludris/eludris/internal/auth"
	"github.com/eludris/eludris/internal/email"
	"github.com/eludris/eludris/internal/models"
)

const (
	verificationTTL  = 7 * 24 * time.Hour
	passwordResetTTL = 24 * time.Hour

	userColumns = "id, username, display_name, social_credit, status, status_type, bio, avatar, banner, badges, permissions, email, verified"
)

type userRow struct {
	id           int64
	username     string
	displayName  *string
	socialCredit int64
	status       *string
	statusType   string
	bio          *string
	avatar       *int64
	banner       *int64
	badges       int64
	permissions  int64
	email        string
	verified     bool
}

func scanUser(row pgx.Row) (userRow, error) {
	var u userRow
	err := row.Scan(&u.id, &u.username, &u.displayName, &u.socialCredit, &u.status,
		&u.statusType, &u.bio, &u.avatar, &u.banner, &u.badges, &u.permissions,
		&u.email, &u.verified)
	return u, err
}

// user converts a row into the wire model. self controls whether email and
// verified are populated; online controls whether the recorded status is
// shown or forced offline.
func (u userRow) user(self, online bool) models.User {
	user := models.User{
		ID:           uint64(u.id),
		Username:     u.username,
		DisplayName:  u.displayName,
		SocialCredit: u.socialCredit,
		Status:       models.Status{Type: models.StatusOffline},
		Bio:          u.bio,
		Badges:       uint64(u.badges),
		Permissions:  uint64(u.permissions),
	}
	if u.avatar != nil {
		avatar := uint64(*u.avatar)
		user.Avatar = &avatar
	}
	if u.banner != nil {
		banner := uint64(*u.banner)
		user.Banner = &banner
	}
	if self || online {
		user.Status = models.Status{Type: models.StatusType(u.statusType), Text: u.status}
	}
	if self {
		email := u.email
		verified := u.verified
		user.Email = &email
		user.Verified = &verified
	}
	return user
}

// online reports whether a user currently has at least one live gateway
// connection.
func (s *Service) online(ctx context.Context, userID uint64) (bool, error) {
	member, err := s.Cache.SIsMember(ctx, "sessions", userID).Result()
	if err != nil {
		log.Error().Err(err).Uint64("user_id", userID).Msg("failed to determine if user is online")
		return false, apierror.Server("Couldn't provide user data")
	}
	return member, nil
}

// CreateUser registers an account. A conflicting tombstoned row is purged
// first; a live one yields CONFLICT. When the instance has email configured
// the account starts unverified and a verification code is dispatched.
func (s *Service) CreateUser(ctx context.Context, create models.UserCreate) (models.User, error) {
	if err := validateUserCreate(create); err != nil {
		return models.User{}, err
	}

	var existingUsername, existingEmail string
	var existingDeleted bool
	err := s.DB.QueryRow(ctx,
		"SELECT username, email, is_deleted FROM users WHERE username = $1 OR email = $2",
		create.Username, create.Email,
	).Scan(&existingUsername, &existingEmail, &existingDeleted)
	switch {
	case err == nil:
		if !existingDeleted {
			if existingUsername == create.Username {
				return models.User{}, apierror.Conflict("username")
			}
			return models.User{}, apierror.Conflict("email")
		}
		if _, err := s.DB.Exec(ctx,
			"DELETE FROM users WHERE username = $1 OR email = $2",
			create.Username, create.Email); err != nil {
			log.Error().Err(err).Msg("failed to clean up pre-existing deleted user")
			return models.User{}, apierror.Server("Could not create user")
		}
	case !errors.Is(err, pgx.ErrNoRows):
		log.Error().Err(err).Msg("failed to check for conflicting users")
		return models.User{}, apierror.Server("Could not create user")
	}

	id := s.IDs.Generate()

	if s.Mailer != nil {
		code := s.randCode()
		key := fmt.Sprintf("verification:%d", id)
		if err := s.Cache.Set(ctx, key, code, verificationTTL).Err(); err != nil {
			log.Error().Err(err).Msg("failed to store verification code")
			return models.User{}, apierror.Server("Could not send verification email")
		}
		preset := email.Verify(s.Conf.Email.Subjects, create.Username, code)
		if err := s.Mailer.Send(create.Username, create.Email, preset); err != nil {
			return models.User{}, err
		}
	}

	hash, err := auth.HashPassword(create.Password)
	if err != nil {
		log.Error().Err(err).Msg("failed to hash password")
		return models.User{}, apierror.Server("Could not hash password")
	}
	verified := s.Mailer == nil
	if _, err := s.DB.Exec(ctx,
		"INSERT INTO users(id, username, verified, email, password) VALUES($1, $2, $3, $4, $5)",
		int64(id), create.Username, verified, create.Email, hash); err != nil {
		log.Error().Err(err).Msg("failed to store user")
		return models.User{}, apierror.Server("Could not save user data")
	}

	return models.User{
		ID:       id,
		Username: create.Username,
		Status:   models.Status{Type: models.StatusOffline},
		Email:    &create.Email,
		Verified: &verified,
	}, nil
}

// ValidateUserPassword re-authenticates a user by password.
func (s *Service) ValidateUserPassword(ctx context.Context, id uint64, password string) error {
	var hash string
	err := s.DB.QueryRow(ctx,
		"SELECT password FROM users WHERE id = $1 AND is_deleted = FALSE",
		int64(id)).Scan(&hash)
	if err != nil {
		log.Error().Err(err).Uint64("user_id", id).Msg("could not fetch the user's password")
		return apierror.Server("Failed to fetch the user's password")
	}
	if err := auth.VerifyPassword(password, hash); err != nil {
		var apiErr *apierror.Error
		if errors.As(err, &apiErr) {
			return apiErr
		}
		log.Error().Err(err).Uint64("user_id", id).Msg("could not parse the user's password hash")
		return apierror.Server("Failed to validate the user's password")
	}
	return nil
}

// VerifyUser redeems a verification code for the session's user.
func (s *Service) VerifyUser(ctx context.Context, code uint32, session models.Session) error {
	var verified bool
	err := s.DB.QueryRow(ctx,
		"SELECT verified FROM users WHERE id = $1 AND is_deleted = FALSE",
		int64(session.UserID)).Scan(&verified)
	if err != nil {
		log.Error().Err(err).Msg("could not fetch user data for verification")
		return apierror.Server("Couldn't verify user")
	}
	if verified {
		return apierror.Validation("code", "User is already verified")
	}

	key := fmt.Sprintf("verification:%d", session.UserID)
	cached, err := s.Cache.Get(ctx, key).Uint64()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Error().Err(err).Msg("failed to get verification code from cache")
			return apierror.Server("Couldn't verify user")
		}
		return apierror.Validation("code", "Incorrect verification code")
	}
	if uint64(code) != cached {
		return apierror.Validation("code", "Incorrect verification code")
	}

	if _, err := s.DB.Exec(ctx,
		"UPDATE users SET verified = TRUE WHERE id = $1", int64(session.UserID)); err != nil {
		log.Error().Err(err).Msg("failed to mark user verified")
		return apierror.Server("Couldn't verify user")
	}
	if err := s.Cache.Del(ctx, key).Err(); err != nil {
		log.Error().Err(err).Msg("failed to remove verification code from cache")
		return apierror.Server("Couldn't verify user")
	}
	return nil
}

// GetUser fetches a user by id. Email and verified are only populated when
// requesterID is the user; status is forced offline for other users without
// a live gateway connection.
func (s *Service) GetUser(ctx context.Context, id uint64, requesterID *uint64) (models.User, error) {
	row, err := scanUser(s.DB.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1 AND is_deleted = FALSE", int64(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, apierror.NotFound()
		}
		log.Error().Err(err).Msg("couldn't get user from database")
		return models.User{}, apierror.Server("Failed to get user data")
	}
	return s.presentUser(ctx, row, requesterID)
}

// GetUserByUsername is GetUser keyed by username.
func (s *Service) GetUserByUsername(ctx context.Context, username string, requesterID *uint64) (models.User, error) {
	row, err := scanUser(s.DB.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = $1 AND is_deleted = FALSE", username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, apierror.NotFound()
		}
		log.Error().Err(err).Msg("couldn't get user from database")
		return models.User{}, apierror.Server("Failed to get user data")
	}
	return s.presentUser(ctx, row, requesterID)
}

func (s *Service) presentUser(ctx context.Context, row userRow, requesterID *uint64) (models.User, error) {
	self := requesterID != nil && *requesterID == uint64(row.id)
	online := false
	if !self {
		var err error
		if online, err = s.online(ctx, uint64(row.id)); err != nil {
			return models.User{}, err
		}
	}
	return row.user(self, online), nil
}

// UpdateUser changes account credentials after re-authentication, sending a
// change notice when the instance has email configured.
func (s *Service) UpdateUser(ctx context.Context, id uint64, update models.UpdateUser) (models.User, error) {
	if update.Username == nil && update.Email == nil && update.NewPassword == nil {
		return models.User{}, apierror.Validation("body", "At least one field must exist")
	}
	if err := s.checkCredentialConflicts(ctx, update.Username, update.Email); err != nil {
		return models.User{}, err
	}
	if update.NewPassword != nil {
		if err := ValidatePassword(*update.NewPassword); err != nil {
			return models.User{}, err
		}
	}
	if err := s.ValidateUserPassword(ctx, id, update.Password); err != nil {
		return models.User{}, err
	}

	assignments := ""
	args := []any{}
	addAssignment := func(column string, value any) {
		if assignments != "" {
			assignments += ", "
		}
		args = append(args, value)
		assignments += fmt.Sprintf("%s = $%d", column, len(args))
	}
	if update.Username != nil {
		addAssignment("username", *update.Username)
	}
	if update.Email != nil {
		addAssignment("email", *update.Email)
	}
	if update.NewPassword != nil {
		hash, err := auth.HashPassword(*update.NewPassword)
		if err != nil {
			log.Error().Err(err).Msg("failed to hash password")
			return models.User{}, apierror.Server("Could not hash password")
		}
		addAssignment("password", hash)
	}
	args = append(args, int64(id))
	row, err := scanUser(s.DB.QueryRow(ctx, fmt.Sprintf(
		"UPDATE users SET %s WHERE id = $%d RETURNING %s", assignments, len(args), userColumns),
		args...))
	if err != nil {
		log.Error().Err(err).Msg("couldn't update user")
		return models.User{}, apierror.Server("Failed to update user")
	}

	if s.Mailer != nil {
		var newUsername, newEmail string
		if update.Username != nil {
			newUsername = *update.Username
		}
		if update.Email != nil {
			newEmail = *update.Email
		}
		preset := email.UserUpdated(s.Conf.Email.Subjects, row.username, newUsername, newEmail,
			update.NewPassword != nil)
		if err := s.Mailer.Send(row.username, row.email, preset); err != nil {
			return models.User{}, err
		}
	}
	return row.user(true, true), nil
}

// checkCredentialConflicts validates a new username/email pair and rejects
// values already held by a live user.
func (s *Service) checkCredentialConflicts(ctx context.Context, username, emailAddr *string) error {
	if username == nil && emailAddr == nil {
		return nil
	}
	if username != nil {
		if err := ValidateUsername(*username); err != nil {
			return err
		}
	}
	if emailAddr != nil {
		if err := ValidateEmail(*emailAddr); err != nil {
			return err
		}
	}

	conditions := ""
	args := []any{}
	if username != nil {
		args = append(args, *username)
		conditions = fmt.Sprintf("username = $%d", len(args))
	}
	if emailAddr != nil {
		if conditions != "" {
			conditions += " OR "
		}
		args = append(args, *emailAddr)
		conditions += fmt.Sprintf("email = $%d", len(args))
	}
	var existingUsername, existingEmail string
	err := s.DB.QueryRow(ctx,
		fmt.Sprintf("SELECT username, email FROM users WHERE (%s) AND is_deleted = FALSE", conditions),
		args...).Scan(&existingUsername, &existingEmail)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		log.Error().Err(err).Msg("couldn't fetch users for conflict check")
		return apierror.Server("Failed to validate payload")
	}
	if username != nil && existingUsername == *username {
		return apierror.Conflict("username")
	}
	return apierror.Conflict("email")
}

// UpdateProfile applies a partial profile update.
func (s *Service) UpdateProfile(ctx context.Context, id uint64, profile models.UpdateUserProfile) (models.User, error) {
	if err := s.validateProfile(ctx, &profile); err != nil {
		return models.User{}, err
	}

	assignments := ""
	args := []any{}
	addAssignment := func(column string, value any) {
		if assignments != "" {
			assignments += ", "
		}
		args = append(args, value)
		assignments += fmt.Sprintf("%s = $%d", column, len(args))
	}
	if profile.DisplayName.Set {
		addAssignment("display_name", profile.DisplayName.Value)
	}
	if profile.Bio.Set {
		addAssignment("bio", profile.Bio.Value)
	}
	if profile.Status.Set {
		addAssignment("status", profile.Status.Value)
	}
	if profile.StatusType.Set {
		statusType := models.StatusOnline
		if profile.StatusType.Value != nil {
			statusType = *profile.StatusType.Value
		}
		addAssignment("status_type", string(statusType))
	}
	if profile.Avatar.Set {
		addAssignment("avatar", int64Ptr(profile.Avatar.Value))
	}
	if profile.Banner.Set {
		addAssignment("banner", int64Ptr(profile.Banner.Value))
	}
	args = append(args, int64(id))
	row, err := scanUser(s.DB.QueryRow(ctx, fmt.Sprintf(
		"UPDATE users SET %s WHERE id = $%d RETURNING %s", assignments, len(args), userColumns),
		args...))
	if err != nil {
		log.Error().Err(err).Msg("couldn't update user profile")
		return models.User{}, apierror.Server("Failed to update user profile")
	}
	return row.user(true, true), nil
}

func int64Ptr(v *uint64) *int64 {
	if v == nil {
		return nil
	}
	signed := int64(*v)
	return &signed
}

func (s *Service) validateProfile(ctx context.Context, profile *models.UpdateUserProfile) error {
	if profile.Empty() {
		return apierror.Validation("body", "At least one field must exist")
	}
	if v := profile.DisplayName.Value; profile.DisplayName.Set && v != nil {
		if len(*v) < 2 || len(*v) > 32 {
			return apierror.Validation("display_name",
				"The user's display name must be between 2 and 32 characters in length")
		}
	}
	if v := profile.Bio.Value; profile.Bio.Set && v != nil {
		if len(*v) == 0 || len(*v) > s.Conf.Oprish.BioLimit {
			return apierror.Validation("bio", fmt.Sprintf(
				"The user's bio must be between 1 and %d characters in length",
				s.Conf.Oprish.BioLimit))
		}
	}
	if v := profile.Status.Value; profile.Status.Set && v != nil {
		if len(*v) == 0 || len(*v) > 150 {
			return apierror.Validation("status",
				"The user's status must be between 1 and 150 characters in length")
		}
	}
	if v := profile.StatusType.Value; profile.StatusType.Set && v != nil && !v.Valid() {
		return apierror.Validation("status_type",
			"The user's status type must be one of online, offline, idle or busy")
	}
	if v := profile.Avatar.Value; profile.Avatar.Set && v != nil {
		if !s.fileExists(ctx, *v, "avatars") {
			return apierror.Validation("avatar",
				"The user's avatar must be a valid file that must exist")
		}
	}
	if v := profile.Banner.Value; profile.Banner.Set && v != nil {
		if !s.fileExists(ctx, *v, "banners") {
			return apierror.Validation("banner",
				"The user's banner must be a valid file that must exist")
		}
	}
	return nil
}

func (s *Service) fileExists(ctx context.Context, id uint64, bucket string) bool {
	var exists bool
	err := s.DB.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM files WHERE id = $1 AND bucket = $2)",
		int64(id), bucket).Scan(&exists)
	if err != nil {
		log.Error().Err(err).Msg("couldn't check file existence")
		return false
	}
	return exists
}

// DeleteUser tombstones an account after re-authentication. Sessions become
// invalid through the validation-time join.
func (s *Service) DeleteUser(ctx context.Context, id uint64, password string) error {
	if err := s.ValidateUserPassword(ctx, id, password); err != nil {
		return err
	}
	var username, emailAddr string
	err := s.DB.QueryRow(ctx,
		"UPDATE users SET is_deleted = TRUE WHERE id = $1 RETURNING username, email",
		int64(id)).Scan(&username, &emailAddr)
	if err != nil {
		log.Error().Err(err).Msg("couldn't mark user as deleted")
		return apierror.Server("Failed to delete user")
	}
	if s.Mailer != nil {
		preset := email.Delete(s.Conf.Email.Subjects, username)
		if err := s.Mailer.Send(username, emailAddr, preset); err != nil {
			return err
		}
	}
	return nil
}

// CreatePasswordResetCode emails a reset code. Without a configured mailer
// the instance cannot do this and the request is misdirected.
func (s *Service) CreatePasswordResetCode(ctx context.Context, emailAddr string) error {
	if err := ValidateEmail(emailAddr); err != nil {
		return err
	}
	if s.Mailer == nil {
		return apierror.Misdirected("This instance doesn't have a configured email")
	}

	var username string
	err := s.DB.QueryRow(ctx,
		"SELECT username FROM users WHERE email = $1 AND is_deleted = FALSE",
		emailAddr).Scan(&username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apierror.NotFound()
		}
		log.Error().Err(err).Msg("failed to fetch user data")
		return apierror.Server("Couldn't fetch user data")
	}

	code := s.randCode()
	key := fmt.Sprintf("password-reset:%s", emailAddr)
	if err := s.Cache.Set(ctx, key, code, passwordResetTTL).Err(); err != nil {
		log.Error().Err(err).Msg("failed to store password reset code")
		return apierror.Server("Could not send password reset email")
	}
	return s.Mailer.Send(username, emailAddr, email.PasswordReset(s.Conf.Email.Subjects, username, code))
}

// ResetPassword redeems a reset code and stores a freshly hashed password.
func (s *Service) ResetPassword(ctx context.Context, reset models.ResetPassword) error {
	if err := validateResetPassword(reset); err != nil {
		return err
	}

	key := fmt.Sprintf("password-reset:%s", reset.Email)
	cached, err := s.Cache.Get(ctx, key).Uint64()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Error().Err(err).Msg("failed to get password reset code from cache")
			return apierror.Server("Couldn't reset the user's password")
		}
		return apierror.Validation("code", "Incorrect password reset code")
	}
	if uint64(reset.Code) != cached {
		return apierror.Validation("code", "Incorrect password reset code")
	}

	hash, err := auth.HashPassword(reset.Password)
	if err != nil {
		log.Error().Err(err).Msg("failed to hash password")
		return apierror.Server("Could not hash password")
	}
	var username string
	err = s.DB.QueryRow(ctx,
		"UPDATE users SET password = $1 WHERE email = $2 AND is_deleted = FALSE RETURNING username",
		hash, reset.Email).Scan(&username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apierror.NotFound()
		}
		log.Error().Err(err).Msg("failed to store new password")
		return apierror.Server("Couldn't reset the user's password")
	}
	if err := s.Cache.Del(ctx, key).Err(); err != nil {
		log.Error().Err(err).Msg("failed to remove password reset code from cache")
		return apierror.Server("Couldn't reset the user's password")
	}
	if s.Mailer != nil {
		preset := email.UserUpdated(s.Conf.Email.Subjects, username, "", "", true)
		if err := s.Mailer.Send(username, reset.Email, preset); err != nil {
			return err
		}
	}
	return nil
}
