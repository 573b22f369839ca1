// Package config loads the instance configuration: a TOML file located by
// ELUDRIS_CONF plus process environment for everything deployment-specific
// (database, cache, listen addresses, worker id).
package config

import (
	"fmt"
	"net/url"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
)

// Env holds deployment settings sourced from the process environment.
type Env struct {
	DatabaseURL     string `env:"DATABASE_URL,required"`
	RedisURL        string `env:"REDIS_URL" envDefault:"redis://localhost:6379"`
	OprishAddr      string `env:"OPRISH_ADDR" envDefault:":7159"`
	PandemoniumAddr string `env:"PANDEMONIUM_ADDR" envDefault:":7160"`
	EffisAddr       string `env:"EFFIS_ADDR" envDefault:":7161"`
	WorkerID        uint8  `env:"ELUDRIS_WORKER_ID" envDefault:"0"`
	ConfPath        string `env:"ELUDRIS_CONF" envDefault:"Eludris.toml"`
	FilesRoot       string `env:"ELUDRIS_FILES_ROOT" envDefault:"files"`
	TemplatesDir    string `env:"ELUDRIS_TEMPLATES" envDefault:"static"`
}

// LoadEnv parses deployment settings from the environment.
func LoadEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("parse environment: %w", err)
	}
	return e, nil
}

// RateLimitConf is a single rate limit: at most Limit admissions per
// ResetAfter seconds.
type RateLimitConf struct {
	ResetAfter uint32 `toml:"reset_after" json:"reset_after"`
	Limit      uint32 `toml:"limit" json:"limit"`
}

// EffisRateLimitConf extends RateLimitConf with a byte quota for uploads
// within the same window.
type EffisRateLimitConf struct {
	ResetAfter    uint32 `toml:"reset_after" json:"reset_after"`
	Limit         uint32 `toml:"limit" json:"limit"`
	FileSizeLimit uint64 `toml:"file_size_limit" json:"file_size_limit"`
}

// OprishRateLimits enumerates the REST API's rate limit buckets.
type OprishRateLimits struct {
	GetInstanceInfo         RateLimitConf `toml:"get_instance_info" json:"get_instance_info"`
	CreateMessage           RateLimitConf `toml:"create_message" json:"create_message"`
	CreateUser              RateLimitConf `toml:"create_user" json:"create_user"`
	VerifyUser              RateLimitConf `toml:"verify_user" json:"verify_user"`
	GetUser                 RateLimitConf `toml:"get_user" json:"get_user"`
	GuestGetUser            RateLimitConf `toml:"guest_get_user" json:"guest_get_user"`
	UpdateUser              RateLimitConf `toml:"update_user" json:"update_user"`
	UpdateProfile           RateLimitConf `toml:"update_profile" json:"update_profile"`
	DeleteUser              RateLimitConf `toml:"delete_user" json:"delete_user"`
	CreatePasswordResetCode RateLimitConf `toml:"create_password_reset_code" json:"create_password_reset_code"`
	ResetPassword           RateLimitConf `toml:"reset_password" json:"reset_password"`
	CreateSession           RateLimitConf `toml:"create_session" json:"create_session"`
	GetSessions             RateLimitConf `toml:"get_sessions" json:"get_sessions"`
	DeleteSession           RateLimitConf `toml:"delete_session" json:"delete_session"`
}

// EffisRateLimits enumerates the file service's rate limit buckets.
type EffisRateLimits struct {
	Assets      EffisRateLimitConf `toml:"assets" json:"assets"`
	Attachments EffisRateLimitConf `toml:"attachments" json:"attachments"`
	FetchFile   RateLimitConf      `toml:"fetch_file" json:"fetch_file"`
}

// OprishConf configures the REST API.
type OprishConf struct {
	URL          string           `toml:"url" json:"url"`
	MessageLimit int              `toml:"message_limit" json:"message_limit"`
	BioLimit     int              `toml:"bio_limit" json:"bio_limit"`
	RateLimits   OprishRateLimits `toml:"rate_limits" json:"rate_limits"`
}

// PandemoniumConf configures the gateway.
type PandemoniumConf struct {
	URL       string        `toml:"url" json:"url"`
	RateLimit RateLimitConf `toml:"rate_limit" json:"rate_limit"`
}

// EffisConf configures the file service.
type EffisConf struct {
	URL                string          `toml:"url" json:"url"`
	FileSize           uint64          `toml:"file_size" json:"file_size"`
	AttachmentFileSize uint64          `toml:"attachment_file_size" json:"attachment_file_size"`
	RateLimits         EffisRateLimits `toml:"rate_limits" json:"rate_limits"`
}

// EmailSubjects holds per-template subject lines. Every template has its own
// default subject.
type EmailSubjects struct {
	Verify        string `toml:"verify"`
	Delete        string `toml:"delete"`
	PasswordReset string `toml:"password_reset"`
	UserUpdated   string `toml:"user_updated"`
}

func (s *EmailSubjects) applyDefaults() {
	if s.Verify == "" {
		s.Verify = "Verify your Eludris account"
	}
	if s.Delete == "" {
		s.Delete = "Your Eludris account has been deleted"
	}
	if s.PasswordReset == "" {
		s.PasswordReset = "Your Eludris password has been reset"
	}
	if s.UserUpdated == "" {
		s.UserUpdated = "Your Eludris account has been updated"
	}
}

// EmailConf configures the outbound SMTP mailer. A nil EmailConf means the
// instance runs without email: users start verified and password resets are
// misdirected.
type EmailConf struct {
	Relay    string        `toml:"relay"`
	Port     int           `toml:"port"`
	Name     string        `toml:"name"`
	Address  string        `toml:"address"`
	Username string        `toml:"username"`
	Password string        `toml:"password"`
	Subjects EmailSubjects `toml:"subjects"`
}

// Conf is the full instance configuration.
type Conf struct {
	InstanceName string          `toml:"instance_name"`
	Description  *string         `toml:"description"`
	Oprish       OprishConf      `toml:"oprish"`
	Pandemonium  PandemoniumConf `toml:"pandemonium"`
	Effis        EffisConf       `toml:"effis"`
	Email        *EmailConf      `toml:"email"`
}

// Load reads and validates the TOML configuration at path.
func Load(path string) (*Conf, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes TOML config bytes, applies defaults and validates.
func Parse(data []byte) (*Conf, error) {
	conf := defaultConf()
	if err := toml.Unmarshal(data, conf); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if conf.Email != nil {
		conf.Email.Subjects.applyDefaults()
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func defaultConf() *Conf {
	return &Conf{
		Oprish: OprishConf{
			URL:          "https://example.com",
			MessageLimit: 2048,
			BioLimit:     250,
			RateLimits: OprishRateLimits{
				GetInstanceInfo:         RateLimitConf{ResetAfter: 5, Limit: 2},
				CreateMessage:           RateLimitConf{ResetAfter: 5, Limit: 10},
				CreateUser:              RateLimitConf{ResetAfter: 86400, Limit: 5},
				VerifyUser:              RateLimitConf{ResetAfter: 60, Limit: 3},
				GetUser:                 RateLimitConf{ResetAfter: 5, Limit: 10},
				GuestGetUser:            RateLimitConf{ResetAfter: 30, Limit: 5},
				UpdateUser:              RateLimitConf{ResetAfter: 300, Limit: 10},
				UpdateProfile:           RateLimitConf{ResetAfter: 180, Limit: 20},
				DeleteUser:              RateLimitConf{ResetAfter: 60, Limit: 1},
				CreatePasswordResetCode: RateLimitConf{ResetAfter: 60, Limit: 3},
				ResetPassword:           RateLimitConf{ResetAfter: 60, Limit: 3},
				CreateSession:           RateLimitConf{ResetAfter: 60, Limit: 3},
				GetSessions:             RateLimitConf{ResetAfter: 60, Limit: 5},
				DeleteSession:           RateLimitConf{ResetAfter: 60, Limit: 5},
			},
		},
		Pandemonium: PandemoniumConf{
			URL:       "wss://example.com",
			RateLimit: RateLimitConf{ResetAfter: 10, Limit: 5},
		},
		Effis: EffisConf{
			URL:                "https://example.com",
			FileSize:           20_000_000,
			AttachmentFileSize: 100_000_000,
			RateLimits: EffisRateLimits{
				Assets:      EffisRateLimitConf{ResetAfter: 60, Limit: 5, FileSizeLimit: 30_000_000},
				Attachments: EffisRateLimitConf{ResetAfter: 180, Limit: 20, FileSizeLimit: 500_000_000},
				FetchFile:   RateLimitConf{ResetAfter: 60, Limit: 30},
			},
		},
	}
}

// Validate enforces the structural constraints on a Conf.
func (c *Conf) Validate() error {
	if len(c.InstanceName) == 0 || len(c.InstanceName) > 32 {
		return fmt.Errorf("instance_name must be between 1 and 32 characters long")
	}
	if c.Description != nil && (len(*c.Description) == 0 || len(*c.Description) > 2048) {
		return fmt.Errorf("description must be between 1 and 2048 characters long")
	}
	if c.Oprish.MessageLimit < 1024 {
		return fmt.Errorf("message_limit cannot be less than 1024 characters")
	}
	for _, u := range []string{c.Oprish.URL, c.Pandemonium.URL, c.Effis.URL} {
		if _, err := url.ParseRequestURI(u); err != nil {
			return fmt.Errorf("invalid service url %q: %w", u, err)
		}
	}
	for name, rl := range c.RateLimits() {
		if rl.Limit == 0 {
			return fmt.Errorf("rate limit %q cannot have a zero limit", name)
		}
	}
	for _, size := range []uint64{
		c.Effis.FileSize,
		c.Effis.AttachmentFileSize,
		c.Effis.RateLimits.Assets.FileSizeLimit,
		c.Effis.RateLimits.Attachments.FileSizeLimit,
	} {
		if size == 0 {
			return fmt.Errorf("file sizes cannot be 0")
		}
	}
	if c.Email != nil {
		if c.Email.Relay == "" {
			return fmt.Errorf("email relay cannot be empty")
		}
		if c.Email.Name == "" {
			return fmt.Errorf("email name cannot be empty")
		}
		if c.Email.Address == "" {
			return fmt.Errorf("email address cannot be empty")
		}
	}
	return nil
}

// RateLimits returns every request-rate bucket keyed by its bucket name,
// including the per-file-bucket aliases used by the file service and the
// gateway's shared bucket.
func (c *Conf) RateLimits() map[string]RateLimitConf {
	rl := c.Oprish.RateLimits
	return map[string]RateLimitConf{
		"get_instance_info":          rl.GetInstanceInfo,
		"create_message":             rl.CreateMessage,
		"create_user":                rl.CreateUser,
		"verify_user":                rl.VerifyUser,
		"get_user":                   rl.GetUser,
		"guest_get_user":             rl.GuestGetUser,
		"update_user":                rl.UpdateUser,
		"update_profile":             rl.UpdateProfile,
		"delete_user":                rl.DeleteUser,
		"create_password_reset_code": rl.CreatePasswordResetCode,
		"reset_password":             rl.ResetPassword,
		"create_session":             rl.CreateSession,
		"get_sessions":               rl.GetSessions,
		"delete_session":             rl.DeleteSession,
		"fetch_file":                 c.Effis.RateLimits.FetchFile,
		"pandemonium":                c.Pandemonium.RateLimit,
	}
}

// RateLimit resolves a request-rate bucket by name. It panics on unknown
// buckets: the set is closed and resolved only from call sites that name
// buckets statically.
func (c *Conf) RateLimit(bucket string) RateLimitConf {
	rl, ok := c.RateLimits()[bucket]
	if !ok {
		panic(fmt.Sprintf("unknown rate limit bucket %q", bucket))
	}
	return rl
}

// UploadRateLimit resolves the upload quota config for a file bucket. The
// attachments bucket has its own window; every other bucket shares the
// assets window.
func (c *Conf) UploadRateLimit(fileBucket string) EffisRateLimitConf {
	if fileBucket == "attachments" {
		return c.Effis.RateLimits.Attachments
	}
	return c.Effis.RateLimits.Assets
}
