package models

import "github.com/eludris/eludris/internal/config"

// Version is the instance's reported version.
const Version = "0.4.0"

// InstanceInfo describes the instance to clients. RateLimits is only
// populated when explicitly requested.
type InstanceInfo struct {
	InstanceName       string              `json:"instance_name"`
	Description        *string             `json:"description"`
	Version            string              `json:"version"`
	MessageLimit       int                 `json:"message_limit"`
	OprishURL          string              `json:"oprish_url"`
	PandemoniumURL     string              `json:"pandemonium_url"`
	EffisURL           string              `json:"effis_url"`
	FileSize           uint64              `json:"file_size"`
	AttachmentFileSize uint64              `json:"attachment_file_size"`
	EmailAddress       *string             `json:"email_address,omitempty"`
	RateLimits         *InstanceRateLimits `json:"rate_limits,omitempty"`
}

// InstanceRateLimits groups every rate limit the instance enforces.
type InstanceRateLimits struct {
	Oprish      config.OprishRateLimits `json:"oprish"`
	Pandemonium config.RateLimitConf    `json:"pandemonium"`
	Effis       config.EffisRateLimits  `json:"effis"`
}

// InstanceInfoFromConf builds the client-facing instance description.
func InstanceInfoFromConf(conf *config.Conf, rateLimits bool) InstanceInfo {
	info := InstanceInfo{
		InstanceName:       conf.InstanceName,
		Description:        conf.Description,
		Version:            Version,
		MessageLimit:       conf.Oprish.MessageLimit,
		OprishURL:          conf.Oprish.URL,
		PandemoniumURL:     conf.Pandemonium.URL,
		EffisURL:           conf.Effis.URL,
		FileSize:           conf.Effis.FileSize,
		AttachmentFileSize: conf.Effis.AttachmentFileSize,
	}
	if conf.Email != nil {
		info.EmailAddress = &conf.Email.Address
	}
	if rateLimits {
		info.RateLimits = &InstanceRateLimits{
			Oprish:      conf.Oprish.RateLimits,
			Pandemonium: conf.Pandemonium.RateLimit,
			Effis:       conf.Effis.RateLimits,
		}
	}
	return info
}
