// Package email sends the instance's outbound mail: verification codes,
// password resets and account change notices.
package email

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	mail "gopkg.in/mail.v2"

	"github.com/eludris/eludris/internal/apierror"
	"github.com/eludris/eludris/internal/config"
)

// Preset identifies a mail template plus its substitutions.
type Preset struct {
	template string
	subject  string
	replacer *strings.Replacer
}

// Verify is the account verification email.
func Verify(subjects config.EmailSubjects, username string, code uint32) Preset {
	return Preset{
		template: "verify.html",
		subject:  subjects.Verify,
		replacer: strings.NewReplacer("${USERNAME}", username, "${CODE}", spaceCode(code)),
	}
}

// Delete is the account deletion notice.
func Delete(subjects config.EmailSubjects, username string) Preset {
	return Preset{
		template: "delete.html",
		subject:  subjects.Delete,
		replacer: strings.NewReplacer("${USERNAME}", username),
	}
}

// PasswordReset is the password reset code email.
func PasswordReset(subjects config.EmailSubjects, username string, code uint32) Preset {
	return Preset{
		template: "password-reset.html",
		subject:  subjects.PasswordReset,
		replacer: strings.NewReplacer("${USERNAME}", username, "${CODE}", spaceCode(code)),
	}
}

// UserUpdated is the account change notice. Each non-zero argument adds a
// line to the ${CHANGES} substitution.
func UserUpdated(subjects config.EmailSubjects, username, newUsername, newEmail string, password bool) Preset {
	var changes []string
	if newUsername != "" {
		changes = append(changes, fmt.Sprintf("Your username has changed from %s to %s", username, newUsername))
	}
	if newEmail != "" {
		changes = append(changes, fmt.Sprintf("Your email has changed to %s", newEmail))
	}
	if password {
		changes = append(changes, "Your password has been updated")
	}
	return Preset{
		template: "user-updated.html",
		subject:  subjects.UserUpdated,
		replacer: strings.NewReplacer("${USERNAME}", username, "${CHANGES}", strings.Join(changes, "\n")),
	}
}

// spaceCode groups a six-digit code as "123 456" for readability.
func spaceCode(code uint32) string {
	s := fmt.Sprintf("%06d", code)
	return s[:3] + " " + s[3:]
}

// Mailer dispatches preset emails. A nil Mailer means the instance runs
// without email.
type Mailer interface {
	Send(toName, toAddress string, preset Preset) error
}

// SMTPMailer sends mail through the configured relay, reading HTML templates
// from a static directory.
type SMTPMailer struct {
	conf      config.EmailConf
	templates string
	dialer    *mail.Dialer
}

// NewSMTP builds a mailer for the given config, loading templates from
// templatesDir.
func NewSMTP(conf config.EmailConf, templatesDir string) *SMTPMailer {
	port := conf.Port
	if port == 0 {
		port = 587
	}
	return &SMTPMailer{
		conf:      conf,
		templates: templatesDir,
		dialer:    mail.NewDialer(conf.Relay, port, conf.Username, conf.Password),
	}
}

// Send renders a preset and dispatches it. Failures surface as SERVER
// errors; the detail stays in the log.
func (m *SMTPMailer) Send(toName, toAddress string, preset Preset) error {
	content, err := os.ReadFile(filepath.Join(m.templates, preset.template))
	if err != nil {
		log.Error().Err(err).Str("template", preset.template).Msg("could not read email template")
		return apierror.Server("Could not send email")
	}

	msg := mail.NewMessage()
	msg.SetAddressHeader("From", m.conf.Address, m.conf.Name)
	msg.SetAddressHeader("To", toAddress, toName)
	msg.SetHeader("Subject", preset.replacer.Replace(preset.subject))
	msg.SetBody("text/html", preset.replacer.Replace(string(content)))

	if err := m.dialer.DialAndSend(msg); err != nil {
		log.Error().Err(err).Str("template", preset.template).Msg("could not send email")
		return apierror.Server("Could not send email")
	}
	return nil
}
