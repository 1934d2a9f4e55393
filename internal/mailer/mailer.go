package mailer

import (
	"context"
	"fmt"
	"net/url"

	"github.com/dhawalhost/gateseal/internal/auth"
	mail "github.com/go-mail/mail"
	"go.uber.org/zap"
)

// Config holds SMTP settings and the public base URL links point back to.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	BaseURL  string
}

const (
	kindVerify    = "verify"
	kindReset     = "reset"
	kindMagicLink = "magicLink"
	kindInvite    = "invite"
)

// Subject lines by locale. Unknown locales fall back to English; body
// copy is English throughout.
var subjects = map[string]map[string]string{
	"en": {
		kindVerify:    "Verify your email address",
		kindReset:     "Reset your password",
		kindMagicLink: "Your sign in link",
		kindInvite:    "You have been invited",
	},
	"fr": {
		kindVerify:    "Vérifiez votre adresse e-mail",
		kindReset:     "Réinitialisez votre mot de passe",
		kindMagicLink: "Votre lien de connexion",
		kindInvite:    "Vous avez été invité",
	},
	"es": {
		kindVerify:    "Verifica tu dirección de correo",
		kindReset:     "Restablece tu contraseña",
		kindMagicLink: "Tu enlace de inicio de sesión",
		kindInvite:    "Has sido invitado",
	},
}

func subjectFor(locale, kind string) string {
	if byKind, ok := subjects[locale]; ok {
		if subject, ok := byKind[kind]; ok {
			return subject
		}
	}
	return subjects["en"][kind]
}

// SMTPMailer sends transactional auth emails over SMTP.
type SMTPMailer struct {
	cfg    Config
	dialer *mail.Dialer
	logger *zap.Logger
}

// New creates an SMTPMailer.
func New(cfg Config, logger *zap.Logger) *SMTPMailer {
	return &SMTPMailer{
		cfg:    cfg,
		dialer: mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		logger: logger,
	}
}

// SendEmailVerify mails a verification link. When the data carries a
// pending new address the link targets the application instead, which
// finishes the change with the enclosed ticket.
func (m *SMTPMailer) SendEmailVerify(ctx context.Context, to, locale string, data auth.EmailData) error {
	var link, action string
	if data.NewEmail != "" {
		link = m.appLink(data)
		action = fmt.Sprintf("confirm your new email address %s", data.NewEmail)
	} else {
		link = m.verifyLink(data)
		action = "verify your email address"
	}
	text := fmt.Sprintf("Hi %s,\n\nPlease %s by opening the link below.\n\n%s\n", data.DisplayName, action, link)
	html := fmt.Sprintf("<p>Hi %s,</p><p>Please %s by clicking the link below.</p><p><a href=%q>%s</a></p>",
		data.DisplayName, action, link, link)
	return m.send(ctx, to, subjectFor(locale, kindVerify), text, html)
}

// SendPasswordReset mails a reset link pointing at the application, which
// collects the new password and redeems the ticket.
func (m *SMTPMailer) SendPasswordReset(ctx context.Context, to, locale string, data auth.EmailData) error {
	link := m.appLink(data)
	text := fmt.Sprintf("Hi %s,\n\nA password reset was requested for your account. Open the link below to choose a new password.\n\n%s\n\nIf you did not request this, you can ignore this email.\n", data.DisplayName, link)
	html := fmt.Sprintf("<p>Hi %s,</p><p>A password reset was requested for your account. Click the link below to choose a new password.</p><p><a href=%q>%s</a></p><p>If you did not request this, you can ignore this email.</p>",
		data.DisplayName, link, link)
	return m.send(ctx, to, subjectFor(locale, kindReset), text, html)
}

// SendMagicLink mails a one-time sign in link.
func (m *SMTPMailer) SendMagicLink(ctx context.Context, to, locale string, data auth.EmailData) error {
	link := m.verifyLink(data)
	text := fmt.Sprintf("Hi %s,\n\nOpen the link below to sign in. The link works once and expires.\n\n%s\n", data.DisplayName, link)
	html := fmt.Sprintf("<p>Hi %s,</p><p>Click the link below to sign in. The link works once and expires.</p><p><a href=%q>%s</a></p>",
		data.DisplayName, link, link)
	return m.send(ctx, to, subjectFor(locale, kindMagicLink), text, html)
}

// SendInvite mails a sign up invitation.
func (m *SMTPMailer) SendInvite(ctx context.Context, to, locale string, data auth.EmailData) error {
	link := data.RedirectTo
	if link == "" {
		link = m.cfg.BaseURL
	}
	text := fmt.Sprintf("Hi,\n\nYou have been invited to create an account. Get started here:\n\n%s\n", link)
	html := fmt.Sprintf("<p>Hi,</p><p>You have been invited to create an account. Get started here:</p><p><a href=%q>%s</a></p>",
		link, link)
	return m.send(ctx, to, subjectFor(locale, kindInvite), text, html)
}

// verifyLink targets this service's verification endpoint, which redeems
// the ticket and redirects onwards.
func (m *SMTPMailer) verifyLink(data auth.EmailData) string {
	q := url.Values{}
	q.Set("ticket", data.Ticket)
	if data.RedirectTo != "" {
		q.Set("redirectTo", data.RedirectTo)
	}
	return m.cfg.BaseURL + "/user/email/verify?" + q.Encode()
}

// appLink targets the application with the ticket appended, for flows the
// application finishes itself.
func (m *SMTPMailer) appLink(data auth.EmailData) string {
	target := data.RedirectTo
	if target == "" {
		target = m.cfg.BaseURL
	}
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set("ticket", data.Ticket)
	u.RawQuery = q.Encode()
	return u.String()
}

func (m *SMTPMailer) send(ctx context.Context, to, subject, textBody, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", m.cfg.From)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", textBody)
	msg.AddAlternative("text/html", htmlBody)

	if err := m.dialer.DialAndSend(msg); err != nil {
		m.logger.Error("Failed to send email", zap.String("subject", subject), zap.Error(err))
		return fmt.Errorf("smtp send: %w", err)
	}
	m.logger.Debug("Email sent", zap.String("subject", subject))
	return nil
}
