package auth

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/flosch/pongo2/v6"
	goerrors "github.com/goliatone/go-errors"
)

const (
	verifyEmailPath   = "/verify-email"
	resetPasswordPath = "/reset-password"
)

const verificationText = `Hi {{ name }},

Thanks for signing up to {{ project }}. Confirm your email address by opening the link below:

{{ link }}

If you did not create an account you can ignore this message.
`

const verificationHTML = `<p>Hi {{ name }},</p>
<p>Thanks for signing up to {{ project }}. Confirm your email address by opening the link below:</p>
<p><a href="{{ link }}">Verify email</a></p>
<p>If you did not create an account you can ignore this message.</p>
`

const resetText = `Hi {{ name }},

We received a request to reset your {{ project }} password. Use the link below before {{ expires_at|date:"2006-01-02 15:04 MST" }}:

{{ link }}

If you did not request a reset you can ignore this message.
`

const resetHTML = `<p>Hi {{ name }},</p>
<p>We received a request to reset your {{ project }} password. Use the link below before {{ expires_at|date:"2006-01-02 15:04 MST" }}:</p>
<p><a href="{{ link }}">Reset password</a></p>
<p>If you did not request a reset you can ignore this message.</p>
`

type emailTemplate struct {
	subject string
	text    *pongo2.Template
	html    *pongo2.Template
}

func (t emailTemplate) render(to string, data pongo2.Context) (EmailMessage, error) {
	text, err := t.text.Execute(data)
	if err != nil {
		return EmailMessage{}, goerrors.Wrap(err, CategoryInternal, "failed to render email")
	}
	html, err := t.html.Execute(data)
	if err != nil {
		return EmailMessage{}, goerrors.Wrap(err, CategoryInternal, "failed to render email")
	}
	return EmailMessage{
		To:       to,
		Subject:  t.subject,
		TextBody: text,
		HTMLBody: html,
	}, nil
}

// EmailComposer renders the verification and password reset emails
type EmailComposer struct {
	project      string
	frontendURL  string
	verification emailTemplate
	reset        emailTemplate
}

// NewEmailComposer compiles the email templates. Links point to
// frontendURL.
func NewEmailComposer(project, frontendURL string) (*EmailComposer, error) {
	c := &EmailComposer{
		project:     project,
		frontendURL: strings.TrimRight(frontendURL, "/"),
	}

	var err error
	if c.verification, err = compileEmail(project+" - Verify your email", verificationText, verificationHTML); err != nil {
		return nil, err
	}
	if c.reset, err = compileEmail(project+" - Password recovery", resetText, resetHTML); err != nil {
		return nil, err
	}
	return c, nil
}

func compileEmail(subject, text, html string) (emailTemplate, error) {
	textTpl, err := pongo2.FromString(text)
	if err != nil {
		return emailTemplate{}, goerrors.Wrap(err, CategoryInternal, "failed to compile email template")
	}
	htmlTpl, err := pongo2.FromString(html)
	if err != nil {
		return emailTemplate{}, goerrors.Wrap(err, CategoryInternal, "failed to compile email template")
	}
	return emailTemplate{subject: subject, text: textTpl, html: htmlTpl}, nil
}

// VerificationEmail renders the email confirmation message for user
func (c *EmailComposer) VerificationEmail(user *User, token string) (EmailMessage, error) {
	return c.verification.render(user.Email, pongo2.Context{
		"name":    displayName(user),
		"project": c.project,
		"link":    c.link(verifyEmailPath, token),
	})
}

// PasswordResetEmail renders the password recovery message for user
func (c *EmailComposer) PasswordResetEmail(user *User, token string, expiresAt time.Time) (EmailMessage, error) {
	return c.reset.render(user.Email, pongo2.Context{
		"name":       displayName(user),
		"project":    c.project,
		"link":       c.link(resetPasswordPath, token),
		"expires_at": expiresAt.UTC(),
	})
}

func (c *EmailComposer) link(path, token string) string {
	return c.frontendURL + path + "?token=" + url.QueryEscape(token)
}

func displayName(user *User) string {
	if name := user.FullName(); name != "" {
		return name
	}
	return user.Email
}

// LogMailer writes messages to the logger instead of delivering them
type LogMailer struct {
	logger Logger
}

func NewLogMailer(logger Logger) *LogMailer {
	return &LogMailer{logger: normalizeLogger(logger)}
}

func (m *LogMailer) Send(_ context.Context, msg EmailMessage) error {
	m.logger.Info("email to=%s subject=%q\n%s", msg.To, msg.Subject, msg.TextBody)
	return nil
}

type noopMailer struct{}

func (noopMailer) Send(context.Context, EmailMessage) error { return nil }

func normalizeMailer(m Mailer) Mailer {
	if m == nil {
		return noopMailer{}
	}
	return m
}
