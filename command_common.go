package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	commandTimeout = 10 * time.Second

	// MessageVerificationSent is returned by resend-verification whether
	// or not the address is registered
	MessageVerificationSent = "If the email exists, a new verification email will be sent"
	// MessageResetSent is returned by forgot-password whether or not the
	// address is registered
	MessageResetSent = "If the email exists, a recovery link will be sent"
)

// CommandOption configures the dependencies shared by flow handlers
type CommandOption func(*commandBase)

// WithCommandMailer sets the mailer and the composer used to render
// outgoing email
func WithCommandMailer(mailer Mailer, composer *EmailComposer) CommandOption {
	return func(b *commandBase) {
		b.mailer = normalizeMailer(mailer)
		if composer != nil {
			b.composer = composer
		}
	}
}

func WithCommandActivitySink(sink ActivitySink) CommandOption {
	return func(b *commandBase) {
		b.activity = normalizeActivitySink(sink)
	}
}

func WithCommandLogger(logger Logger) CommandOption {
	return func(b *commandBase) {
		b.logger = normalizeLogger(logger)
	}
}

func WithCommandClock(now func() time.Time) CommandOption {
	return func(b *commandBase) {
		if now != nil {
			b.now = now
		}
	}
}

type commandBase struct {
	repo     RepositoryManager
	mailer   Mailer
	composer *EmailComposer
	activity ActivitySink
	logger   Logger
	now      func() time.Time
}

func newCommandBase(repo RepositoryManager, opts []CommandOption) commandBase {
	b := commandBase{
		repo:     repo,
		mailer:   noopMailer{},
		activity: noopActivitySink{},
		logger:   defLogger{},
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&b)
		}
	}
	return b
}

// begin checks ctx before any work is done and bounds the command
func (b commandBase) begin(ctx context.Context, op string) (context.Context, context.CancelFunc, error) {
	select {
	case <-ctx.Done():
		return nil, nil, goerrors.Wrap(ctx.Err(), CategoryInternal, "context cancelled during "+op)
	default:
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	return ctx, cancel, nil
}

// deliver sends a message after the state change has been committed.
// Delivery failures are logged only.
func (b commandBase) deliver(ctx context.Context, render func(*EmailComposer) (EmailMessage, error)) {
	if b.composer == nil {
		b.logger.Warn("no email composer configured, skipping email")
		return
	}

	msg, err := render(b.composer)
	if err != nil {
		b.logger.Error("failed to render email: %v", err)
		return
	}

	if err := b.mailer.Send(ctx, msg); err != nil {
		b.logger.Error("failed to send email to %s: %v", msg.To, err)
	}
}

func (b commandBase) record(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = b.now().UTC()
	}
	emitActivity(ctx, b.activity, b.logger, event)
}

// asError keeps *Error values and wraps everything else as Internal
func asError(err error, msg string) error {
	if err == nil {
		return nil
	}
	var richErr *Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, CategoryInternal, msg)
}
