// Package smtp delivers auth emails over SMTP behind a circuit breaker.
package smtp

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	auth "github.com/goliatone/go-auth-service"
)

// Config holds the SMTP connection and sender details
type Config struct {
	Host      string
	Port      int
	Username  string
	Password  string
	// StartTLS upgrades the connection before authenticating
	StartTLS  bool
	FromEmail string
	FromName  string
	Timeout   time.Duration
}

func (c Config) addr() string {
	port := c.Port
	if port == 0 {
		port = 587
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Enabled reports whether enough is configured to send mail
func (c Config) Enabled() bool {
	return c.Host != "" && c.FromEmail != ""
}

// BreakerConfig controls when delivery stops trying a failing server
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// ErrCircuitOpen is returned while the breaker rejects deliveries
var ErrCircuitOpen = gobreaker.ErrOpenState

// SendFunc delivers a fully encoded message
type SendFunc func(ctx context.Context, from string, to []string, msg []byte) error

// Sender implements auth.Mailer
type Sender struct {
	config  Config
	breaker *gobreaker.CircuitBreaker[struct{}]
	send    SendFunc
	logger  auth.Logger
}

var _ auth.Mailer = (*Sender)(nil)

type Option func(*Sender)

func WithLogger(logger auth.Logger) Option {
	return func(s *Sender) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSendFunc replaces the network transport
func WithSendFunc(fn SendFunc) Option {
	return func(s *Sender) {
		if fn != nil {
			s.send = fn
		}
	}
}

func NewSender(config Config, breaker BreakerConfig, opts ...Option) *Sender {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	s := &Sender{
		config: config,
		logger: auth.NewDefaultLogger(),
	}
	s.send = s.dial

	for _, opt := range opts {
		opt(s)
	}

	threshold := breaker.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}

	s.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "smtp",
		MaxRequests: breaker.MaxRequests,
		Interval:    breaker.Interval,
		Timeout:     breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("circuit breaker %s changed from %s to %s", name, from, to)
		},
	})

	return s
}

// State returns the breaker state
func (s *Sender) State() gobreaker.State {
	return s.breaker.State()
}

// Send encodes msg and delivers it through the breaker
func (s *Sender) Send(ctx context.Context, msg auth.EmailMessage) error {
	if _, err := mail.ParseAddress(msg.To); err != nil {
		return fmt.Errorf("invalid recipient %q: %w", msg.To, err)
	}

	raw, err := s.encode(msg)
	if err != nil {
		return err
	}

	_, err = s.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, s.send(ctx, s.config.FromEmail, []string{msg.To}, raw)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			s.logger.Warn("smtp delivery to %s skipped: %v", msg.To, err)
		}
		return err
	}

	s.logger.Info("email sent to %s: %s", msg.To, msg.Subject)
	return nil
}

func (s *Sender) encode(msg auth.EmailMessage) ([]byte, error) {
	from := mail.Address{Name: s.config.FromName, Address: s.config.FromEmail}
	boundary, err := newBoundary()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	header := func(k, v string) {
		buf.WriteString(k + ": " + v + "\r\n")
	}

	header("From", from.String())
	header("To", msg.To)
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", time.Now().UTC().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")

	if msg.HTMLBody == "" {
		header("Content-Type", "text/plain; charset=utf-8")
		header("Content-Transfer-Encoding", "quoted-printable")
		buf.WriteString("\r\n")
		if err := writeQuoted(&buf, msg.TextBody); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	header("Content-Type", `multipart/alternative; boundary="`+boundary+`"`)
	buf.WriteString("\r\n")

	parts := []struct {
		contentType string
		body        string
	}{
		{"text/plain; charset=utf-8", msg.TextBody},
		{"text/html; charset=utf-8", msg.HTMLBody},
	}
	for _, part := range parts {
		if part.body == "" {
			continue
		}
		buf.WriteString("--" + boundary + "\r\n")
		header("Content-Type", part.contentType)
		header("Content-Transfer-Encoding", "quoted-printable")
		buf.WriteString("\r\n")
		if err := writeQuoted(&buf, part.body); err != nil {
			return nil, err
		}
		buf.WriteString("\r\n")
	}
	buf.WriteString("--" + boundary + "--\r\n")

	return buf.Bytes(), nil
}

func writeQuoted(buf *bytes.Buffer, body string) error {
	w := quotedprintable.NewWriter(buf)
	if _, err := w.Write([]byte(body)); err != nil {
		return err
	}
	return w.Close()
}

func newBoundary() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func (s *Sender) dial(ctx context.Context, from string, to []string, msg []byte) error {
	dialer := net.Dialer{Timeout: s.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.config.addr())
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}

	deadline := time.Now().Add(s.config.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if s.config.StartTLS {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			return errors.New("smtp server does not support STARTTLS")
		}
		if err := client.StartTLS(&tls.Config{ServerName: s.config.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}

	if s.config.Username != "" {
		plain := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
		if err := client.Auth(plain); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO: %w", err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}

	return client.Quit()
}

// String omits the password
func (c Config) String() string {
	return fmt.Sprintf("smtp://%s@%s (starttls=%t)", strings.TrimSpace(c.Username), c.addr(), c.StartTLS)
}
