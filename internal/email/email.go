// Package email delivers the daily phrase over authenticated SMTP.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/BTreeMap/PhrasePipe/internal/models"
)

const (
	// DefaultMaxRetries is how many submission attempts each message gets
	// before the failure is reported upstream.
	DefaultMaxRetries = 3
	// DefaultRetryBackoff is the base wait between attempts. Attempt n
	// waits n times this long.
	DefaultRetryBackoff = 2 * time.Second
)

// Client abstracts SMTP submission so tests can swap in a mock.
type Client interface {
	SendMail(ctx context.Context, to string, msg []byte) error
}

// Opts holds configuration options for the email sender.
type Opts struct {
	Host         string
	Port         int
	Username     string
	Password     string
	From         string
	MaxRetries   int
	RetryBackoff time.Duration
	Client       Client
}

// Option defines a configuration option for the email sender.
type Option func(*Opts)

// WithHost sets the SMTP server hostname.
func WithHost(host string) Option {
	return func(o *Opts) { o.Host = host }
}

// WithPort sets the SMTP server port.
func WithPort(port int) Option {
	return func(o *Opts) { o.Port = port }
}

// WithUsername sets the SMTP login user.
func WithUsername(user string) Option {
	return func(o *Opts) { o.Username = user }
}

// WithPassword sets the SMTP login password.
func WithPassword(password string) Option {
	return func(o *Opts) { o.Password = password }
}

// WithFrom sets the envelope and header From address. Defaults to the
// login user.
func WithFrom(from string) Option {
	return func(o *Opts) { o.From = from }
}

// WithMaxRetries sets the per-message attempt budget.
func WithMaxRetries(n int) Option {
	return func(o *Opts) { o.MaxRetries = n }
}

// WithRetryBackoff sets the base wait between attempts.
func WithRetryBackoff(d time.Duration) Option {
	return func(o *Opts) { o.RetryBackoff = d }
}

// WithClient injects a custom SMTP client, used in tests.
func WithClient(c Client) Option {
	return func(o *Opts) { o.Client = c }
}

// Sender submits phrase messages over SMTP with a small local retry budget.
// It retries inline with linear backoff before reporting a failure, so a
// single hiccup on the submission socket does not defer the recipient to
// the next run.
type Sender struct {
	client       Client
	from         string
	maxRetries   int
	retryBackoff time.Duration
}

// NewSender creates an SMTP-backed sender. Connection settings fall back to
// the EMAIL_USER, EMAIL_PASSWORD, SMTP_SERVER and SMTP_PORT environment
// variables when not provided via options.
func NewSender(opts ...Option) (*Sender, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Username == "" {
		cfg.Username = os.Getenv("EMAIL_USER")
	}
	if cfg.Password == "" {
		cfg.Password = os.Getenv("EMAIL_PASSWORD")
	}
	if cfg.Host == "" {
		cfg.Host = os.Getenv("SMTP_SERVER")
	}
	if cfg.Port == 0 {
		if v := os.Getenv("SMTP_PORT"); v != "" {
			port, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("invalid SMTP_PORT %q: %w", v, err)
			}
			cfg.Port = port
		}
	}

	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if cfg.Client == nil {
		if cfg.Username == "" || cfg.Password == "" {
			return nil, fmt.Errorf("email credentials must be provided")
		}
		if cfg.Host == "" {
			return nil, fmt.Errorf("SMTP server must be provided")
		}
		if cfg.Port < 1 || cfg.Port > 65535 {
			return nil, fmt.Errorf("SMTP port %d out of range", cfg.Port)
		}
		cfg.Client = &SMTPClient{
			host:     cfg.Host,
			port:     cfg.Port,
			username: cfg.Username,
			password: cfg.Password,
			from:     cfg.From,
		}
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}

	return &Sender{
		client:       cfg.Client,
		from:         cfg.From,
		maxRetries:   cfg.MaxRetries,
		retryBackoff: cfg.RetryBackoff,
	}, nil
}

// Send renders and submits the phrase to one recipient, retrying up to the
// attempt budget with linear backoff.
func (s *Sender) Send(ctx context.Context, phrase models.Phrase, recipient models.Recipient) error {
	if phrase.Text == "" {
		return models.ErrEmptyPhrase
	}
	if err := models.ValidateEmail(recipient.Address); err != nil {
		return err
	}

	msg, err := buildMessage(phrase, recipient, s.from, time.Now())
	if err != nil {
		return fmt.Errorf("failed to build message for %s: %w", recipient.Address, err)
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		slog.Debug("Sender.Send submitting", "to", recipient.Address, "attempt", attempt)
		lastErr = s.client.SendMail(ctx, recipient.Address, msg)
		if lastErr == nil {
			slog.Debug("Sender.Send delivered", "to", recipient.Address, "attempt", attempt)
			return nil
		}
		slog.Warn("Sender.Send attempt failed",
			"to", recipient.Address, "attempt", attempt, "error", lastErr)
		if attempt < s.maxRetries {
			if err := sleep(ctx, time.Duration(attempt)*s.retryBackoff); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("failed to send to %s after %d attempts: %w", recipient.Address, s.maxRetries, lastErr)
}

// sleep waits for d or until ctx is canceled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
