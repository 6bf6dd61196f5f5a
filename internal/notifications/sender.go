package notifications

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wneessen/go-mail"
)

// Sender delivers one payload to a set of recipients in a single call.
type Sender interface {
	Send(ctx context.Context, p Payload, recipients []string) error
}

// MailConfig configures the SMTP relay.
type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// MailSender sends notifications through an SMTP relay.
// Nil-safe: when not configured, Send logs the message and returns nil.
type MailSender struct {
	client *mail.Client
	from   string
	logger *slog.Logger
}

// NewMailSender creates an SMTP sender. Returns nil if cfg.Host is empty
// (email disabled).
func NewMailSender(cfg MailConfig, logger *slog.Logger) (*MailSender, error) {
	if cfg.Host == "" {
		return nil, nil
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return &MailSender{client: client, from: cfg.From, logger: logger}, nil
}

// Send emails p to all recipients. Recipients are blind-copied so watchers
// do not see each other's addresses.
func (s *MailSender) Send(ctx context.Context, p Payload, recipients []string) error {
	if s == nil {
		return nil // no-op when not configured
	}
	if len(recipients) == 0 {
		return fmt.Errorf("no recipients")
	}

	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return fmt.Errorf("set from: %w", err)
	}
	if err := msg.To(s.from); err != nil {
		return fmt.Errorf("set to: %w", err)
	}
	if err := msg.Bcc(recipients...); err != nil {
		return fmt.Errorf("set bcc: %w", err)
	}
	msg.Subject(p.Subject)
	msg.SetBodyString(mail.TypeTextHTML, p.Body)

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	s.logger.Debug("Email sent", "subject", p.Subject, "recipients", len(recipients))
	return nil
}
