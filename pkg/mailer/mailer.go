// Package mailer delivers HTML reports over SMTP.
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/finbrief/finbrief/pkg/config"
)

// defaultSubjectTemplate is used when the config carries no subject.
// {date} expands to the current local date and time.
const defaultSubjectTemplate = "AI新闻分析报告 - {date}"

// sender abstracts the SMTP client for tests.
type sender interface {
	DialAndSendWithContext(ctx context.Context, msgs ...*mail.Msg) error
}

// Service sends report emails. Nil-safe: all methods are no-ops when
// the service is nil, so callers never branch on whether email is
// configured.
type Service struct {
	cfg    config.EmailConfig
	logger *slog.Logger

	// newSender is swappable in tests.
	newSender func() (sender, error)
}

// NewService creates a mail service, or nil when no SMTP server is
// configured.
func NewService(cfg config.EmailConfig) *Service {
	if cfg.SMTP.Server == "" {
		slog.Info("SMTP server not configured, email dispatch disabled")
		return nil
	}
	s := &Service{
		cfg:    cfg,
		logger: slog.Default().With("component", "mailer"),
	}
	s.newSender = s.dial
	return s
}

// Send delivers one HTML email to the configured recipients.
// Fail-open: errors are logged and returned, but a nil service simply
// reports success-as-skip.
func (s *Service) Send(ctx context.Context, subject, htmlBody string) error {
	if s == nil {
		slog.Debug("Email dispatch skipped, mailer not configured")
		return nil
	}
	if len(s.cfg.Recipients) == 0 {
		s.logger.Warn("No recipients configured, skipping email")
		return nil
	}

	msg, err := s.buildMessage(subject, htmlBody)
	if err != nil {
		return fmt.Errorf("build email: %w", err)
	}

	client, err := s.newSender()
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		s.logger.Error("Email delivery failed", "subject", subject, "error", err)
		return fmt.Errorf("send email: %w", err)
	}

	s.logger.Info("Email sent", "subject", subject, "recipients", len(s.cfg.Recipients))
	return nil
}

// FormatSubject expands a subject template, replacing {date} with the
// given timestamp. An empty template falls back to the default.
func FormatSubject(template string, now time.Time) string {
	if template == "" {
		template = defaultSubjectTemplate
	}
	return strings.ReplaceAll(template, "{date}", now.Format("2006-01-02 15:04"))
}

func (s *Service) buildMessage(subject, htmlBody string) (*mail.Msg, error) {
	msg := mail.NewMsg()

	fromName := s.cfg.Template.FromName
	if fromName == "" {
		fromName = "AI新闻助手"
	}
	if err := msg.FromFormat(fromName, s.cfg.SMTP.Username); err != nil {
		return nil, fmt.Errorf("invalid from address %q: %w", s.cfg.SMTP.Username, err)
	}
	if err := msg.To(s.cfg.Recipients...); err != nil {
		return nil, fmt.Errorf("invalid recipients: %w", err)
	}

	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, htmlBody)
	return msg, nil
}

// dial builds the SMTP client per the transport config: implicit TLS
// on 465, STARTTLS on 587, opportunistic otherwise.
func (s *Service) dial() (sender, error) {
	smtp := s.cfg.SMTP

	opts := []mail.Option{
		mail.WithPort(smtp.Port),
		mail.WithSMTPAuth(mail.SMTPAuthLogin),
		mail.WithUsername(smtp.Username),
		mail.WithPassword(smtp.Password),
	}

	switch {
	case smtp.UseSSL || smtp.Port == 465:
		opts = append(opts, mail.WithSSL())
	case smtp.UseTLS || smtp.Port == 587:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}

	return mail.NewClient(smtp.Server, opts...)
}
