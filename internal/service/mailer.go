package service

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// MailMessage is a plain-text email.
type MailMessage struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers transactional email.
type Mailer interface {
	Send(ctx context.Context, message MailMessage) error
}

// LogMailer logs messages instead of sending them. It is used when no SMTP
// server is configured.
type LogMailer struct {
	logger zerolog.Logger
}

// NewLogMailer constructs a logging mailer.
func NewLogMailer(logger zerolog.Logger) *LogMailer {
	return &LogMailer{logger: logger.With().Str("component", "log_mailer").Logger()}
}

// Send logs the recipient and subject.
func (l *LogMailer) Send(_ context.Context, message MailMessage) error {
	l.logger.Info().Str("to", message.To).Str("subject", message.Subject).Msg("email delivery skipped, smtp not configured")
	return nil
}

// SMTPConfig describes the outgoing mail server.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer sends email through an SMTP relay with PLAIN auth.
type SMTPMailer struct {
	cfg    SMTPConfig
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	logger zerolog.Logger
}

// NewSMTPMailer constructs an SMTP mailer.
func NewSMTPMailer(cfg SMTPConfig, logger zerolog.Logger) *SMTPMailer {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPMailer{
		cfg:    cfg,
		send:   smtp.SendMail,
		logger: logger.With().Str("component", "smtp_mailer").Logger(),
	}
}

// Send delivers the message. net/smtp has no context support, so
// cancellation is only checked before dialing.
func (m *SMTPMailer) Send(ctx context.Context, message MailMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	if err := m.send(addr, auth, m.cfg.From, []string{message.To}, buildMessage(m.cfg.From, message, time.Now())); err != nil {
		m.logger.Error().Err(err).Str("subject", message.Subject).Msg("smtp delivery failed")
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func buildMessage(from string, message MailMessage, now time.Time) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + message.To + "\r\n")
	b.WriteString("Subject: " + stripHeader(message.Subject) + "\r\n")
	b.WriteString("Date: " + now.UTC().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(message.Body, "\n", "\r\n"))
	return []byte(b.String())
}

func stripHeader(value string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(value)
}
