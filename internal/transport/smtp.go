package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/mail.v2"

	"github.com/utafrali/notifier/internal/channel"
)

// SMTPConfig holds the mail server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTP sends email through a plain SMTP relay.
type SMTP struct {
	cfg    SMTPConfig
	dialer *mail.Dialer
}

// NewSMTP creates an SMTP transport.
func NewSMTP(cfg SMTPConfig) (*SMTP, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: smtp host is required", ErrInvalidConfig)
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("%w: smtp sender address is required", ErrInvalidConfig)
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}

	dialer := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	if cfg.Timeout > 0 {
		dialer.Timeout = cfg.Timeout
	}

	return &SMTP{cfg: cfg, dialer: dialer}, nil
}

// Send implements channel.Transport. The dialer is not context aware, so ctx
// is only checked before dialing.
func (s *SMTP) Send(ctx context.Context, msg *channel.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m, id := s.buildMessage(msg)
	if err := s.dialer.DialAndSend(m); err != nil {
		return "", fmt.Errorf("smtp send: %w", err)
	}
	return id, nil
}

func (s *SMTP) buildMessage(msg *channel.Message) (*mail.Message, string) {
	id := fmt.Sprintf("<%s@%s>", uuid.NewString(), s.cfg.Host)

	m := mail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", msg.Recipient)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", id)
	m.SetHeader("X-Notification-ID", msg.NotificationID)
	m.SetBody("text/plain", msg.Body)

	return m, id
}

// Ping implements channel.Transport by opening and closing a session.
func (s *SMTP) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	conn, err := s.dialer.Dial()
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	return conn.Close()
}
