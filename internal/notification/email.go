package notification

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"

	"github.com/jordan-wright/email"
)

// SMTPConfig holds mail relay settings.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Sender   string
}

// EmailNotifier delivers messages through an SMTP relay.
type EmailNotifier struct {
	cfg    SMTPConfig
	logger *slog.Logger
	send   func(e *email.Email, addr string, auth smtp.Auth) error
}

// NewEmailNotifier builds an SMTP notifier.
func NewEmailNotifier(cfg SMTPConfig, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		logger: logger,
		send: func(e *email.Email, addr string, auth smtp.Auth) error {
			return e.Send(addr, auth)
		},
	}
}

// Send emails the message to its destination.
func (n *EmailNotifier) Send(_ context.Context, message Message) error {
	e := email.NewEmail()
	e.From = n.cfg.Sender
	e.To = []string{message.Destination}
	e.Subject = message.Subject
	e.Text = []byte(message.Body)

	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}
	addr := net.JoinHostPort(n.cfg.Host, n.cfg.Port)
	if err := n.send(e, addr, auth); err != nil {
		n.logger.Error("email delivery failed",
			slog.String("kind", message.Kind),
			slog.String("destination", message.Destination),
			slog.Any("error", err),
		)
		return fmt.Errorf("send %s email: %w", message.Kind, err)
	}
	n.logger.Info("email sent", slog.String("kind", message.Kind), slog.String("destination", message.Destination))
	return nil
}
