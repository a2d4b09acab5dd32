package notification

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"gopkg.in/gomail.v2"

	"github.com/frahmantamala/enrollment-payments/internal"
)

// Dialer is the part of *gomail.Dialer the sender needs.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type Attachment struct {
	Name string
	Data []byte
}

type Email struct {
	To          string
	Subject     string
	HTML        string
	Attachments []Attachment
}

type EmailSender struct {
	dialer Dialer
	from   string
	logger *slog.Logger
}

func NewEmailSender(cfg internal.SMTPConfig, logger *slog.Logger) *EmailSender {
	return NewEmailSenderWithDialer(gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password), cfg.From, logger)
}

func NewEmailSenderWithDialer(dialer Dialer, from string, logger *slog.Logger) *EmailSender {
	return &EmailSender{dialer: dialer, from: from, logger: logger}
}

func (s *EmailSender) Send(ctx context.Context, email Email) error {
	if email.To == "" {
		return fmt.Errorf("email %q has no recipient", email.Subject)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", email.To)
	m.SetHeader("Subject", email.Subject)
	m.SetBody("text/html", email.HTML)
	for _, a := range email.Attachments {
		data := a.Data
		m.Attach(a.Name, gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		}))
	}

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send email to %s: %w", email.To, err)
	}
	s.logger.InfoContext(ctx, "email sent", "to", email.To, "subject", email.Subject, "attachments", len(email.Attachments))
	return nil
}
