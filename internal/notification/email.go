package notification

import (
	"context"
	"fmt"

	"github.com/go-gomail/gomail"

	"optout/pkg/platform/sentinel"
)

// MailSender is satisfied by *gomail.Dialer.
type MailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailSender sends codes over SMTP.
type EmailSender struct {
	dialer MailSender
	from   string
}

func NewSMTPEmailSender(host string, port int, username, password, from string) *EmailSender {
	return NewEmailSender(gomail.NewDialer(host, port, username, password), from)
}

func NewEmailSender(dialer MailSender, from string) *EmailSender {
	return &EmailSender{dialer: dialer, from: from}
}

func (s *EmailSender) Send(_ context.Context, msg Message) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.Destination)
	m.SetHeader("Subject", "Your opt-out verification code")
	m.SetBody("text/plain", codeText(msg))

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send: %w: %w", sentinel.ErrUnavailable, err)
	}
	return nil
}
