package email

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
)

// Message is one outbound notification.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers a Message.
type Sender interface {
	Send(ctx context.Context, message Message) error
}

// SMTPSender delivers through a plain SMTP relay with optional PLAIN auth.
type SMTPSender struct {
	Addr     string
	From     string
	Username string
	Password string
}

func (s *SMTPSender) Send(_ context.Context, message Message) error {
	var auth smtp.Auth

	if s.Username != "" {
		host, _, err := net.SplitHostPort(s.Addr)
		if err != nil {
			return fmt.Errorf("invalid smtp address %q: %w", s.Addr, err)
		}

		auth = smtp.PlainAuth("", s.Username, s.Password, host)
	}

	err := smtp.SendMail(s.Addr, auth, s.From, []string{message.To}, s.compose(message))
	if err != nil {
		return fmt.Errorf("failed to send email to %s: %w", message.To, err)
	}

	return nil
}

func (s *SMTPSender) compose(message Message) []byte {
	var b strings.Builder

	b.WriteString("From: " + s.From + "\r\n")
	b.WriteString("To: " + message.To + "\r\n")
	b.WriteString("Subject: " + message.Subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(message.Body)

	return []byte(b.String())
}

// LogSender only logs messages. Used when no SMTP relay is configured.
type LogSender struct {
	Logger *slog.Logger
}

func (s *LogSender) Send(ctx context.Context, message Message) error {
	s.Logger.InfoContext(ctx, "Email dry run", "to", message.To, "subject", message.Subject, "body", message.Body)

	return nil
}
