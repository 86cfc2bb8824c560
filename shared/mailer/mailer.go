// Package mailer sends outreach email over SMTP. It implements the
// EmailSender interface the sequence engine and job handlers consume.
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds SMTP settings.
type Config struct {
	Host        string
	Port        int
	User        string
	Password    string
	FromAddress string
	FromName    string
}

// Mailer is an SMTP email sender.
type Mailer struct {
	config *Config
	logger *slog.Logger
	send   func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// New creates a Mailer.
func New(config *Config, logger *slog.Logger) *Mailer {
	return &Mailer{config: config, logger: logger, send: smtp.SendMail}
}

// Send delivers one email and returns the generated message id.
// The context is checked before dialing; net/smtp itself does not take
// a context.
func (m *Mailer) Send(ctx context.Context, to, subject, htmlBody, textBody string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if to == "" {
		return "", fmt.Errorf("recipient address is empty")
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), m.config.Host)
	msg := m.buildMessage(messageID, to, subject, htmlBody, textBody)

	addr := fmt.Sprintf("%s:%d", m.config.Host, m.config.Port)
	var auth smtp.Auth
	if m.config.User != "" {
		auth = smtp.PlainAuth("", m.config.User, m.config.Password, m.config.Host)
	}

	if err := m.send(addr, auth, m.config.FromAddress, []string{to}, msg); err != nil {
		return "", fmt.Errorf("failed to send email: %w", err)
	}

	m.logger.Debug("Email sent",
		slog.String("to", to),
		slog.String("message_id", messageID),
	)
	return messageID, nil
}

// buildMessage renders a multipart/alternative MIME message. A missing
// text part falls back to an HTML-only body.
func (m *Mailer) buildMessage(messageID, to, subject, htmlBody, textBody string) []byte {
	var b strings.Builder

	from := m.config.FromAddress
	if m.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", m.config.FromName), m.config.FromAddress)
	}

	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Message-ID: %s\r\n", messageID)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")

	if textBody == "" {
		b.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
		b.WriteString(htmlBody)
		return []byte(b.String())
	}

	boundary := "part-" + uuid.New().String()
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(textBody)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	b.WriteString(htmlBody)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s--\r\n", boundary)
	return []byte(b.String())
}
