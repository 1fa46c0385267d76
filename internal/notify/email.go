package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/config"
)

const emailTimeout = 10 * time.Second

// EmailChannel sends alerts over SMTP, upgrading with STARTTLS when asked
type EmailChannel struct {
	cfg     config.EmailChannel
	timeout time.Duration // bounds the whole SMTP session
}

// NewEmailChannel creates an SMTP channel
func NewEmailChannel(cfg config.EmailChannel) *EmailChannel {
	return &EmailChannel{cfg: cfg, timeout: emailTimeout}
}

// Name returns the channel name
func (c *EmailChannel) Name() string {
	return "email"
}

// Send delivers one message to every recipient
func (c *EmailChannel) Send(ctx context.Context, msg Message) error {
	if c.cfg.SMTPServer == "" || c.cfg.From == "" || len(c.cfg.To) == 0 {
		return fmt.Errorf("email channel is missing server, sender or recipients")
	}

	addr := net.JoinHostPort(c.cfg.SMTPServer, strconv.Itoa(c.cfg.SMTPPort))
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	dialer := net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to smtp server: %w", err)
	}
	// A server that accepts and then stalls must not hold the caller.
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set smtp deadline: %w", err)
	}

	client, err := smtp.NewClient(conn, c.cfg.SMTPServer)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to start smtp session: %w", err)
	}
	defer client.Close()

	if c.cfg.UseTLS {
		if err := client.StartTLS(&tls.Config{ServerName: c.cfg.SMTPServer}); err != nil {
			return fmt.Errorf("starttls failed: %w", err)
		}
	}
	if c.cfg.Username != "" {
		auth := smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.SMTPServer)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp authentication failed: %w", err)
		}
	}

	if err := client.Mail(c.cfg.From); err != nil {
		return fmt.Errorf("smtp MAIL FROM failed: %w", err)
	}
	for _, to := range c.cfg.To {
		if err := client.Rcpt(to); err != nil {
			return fmt.Errorf("smtp RCPT TO %s failed: %w", to, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA failed: %w", err)
	}
	if _, err := w.Write(buildEmail(c.cfg.From, c.cfg.To, msg.Subject, msg.Body)); err != nil {
		w.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish message: %w", err)
	}
	return client.Quit()
}

// buildEmail renders a plain text UTF-8 message with its headers
func buildEmail(from string, to []string, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}
