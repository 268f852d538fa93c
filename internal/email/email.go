// Package email sends HTML reports over SMTP.
package email

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net/mail"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/evcraddock/trackimmo/internal/config"
)

// SMTPConfig holds SMTP connection settings.
type SMTPConfig struct {
	Host       string
	Port       string
	User       string
	Pass       string
	From       string
	SenderName string
}

// FromConfig builds an SMTPConfig from the application configuration.
func FromConfig(cfg config.Config) SMTPConfig {
	return SMTPConfig{
		Host:       cfg.SMTP.Host,
		Port:       cfg.SMTP.Port,
		User:       cfg.SMTP.User,
		Pass:       cfg.SMTP.Pass,
		From:       cfg.SMTP.From,
		SenderName: cfg.Report.SenderName,
	}
}

// IsConfigured returns true if SMTP settings are present.
func (c SMTPConfig) IsConfigured() bool {
	return c.Host != "" && c.From != ""
}

// Message is an HTML email.
type Message struct {
	To      []string
	Subject string
	HTML    string
}

// Sender delivers messages.
type Sender interface {
	Send(msg Message) error
}

// Mailer sends messages with SMTPConfig.
type Mailer struct {
	cfg SMTPConfig
	now func() time.Time
}

// NewMailer creates a Mailer.
func NewMailer(cfg SMTPConfig) *Mailer {
	return &Mailer{cfg: cfg, now: time.Now}
}

// Send sends msg via SMTP.
// Supports both port 465 (implicit TLS) and port 587 (STARTTLS).
func (m *Mailer) Send(msg Message) error {
	if !m.cfg.IsConfigured() {
		return fmt.Errorf("SMTP not configured")
	}
	if len(msg.To) == 0 {
		return fmt.Errorf("no recipient")
	}

	data, err := Compose(m.cfg, msg, m.now())
	if err != nil {
		return err
	}

	addr := m.cfg.Host + ":" + m.cfg.Port

	if m.cfg.Port == "465" {
		return sendImplicitTLS(m.cfg, addr, msg.To, data)
	}
	return sendSTARTTLS(m.cfg, addr, msg.To, data)
}

// Compose renders msg as an RFC 5322 message with a quoted-printable HTML
// body.
func Compose(cfg SMTPConfig, msg Message, now time.Time) ([]byte, error) {
	from := mail.Address{Name: cfg.SenderName, Address: cfg.From}

	domain := "localhost"
	if i := strings.LastIndex(cfg.From, "@"); i >= 0 {
		domain = cfg.From[i+1:]
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from.String())
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", now.Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "Message-ID: <%s@%s>\r\n", xid.New().String(), domain)
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")

	w := quotedprintable.NewWriter(&buf)
	if _, err := w.Write([]byte(msg.HTML)); err != nil {
		return nil, fmt.Errorf("encoding body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("encoding body: %w", err)
	}
	return buf.Bytes(), nil
}

// sendImplicitTLS connects over TLS directly (port 465/SMTPS).
func sendImplicitTLS(cfg SMTPConfig, addr string, to []string, msg []byte) (err error) {
	tlsCfg := &tls.Config{ServerName: cfg.Host}
	conn, err := tls.Dial("tcp", addr, tlsCfg)
	if err != nil {
		return fmt.Errorf("TLS dial: %w", err)
	}

	c, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer func() {
		if quitErr := c.Quit(); quitErr != nil && err == nil {
			err = fmt.Errorf("quit: %w", quitErr)
		}
	}()

	if cfg.User != "" {
		auth := smtp.PlainAuth("", cfg.User, cfg.Pass, cfg.Host)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := c.Mail(cfg.From); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt to %s: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}

	return nil
}

// sendSTARTTLS connects plain then upgrades to TLS (port 587).
func sendSTARTTLS(cfg SMTPConfig, addr string, to []string, msg []byte) error {
	var auth smtp.Auth
	if cfg.User != "" {
		auth = smtp.PlainAuth("", cfg.User, cfg.Pass, cfg.Host)
	}

	if err := smtp.SendMail(addr, auth, cfg.From, to, msg); err != nil {
		return fmt.Errorf("sending email: %w", err)
	}

	return nil
}
