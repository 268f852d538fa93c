package email

import (
	"bytes"
	"io"
	"mime"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"testing"
	"time"

	"github.com/evcraddock/trackimmo/internal/config"
)

func TestCompose(t *testing.T) {
	cfg := SMTPConfig{Host: "smtp.example.com", Port: "465", From: "rapport@trackimmo.fr", SenderName: "TrackImmo"}
	now := time.Date(2024, 8, 1, 9, 0, 0, 0, time.UTC)
	html := "<p>Bonjour Marie, voici " + strings.Repeat("une très longue ligne ", 20) + "</p>"

	data, err := Compose(cfg, Message{
		To:      []string{"marie@example.com"},
		Subject: "Rapport Immo - Août 2024",
		HTML:    html,
	}, now)
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}

	msg, err := mail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}

	from, err := mail.ParseAddress(msg.Header.Get("From"))
	if err != nil {
		t.Fatalf("ParseAddress() error = %v", err)
	}
	if from.Name != "TrackImmo" || from.Address != "rapport@trackimmo.fr" {
		t.Errorf("From = %v", from)
	}
	if got := msg.Header.Get("To"); got != "marie@example.com" {
		t.Errorf("To = %q", got)
	}

	dec := new(mime.WordDecoder)
	subject, err := dec.DecodeHeader(msg.Header.Get("Subject"))
	if err != nil {
		t.Fatalf("DecodeHeader() error = %v", err)
	}
	if subject != "Rapport Immo - Août 2024" {
		t.Errorf("Subject = %q", subject)
	}

	if got := msg.Header.Get("Content-Type"); got != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q", got)
	}
	if !strings.HasSuffix(msg.Header.Get("Message-Id"), "@trackimmo.fr>") {
		t.Errorf("Message-ID = %q", msg.Header.Get("Message-Id"))
	}
	if date, err := msg.Header.Date(); err != nil || !date.Equal(now) {
		t.Errorf("Date = %v, %v", date, err)
	}

	body, err := io.ReadAll(quotedprintable.NewReader(msg.Body))
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if string(body) != html {
		t.Errorf("body = %q, want %q", body, html)
	}

	for _, line := range strings.Split(string(data), "\r\n") {
		if len(line) > 998 {
			t.Fatalf("line too long: %d", len(line))
		}
	}
}

func TestSendNotConfigured(t *testing.T) {
	err := NewMailer(SMTPConfig{}).Send(Message{To: []string{"a@b.fr"}})
	if err == nil {
		t.Fatal("Send() expected error")
	}
}

func TestSendNoRecipient(t *testing.T) {
	err := NewMailer(SMTPConfig{Host: "smtp.example.com", Port: "587", From: "a@b.fr"}).Send(Message{})
	if err == nil {
		t.Fatal("Send() expected error")
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.SMTP = config.SMTP{Host: "smtp.example.com", Port: "587", User: "u", Pass: "p", From: "a@b.fr"}

	got := FromConfig(cfg)
	want := SMTPConfig{Host: "smtp.example.com", Port: "587", User: "u", Pass: "p", From: "a@b.fr", SenderName: "TrackImmo"}
	if got != want {
		t.Errorf("FromConfig() = %+v, want %+v", got, want)
	}
}

func TestSMTPConfigIsConfigured(t *testing.T) {
	tests := []struct {
		name string
		cfg  SMTPConfig
		want bool
	}{
		{"fully configured", SMTPConfig{Host: "smtp.example.com", Port: "587", From: "test@example.com"}, true},
		{"missing host", SMTPConfig{From: "test@example.com"}, false},
		{"missing from", SMTPConfig{Host: "smtp.example.com"}, false},
		{"empty", SMTPConfig{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.IsConfigured(); got != tt.want {
				t.Errorf("IsConfigured() = %v, want %v", got, tt.want)
			}
		})
	}
}
