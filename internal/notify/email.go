package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/yuin/goldmark"

	"github.com/nugget/luminary/internal/config"
)

const smtpDialTimeout = 30 * time.Second

// Email sends notifications as multipart mail with a plain-text part
// and a markdown-rendered HTML part.
type Email struct {
	cfg config.EmailConfig

	// deliver hands the composed message to the server.
	deliver func(ctx context.Context, cfg config.EmailConfig, msg []byte) error
}

// NewEmail creates an email channel that delivers over SMTP.
func NewEmail(cfg config.EmailConfig) *Email {
	return &Email{cfg: cfg, deliver: sendSMTP}
}

func (e *Email) Name() string { return "email" }

func (e *Email) Send(ctx context.Context, message string) error {
	msg, err := composeMessage(e.cfg.From, e.cfg.To, subjectFor(message), message, time.Now())
	if err != nil {
		return err
	}
	return e.deliver(ctx, e.cfg, msg)
}

// subjectFor uses the first line of the message, capped at 78 runes.
func subjectFor(message string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(message), "\n")
	line = strings.TrimLeft(line, "# ")
	if r := []rune(line); len(r) > 78 {
		line = string(r[:77]) + "…"
	}
	if line == "" {
		line = "Luminary notification"
	}
	return line
}

// composeMessage builds an RFC 5322 message whose body is the markdown
// source as text/plain alongside its HTML rendering.
func composeMessage(from string, to []string, subject, body string, date time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(date)
	h.SetSubject(subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message-id: %w", err)
	}

	fromAddr, err := mail.ParseAddress(from)
	if err != nil {
		return nil, fmt.Errorf("parse from address %q: %w", from, err)
	}
	h.SetAddressList("From", []*mail.Address{fromAddr})

	toAddrs := make([]*mail.Address, 0, len(to))
	for _, a := range to {
		parsed, err := mail.ParseAddress(a)
		if err != nil {
			return nil, fmt.Errorf("parse to address %q: %w", a, err)
		}
		toAddrs = append(toAddrs, parsed)
	}
	h.SetAddressList("To", toAddrs)

	var html bytes.Buffer
	html.WriteString(`<!DOCTYPE html><html><head><meta charset="utf-8"></head><body style="font-family: sans-serif;">` + "\n")
	if err := goldmark.Convert([]byte(body), &html); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}
	html.WriteString("</body></html>\n")

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create mail writer: %w", err)
	}
	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("create inline writer: %w", err)
	}
	parts := []struct{ contentType, content string }{
		{"text/plain; charset=utf-8", body},
		{"text/html; charset=utf-8", html.String()},
	}
	for _, p := range parts {
		var ph mail.InlineHeader
		ph.Set("Content-Type", p.contentType)
		pw, err := tw.CreatePart(ph)
		if err != nil {
			return nil, fmt.Errorf("create %s part: %w", p.contentType, err)
		}
		if _, err := io.WriteString(pw, p.content); err != nil {
			return nil, err
		}
		if err := pw.Close(); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// sendSMTP delivers msg over one ephemeral connection. Port 465 uses
// implicit TLS; any other port upgrades with STARTTLS when offered.
func sendSMTP(ctx context.Context, cfg config.EmailConfig, msg []byte) error {
	addr := net.JoinHostPort(cfg.SMTPHost, strconv.Itoa(cfg.SMTPPort))
	timeout := smtpDialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	dialer := &net.Dialer{Timeout: timeout}
	tlsCfg := &tls.Config{ServerName: cfg.SMTPHost, MinVersion: tls.VersionTLS12}

	var conn net.Conn
	var err error
	if cfg.SMTPPort == 465 {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, tlsCfg)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("dial SMTP %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, cfg.SMTPHost)
	if err != nil {
		conn.Close()
		return fmt.Errorf("create SMTP client on %s: %w", addr, err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok && cfg.SMTPPort != 465 {
		if err := client.StartTLS(tlsCfg); err != nil {
			return fmt.Errorf("STARTTLS: %w", err)
		}
	}
	if cfg.Username != "" && cfg.Password != "" {
		if err := client.Auth(smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.SMTPHost)); err != nil {
			return fmt.Errorf("AUTH: %w", err)
		}
	}

	fromAddr, err := mail.ParseAddress(cfg.From)
	if err != nil {
		return err
	}
	if err := client.Mail(fromAddr.Address); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, rcpt := range cfg.To {
		a, err := mail.ParseAddress(rcpt)
		if err != nil {
			return err
		}
		if err := client.Rcpt(a.Address); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", a.Address, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close DATA: %w", err)
	}
	return client.Quit()
}
