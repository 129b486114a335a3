package alert

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"errors"
	"io"
	"mime"
	"net"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"alerthub/internal/config"

	"github.com/google/uuid"
)

// EmailSender delivers one email message.
type EmailSender interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// WebhookPoster delivers one JSON webhook and returns the response status.
type WebhookPoster interface {
	Post(ctx context.Context, url string, payload any, headers map[string]string) (int, error)
}

// SMTPSender sends mail through an SMTP relay, optionally upgrading with
// STARTTLS.
type SMTPSender struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	UseTLS   bool
	Timeout  time.Duration
}

func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	return &SMTPSender{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
		UseTLS:   cfg.UseTLS,
		Timeout:  10 * time.Second,
	}
}

// ErrHeaderInjection is returned for an address carrying a line break.
var ErrHeaderInjection = errors.New("line break in mail address")

func (s *SMTPSender) Send(ctx context.Context, to []string, subject, body string) error {
	if hasLineBreak(s.From) {
		return fmt.Errorf("from %q: %w", s.From, ErrHeaderInjection)
	}
	for _, rcpt := range to {
		if hasLineBreak(rcpt) {
			return fmt.Errorf("rcpt %q: %w", rcpt, ErrHeaderInjection)
		}
	}

	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	msg := buildMessage(s.From, to, subject, body)

	dialer := &net.Dialer{Timeout: s.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else if s.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.Timeout))
	}

	client, err := smtp.NewClient(conn, s.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if s.UseTLS {
		if err := client.StartTLS(&tls.Config{ServerName: s.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if s.Username != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(smtp.PlainAuth("", s.Username, s.Password, s.Host)); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}

	if err := client.Mail(s.From); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func hasLineBreak(s string) bool {
	return strings.ContainsAny(s, "\r\n")
}

// headerValue folds line breaks into spaces so a rendered value cannot start
// a new header.
func headerValue(s string) string {
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool { return r == '\r' || r == '\n' }), " ")
}

func buildMessage(from string, to []string, subject, body string) []byte {
	rcpts := make([]string, len(to))
	for i, addr := range to {
		rcpts[i] = headerValue(addr)
	}
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\r", "\n")

	var sb strings.Builder
	sb.WriteString("From: " + headerValue(from) + "\r\n")
	sb.WriteString("To: " + strings.Join(rcpts, ", ") + "\r\n")
	sb.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", headerValue(subject)) + "\r\n")
	sb.WriteString("Date: " + time.Now().Format(time.RFC1123Z) + "\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(sb.String())
}

// HTTPPoster posts webhooks over a shared pooled client.
type HTTPPoster struct {
	client *http.Client
}

// NewHTTPPoster builds a poster whose requests give up after timeout.
func NewHTTPPoster(timeout time.Duration) *HTTPPoster {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &HTTPPoster{client: &http.Client{Timeout: timeout, Transport: transport}}
}

func (p *HTTPPoster) Post(ctx context.Context, url string, payload any, headers map[string]string) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "alerthub")
	req.Header.Set("X-Alerthub-Delivery", uuid.NewString())
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("webhook returned status: %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}
