package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"time"

	"disparador/internal/entities"
)

// HTTPWebhookSender posts JSON payloads to an external delivery webhook.
type HTTPWebhookSender struct {
	client *http.Client
}

func NewHTTPWebhookSender() *HTTPWebhookSender {
	return &HTTPWebhookSender{client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *HTTPWebhookSender) Post(ctx context.Context, url, token string, payload any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// SMTPEmailSender delivers plain-text mail over the operator's SMTP relay.
type SMTPEmailSender struct{}

func NewSMTPEmailSender() *SMTPEmailSender {
	return &SMTPEmailSender{}
}

func (s *SMTPEmailSender) Send(_ context.Context, settings entities.SMTPSettings, to, subject, body string) error {
	if settings.Host == "" {
		return fmt.Errorf("smtp host not configured")
	}
	port := settings.Port
	if port == 0 {
		port = 587
	}
	from := settings.From
	if from == "" {
		from = settings.User
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n%s\r\n",
		from, to, subject, body)

	addr := fmt.Sprintf("%s:%d", settings.Host, port)
	var auth smtp.Auth
	if settings.User != "" {
		auth = smtp.PlainAuth("", settings.User, settings.Pass, settings.Host)
	}
	if err := smtp.SendMail(addr, auth, from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// HTTPSMSSender delivers text messages through an HTTP SMS gateway
// authenticated with an auth-key header.
type HTTPSMSSender struct {
	client *http.Client
}

func NewHTTPSMSSender() *HTTPSMSSender {
	return &HTTPSMSSender{client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *HTTPSMSSender) Send(ctx context.Context, settings entities.SMSSettings, to, content string) error {
	if settings.URL == "" {
		return fmt.Errorf("sms gateway url not configured")
	}
	if settings.AuthKey == "" {
		return fmt.Errorf("sms auth key not configured")
	}

	payload := map[string]any{
		"Sender":    settings.Sender,
		"Receivers": to,
		"Content":   content,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal sms payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, settings.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("auth-key", settings.AuthKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post sms: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("sms gateway returned status %d", resp.StatusCode)
	}
	return nil
}
