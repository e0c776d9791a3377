package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voxbridge/voxbridge-backend/internal/logger"
	"github.com/voxbridge/voxbridge-backend/internal/utils"
)

// Client delivers notification mail. Sends are fire-and-forget from the
// caller's point of view: background tasks log and swallow delivery errors.
type Client interface {
	Send(ctx context.Context, msg Message) error
	Enabled() bool
}

type Message struct {
	ToEmail string
	Subject string
	Body    string
}

type Config struct {
	APIKey           string
	BaseURL          string
	DefaultFromEmail string
	DefaultFromName  string
	Timeout          time.Duration
	MaxRetries       int
}

func ConfigFromEnv(log *logger.Logger) Config {
	timeoutSec := utils.GetEnvAsInt("MAIL_TIMEOUT_SECONDS", 30, log)
	return Config{
		APIKey:           strings.TrimSpace(utils.GetEnv("SENDGRID_API_KEY", "", nil)),
		BaseURL:          strings.TrimSpace(utils.GetEnv("SENDGRID_BASE_URL", "https://api.sendgrid.com", nil)),
		DefaultFromEmail: strings.TrimSpace(utils.GetEnv("MAIL_FROM_EMAIL", "", nil)),
		DefaultFromName:  strings.TrimSpace(utils.GetEnv("MAIL_FROM_NAME", "voxbridge", nil)),
		Timeout:          time.Duration(timeoutSec) * time.Second,
		MaxRetries:       utils.GetEnvAsInt("MAIL_MAX_RETRIES", 3, log),
	}
}

// NewFromEnv builds the client; with no API key configured the mail
// subsystem is disabled and Send becomes a logged no-op.
func NewFromEnv(log *logger.Logger) Client {
	cfg := ConfigFromEnv(log)
	clientLog := log.With("service", "Mailer")
	if cfg.APIKey == "" || cfg.DefaultFromEmail == "" {
		clientLog.Info("Mail disabled; no API key or sender configured")
		return &noopClient{log: clientLog}
	}
	return &client{
		log: clientLog,
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type noopClient struct {
	log *logger.Logger
}

func (n *noopClient) Enabled() bool { return false }

func (n *noopClient) Send(_ context.Context, msg Message) error {
	n.log.Debug("Mail disabled; dropping message", "to", msg.ToEmail, "subject", msg.Subject)
	return nil
}

type client struct {
	log        *logger.Logger
	cfg        Config
	httpClient *http.Client
}

func (c *client) Enabled() bool { return true }

type sendgridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendgridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendgridPayload struct {
	Personalizations []struct {
		To []sendgridAddress `json:"to"`
	} `json:"personalizations"`
	From    sendgridAddress   `json:"from"`
	Subject string            `json:"subject"`
	Content []sendgridContent `json:"content"`
}

func (c *client) Send(ctx context.Context, msg Message) error {
	payload := sendgridPayload{
		From:    sendgridAddress{Email: c.cfg.DefaultFromEmail, Name: c.cfg.DefaultFromName},
		Subject: msg.Subject,
		Content: []sendgridContent{{Type: "text/plain", Value: msg.Body}},
	}
	payload.Personalizations = append(payload.Personalizations, struct {
		To []sendgridAddress `json:"to"`
	}{To: []sendgridAddress{{Email: msg.ToEmail}}})

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal mail payload: %w", err)
	}

	delay := 500 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		lastErr = c.post(ctx, body)
		if lastErr == nil {
			return nil
		}
		c.log.Warn("Mail send attempt failed", "attempt", attempt+1, "to", msg.ToEmail, "error", lastErr)
	}
	return lastErr
}

func (c *client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("sendgrid responded %d: %s", resp.StatusCode, string(raw))
	}
	return nil
}
