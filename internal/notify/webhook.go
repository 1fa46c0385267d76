package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/alert"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/config"
)

const maxWebhookErrorBody = 512

// WebhookPayload is the JSON document posted for each alert
type WebhookPayload struct {
	Subject   string       `json:"subject"`
	Body      string       `json:"body"`
	Alert     alert.Record `json:"alert"`
	Timestamp string       `json:"timestamp"`
}

// WebhookChannel sends alerts to an HTTP endpoint. POST carries a JSON
// body; GET carries the same fields as query parameters.
type WebhookChannel struct {
	url        string
	method     string
	headers    map[string]string
	httpClient *http.Client
	now        func() time.Time
}

// NewWebhookChannel creates a webhook channel
func NewWebhookChannel(cfg config.WebhookChannel) *WebhookChannel {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	method := strings.ToUpper(cfg.Method)
	if method != http.MethodGet {
		method = http.MethodPost
	}
	return &WebhookChannel{
		url:        cfg.URL,
		method:     method,
		headers:    cfg.Headers,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

// Name returns the channel name
func (c *WebhookChannel) Name() string {
	return "webhook"
}

// Send delivers the alert; any non-2xx reply is an error
func (c *WebhookChannel) Send(ctx context.Context, msg Message) error {
	if c.url == "" {
		return fmt.Errorf("webhook url is not configured")
	}

	payload := WebhookPayload{
		Subject:   msg.Subject,
		Body:      msg.Body,
		Alert:     msg.Record,
		Timestamp: c.now().Format(time.RFC3339),
	}

	req, err := c.newRequest(ctx, payload)
	if err != nil {
		return err
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxWebhookErrorBody))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (c *WebhookChannel) newRequest(ctx context.Context, payload WebhookPayload) (*http.Request, error) {
	alertJSON, err := json.Marshal(payload.Alert)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal alert: %w", err)
	}

	if c.method == http.MethodGet {
		u, err := url.Parse(c.url)
		if err != nil {
			return nil, fmt.Errorf("invalid webhook url: %w", err)
		}
		q := u.Query()
		q.Set("subject", payload.Subject)
		q.Set("body", payload.Body)
		q.Set("alert", string(alertJSON))
		q.Set("timestamp", payload.Timestamp)
		u.RawQuery = q.Encode()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		return req, nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}
