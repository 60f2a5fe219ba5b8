package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wolfeidau/togglemark/telemetry"
)

// WebhookEvent is the JSON body posted by Webhook.
type WebhookEvent struct {
	Type         string        `json:"type"`
	Notification *Notification `json:"notification,omitempty"`
	URL          string        `json:"url,omitempty"`
	SentAt       time.Time     `json:"sentAt"`
}

// Webhook posts notifications and open requests to an HTTP endpoint, for
// example a phone push relay.
type Webhook struct {
	url    string
	token  string
	client *http.Client
	now    func() time.Time
}

// NewWebhook creates a webhook sink. token, if set, is sent as a bearer token.
func NewWebhook(url, token string) *Webhook {
	return &Webhook{
		url:   url,
		token: token,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: telemetry.NewInstrumentedTransport(nil),
		},
		now: time.Now,
	}
}

func (w *Webhook) Notify(ctx context.Context, n Notification) error {
	return w.post(ctx, WebhookEvent{Type: "notification", Notification: &n, SentAt: w.now().UTC()})
}

func (w *Webhook) Open(ctx context.Context, url string) error {
	return w.post(ctx, WebhookEvent{Type: "open", URL: url, SentAt: w.now().UTC()})
}

func (w *Webhook) post(ctx context.Context, ev WebhookEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding webhook event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
