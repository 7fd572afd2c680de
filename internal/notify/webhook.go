package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Notifier delivers rendered messages to an external sink. Dispatch failures
// are the caller's to log; they must never roll back persisted state.
type Notifier interface {
	Dispatch(ctx context.Context, text, topic string) error
}

// WebhookNotifier posts messages as JSON to a configured endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

type webhookPayload struct {
	Topic     string `json:"topic"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

func (w *WebhookNotifier) Dispatch(ctx context.Context, text, topic string) error {
	if w.url == "" {
		return fmt.Errorf("webhook url not configured")
	}

	body, err := json.Marshal(webhookPayload{
		Topic:     topic,
		Text:      text,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
