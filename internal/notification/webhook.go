package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

const serviceName = "orderflow-relay"

// WebhookNotifier POSTs relay alerts as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
	now    func() time.Time
}

// webhookPayload is the JSON body of one alert.
type webhookPayload struct {
	Service  string `json:"service"`
	Level    string `json:"level"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	Symbol   string `json:"symbol,omitempty"`
	Token    string `json:"token,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
	TS       string `json:"ts"`
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

func (w *WebhookNotifier) payload(alert Alert) webhookPayload {
	at := alert.At
	if at.IsZero() {
		at = w.now()
	}
	return webhookPayload{
		Service:  serviceName,
		Level:    string(alert.Level),
		Title:    alert.Title,
		Message:  alert.Message,
		Symbol:   alert.Symbol,
		Token:    alert.Token,
		Attempts: alert.Attempts,
		TS:       at.UTC().Format(time.RFC3339Nano),
	}
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(w.payload(alert))
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: %s: unexpected status %d", alert.Title, resp.StatusCode)
	}

	log.Printf("[webhook] %s alert for %s delivered", alert.Level, orDash(alert.Symbol))
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
