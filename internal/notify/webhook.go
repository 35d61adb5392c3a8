package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const maxErrorBodyBytes = 8 * 1024

// Payload is the terminal-event body shared by webhook POSTs and SSE data
// events.
type Payload struct {
	RequestID    string  `json:"request_id"`
	Status       string  `json:"status"`
	Message      string  `json:"message"`
	Response     *string `json:"response"`
	Error        *string `json:"error"`
	ResponseType string  `json:"response_type"`
	ThinkingTime string  `json:"thinking_time"`
}

// WebhookSender performs a single best-effort POST per terminal transition.
// No retries, no backoff; the request row stays the source of truth.
type WebhookSender struct {
	client *http.Client
	log    zerolog.Logger
}

func NewWebhookSender(timeout time.Duration, logger zerolog.Logger) *WebhookSender {
	return &WebhookSender{
		client: &http.Client{Timeout: timeout},
		log:    logger.With().Str("component", "webhook").Logger(),
	}
}

func (w *WebhookSender) Send(ctx context.Context, targetURL string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}
