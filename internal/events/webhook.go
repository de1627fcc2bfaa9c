package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/DarknessoPirate/itemite-core/internal/retry"
	"github.com/DarknessoPirate/itemite-core/internal/security"
)

// WebhookNotifier delivers lifecycle events as JSON POSTs to a configured
// endpoint. The endpoint URL is validated against SSRF targets once, at
// construction.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier validates the endpoint URL and returns a notifier.
func NewWebhookNotifier(rawURL string) (*WebhookNotifier, error) {
	if err := security.ValidateEndpointURL(rawURL); err != nil {
		return nil, err
	}
	return &WebhookNotifier{
		url:    rawURL,
		client: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Notify POSTs the event to the webhook endpoint. A 4xx response is
// permanent: the payload will never be accepted, so retrying is pointless.
func (w *WebhookNotifier) Notify(ctx context.Context, eventType string, data map[string]interface{}) error {
	body, err := json.Marshal(map[string]interface{}{
		"type":      eventType,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data":      data,
	})
	if err != nil {
		return retry.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return retry.Permanent(fmt.Errorf("webhook rejected event: %s", resp.Status))
	default:
		return fmt.Errorf("webhook delivery failed: %s", resp.Status)
	}
}
