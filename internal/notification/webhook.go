package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// WebhookSettings contains webhook-specific configuration.
type WebhookSettings struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// WebhookNotifier posts events as JSON to a custom endpoint.
type WebhookNotifier struct {
	settings   WebhookSettings
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewWebhookNotifier creates a webhook sink.
func NewWebhookNotifier(settings WebhookSettings, httpClient *http.Client, logger zerolog.Logger) *WebhookNotifier {
	if settings.Method == "" {
		settings.Method = http.MethodPost
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebhookNotifier{
		settings:   settings,
		httpClient: httpClient,
		logger:     logger.With().Str("notifier", "webhook").Logger(),
	}
}

func (n *WebhookNotifier) Name() string {
	return "webhook"
}

func (n *WebhookNotifier) Test(ctx context.Context) error {
	return n.send(ctx, Event{Type: EventTest, Title: "Test notification from Offlinio", Timestamp: time.Now().UTC()})
}

func (n *WebhookNotifier) NotifyStarted(ctx context.Context, event Event) error {
	return n.send(ctx, event)
}

func (n *WebhookNotifier) NotifyProgress(ctx context.Context, event Event) error {
	return n.send(ctx, event)
}

func (n *WebhookNotifier) NotifyCompleted(ctx context.Context, event Event) error {
	return n.send(ctx, event)
}

func (n *WebhookNotifier) NotifyFailed(ctx context.Context, event Event) error {
	return n.send(ctx, event)
}

func (n *WebhookNotifier) send(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, n.settings.Method, n.settings.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range n.settings.Headers {
		req.Header.Set(k, v)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	n.logger.Debug().Str("eventType", string(event.Type)).Msg("webhook delivered")
	return nil
}
