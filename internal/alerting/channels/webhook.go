package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/stackwatch/sentinel/internal/alerting"
)

// WebhookNotifier delivers alert events as JSON to an arbitrary HTTP
// endpoint
type WebhookNotifier struct {
	url        string
	logger     *zap.Logger
	httpClient *http.Client
}

// NewWebhookNotifier creates a generic webhook notifier
func NewWebhookNotifier(url string, logger *zap.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		logger: logger,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name returns the notifier name
func (n *WebhookNotifier) Name() string {
	return "webhook"
}

// Notify posts the raw event to the configured endpoint
func (n *WebhookNotifier) Notify(ctx context.Context, event alerting.Event) error {
	if n.url == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}

	n.logger.Debug("Webhook notification sent",
		zap.String("rule", event.Alert.Rule),
		zap.String("type", string(event.Type)),
	)
	return nil
}
