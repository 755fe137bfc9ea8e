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

// SlackNotifier delivers alert events to a Slack incoming webhook
type SlackNotifier struct {
	webhookURL string
	logger     *zap.Logger
	httpClient *http.Client
}

// SlackMessage represents a Slack message payload
type SlackMessage struct {
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack message attachment
type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlackNotifier creates a Slack notifier posting to webhookURL
func NewSlackNotifier(webhookURL string, logger *zap.Logger) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		logger:     logger,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name returns the notifier name
func (n *SlackNotifier) Name() string {
	return "slack"
}

// Notify posts the event to the Slack webhook
func (n *SlackNotifier) Notify(ctx context.Context, event alerting.Event) error {
	if n.webhookURL == "" {
		return fmt.Errorf("slack webhook URL not configured")
	}

	payload, err := json.Marshal(n.buildMessage(event))
	if err != nil {
		return fmt.Errorf("failed to marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send slack message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack API returned status %d", resp.StatusCode)
	}

	n.logger.Debug("Slack notification sent",
		zap.String("rule", event.Alert.Rule),
		zap.String("type", string(event.Type)),
	)
	return nil
}

func (n *SlackNotifier) buildMessage(event alerting.Event) SlackMessage {
	alert := event.Alert

	title := fmt.Sprintf("Alert fired: %s", alert.Rule)
	color := severityColor(alert.Severity)
	if event.Type == alerting.EventResolved {
		title = fmt.Sprintf("Alert resolved: %s", alert.Rule)
		color = "good"
	}

	fields := []SlackField{
		{Title: "Severity", Value: string(alert.Severity), Short: true},
		{Title: "Value", Value: fmt.Sprintf("%.4g", alert.Value), Short: true},
		{Title: "Threshold", Value: fmt.Sprintf("%.4g", alert.Threshold), Short: true},
	}
	if alert.Target != "" {
		fields = append(fields, SlackField{Title: "Target", Value: alert.Target, Short: true})
	}

	return SlackMessage{
		Attachments: []SlackAttachment{{
			Color:     color,
			Title:     title,
			Text:      alert.Description,
			Fields:    fields,
			Footer:    "sentinel",
			Timestamp: alert.FiredAt.Unix(),
		}},
	}
}

func severityColor(severity alerting.Severity) string {
	switch severity {
	case alerting.SeverityCritical:
		return "danger"
	case alerting.SeverityWarning:
		return "warning"
	default:
		return "#439FE0"
	}
}
