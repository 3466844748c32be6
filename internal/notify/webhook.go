package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookNotifier posts notifications to a JSON webhook (Slack-compatible)
type WebhookNotifier struct {
	webhookURL string
	client     *http.Client
}

// WebhookMessage represents the webhook payload
type WebhookMessage struct {
	Text        string              `json:"text"`
	Attachments []WebhookAttachment `json:"attachments,omitempty"`
}

// WebhookAttachment represents a color-coded message attachment
type WebhookAttachment struct {
	Color  string `json:"color"`
	Title  string `json:"title"`
	Text   string `json:"text"`
	Footer string `json:"footer,omitempty"`
}

// NewWebhookNotifier creates a new webhook notifier
func NewWebhookNotifier(webhookURL string) *WebhookNotifier {
	return &WebhookNotifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// WebhookColor returns the attachment color for a notification type
func WebhookColor(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "good"
	case NotifyWarning:
		return "warning"
	case NotifyError:
		return "danger"
	default:
		return "#439FE0"
	}
}

// Send posts the notification to the configured webhook
func (w *WebhookNotifier) Send(n Notification) error {
	if w.webhookURL == "" {
		return nil // Disabled
	}

	msg := WebhookMessage{
		Text: n.Title,
		Attachments: []WebhookAttachment{
			{
				Color:  WebhookColor(n.Type),
				Title:  n.Title,
				Text:   n.Message,
				Footer: n.RequestID,
			},
		},
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	resp, err := w.client.Post(w.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
