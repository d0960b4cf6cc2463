package subscriptions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const webhookAttempts = 3

// Notifier delivers notifications to webhooks
type Notifier struct {
	httpClient *http.Client
	backoff    time.Duration
	logger     *zap.Logger
}

// NewNotifier creates a new notifier
func NewNotifier(logger *zap.Logger) *Notifier {
	return &Notifier{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		backoff: time.Second,
		logger:  logger,
	}
}

// SendWebhook POSTs a notification, retrying with quadratic backoff
func (n *Notifier) SendWebhook(ctx context.Context, url string, notification Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < webhookAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt*attempt) * n.backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("building webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Topicgraph-Event", notification.Event.Type)
		req.Header.Set("X-Topicgraph-Subscription", notification.SubscriptionID)

		resp, err := n.httpClient.Do(req)
		if err != nil {
			lastErr = err
			n.logger.Debug("webhook delivery attempt failed",
				zap.Int("attempt", attempt+1), zap.String("url", url), zap.Error(err))
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = &WebhookError{URL: url, StatusCode: resp.StatusCode}
		n.logger.Debug("webhook delivery attempt rejected",
			zap.Int("attempt", attempt+1), zap.String("url", url), zap.Int("status", resp.StatusCode))
	}

	n.logger.Warn("webhook delivery failed",
		zap.String("url", url), zap.Int("attempts", webhookAttempts), zap.Error(lastErr))
	return lastErr
}

// WebhookError represents a webhook delivery failure
type WebhookError struct {
	URL        string
	StatusCode int
}

func (e *WebhookError) Error() string {
	return fmt.Sprintf("webhook %s answered %d", e.URL, e.StatusCode)
}
