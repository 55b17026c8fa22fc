package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-pulse/pkg/types"
)

// HTTPSender posts alerts as JSON. Slack channels get {"text": ...} posted
// to config["webhook_url"]; webhook channels get the full alert posted to
// config["url"].
type HTTPSender struct {
	client *http.Client
}

// NewHTTPSender uses client, or a default client when nil. The dispatcher's
// context carries the delivery timeout.
func NewHTTPSender(client *http.Client) *HTTPSender {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPSender{client: client}
}

func (s *HTTPSender) Send(ctx context.Context, ch types.NotificationChannel, alert types.Alert) error {
	var (
		payload interface{}
		url     string
	)
	switch ch.Type {
	case types.ChannelSlack:
		url = ch.Config["webhook_url"]
		payload = map[string]string{"text": SlackText(alert)}
	default:
		url = ch.Config["url"]
		payload = alert
	}
	if url == "" {
		return fmt.Errorf("channel %s has no target url", ch.ID)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Kubilitics-Pulse/1.0")
	if token := ch.Config["token"]; token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, ch.Type)
	}
	return nil
}

// SlackText renders the one-line Slack message for an alert.
func SlackText(a types.Alert) string {
	text := fmt.Sprintf("*[Pulse/%s]* `%s` on metric `%s`: value %.2f", a.Severity, a.RuleName, a.MetricID, a.Value)
	if a.Message != "" {
		text += "\n> " + a.Message
	}
	return text
}

// LogSender records the delivery in the log. It stands in for transports
// (email, pager, SMS) that are owned by other systems.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, ch types.NotificationChannel, alert types.Alert) error {
	s.logger.Info("Alert notification",
		zap.String("channel_id", ch.ID),
		zap.String("channel_type", string(ch.Type)),
		zap.String("target", ch.Config["to"]),
		zap.String("rule_id", alert.RuleID),
		zap.String("severity", string(alert.Severity)),
		zap.Float64("value", alert.Value),
		zap.String("message", alert.Message),
	)
	return nil
}
