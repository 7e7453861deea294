package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"reducer/internal/types"
)

// DefaultSlackName is the username shown on run summaries.
const DefaultSlackName = "h2ox-reduction"

// slackPayload is the incoming-webhook message body.
type slackPayload struct {
	Text     string `json:"text"`
	Username string `json:"username,omitempty"`
}

// SlackNotifier posts run summaries to a Slack incoming webhook.
type SlackNotifier struct {
	base       *BaseClient
	webhookURL types.SecretString
	name       string
	logger     *slog.Logger
}

// NewSlackNotifier creates a SlackNotifier. An empty name uses DefaultSlackName.
func NewSlackNotifier(base *BaseClient, webhookURL types.SecretString, name string, logger *slog.Logger) *SlackNotifier {
	if name == "" {
		name = DefaultSlackName
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SlackNotifier{base: base, webhookURL: webhookURL, name: name, logger: logger}
}

// Notify posts text to the webhook. Any non-2xx response is an error.
func (s *SlackNotifier) Notify(ctx context.Context, text string) error {
	if !s.webhookURL.IsSet() {
		return types.NewAppError(types.ErrCodeConfigMissingField, "slack webhook url is not configured", nil)
	}
	body, err := json.Marshal(slackPayload{Text: text, Username: s.name})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode slack message", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL.Unmask(), bytes.NewReader(body))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build slack request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.base.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return types.NewAppErrorWithDetails(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("slack webhook returned %d", resp.StatusCode), nil,
			map[string]any{"body": string(snippet)})
	}

	s.logger.DebugContext(ctx, "slack notification sent", "username", s.name)
	return nil
}
