package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"zonealert/internal/config"
)

// SlackSender posts a formatted message to a Slack incoming webhook.
// Params: none; the webhook URL arrives per send.
// Returns: Slack channel sender.
type SlackSender struct {
	client *http.Client
}

// NewSlackSender creates the Slack incoming-webhook sender.
// Params: none.
// Returns: initialized sender.
func NewSlackSender() *SlackSender {
	return &SlackSender{client: &http.Client{}}
}

// Kind returns sender channel name.
// Params: none.
// Returns: static channel key.
func (s *SlackSender) Kind() string {
	return config.ChannelSlack
}

// Send posts one message to the Slack webhook.
// Params: context, payload, and channel settings.
// Returns: transport or HTTP error; 4xx responses are permanent.
func (s *SlackSender) Send(ctx context.Context, payload Payload, channel config.ChannelConfig) error {
	if channel.Slack == nil {
		return MarkPermanent(errors.New("slack settings are missing"))
	}

	message := struct {
		Text string `json:"text"`
	}{
		Text: formatSlackText(payload),
	}
	body, err := json.Marshal(message)
	if err != nil {
		return MarkPermanent(fmt.Errorf("encode slack payload: %w", err))
	}

	requestCtx, cancel := context.WithTimeout(ctx, httpTimeout(channel.Slack.TimeoutSec))
	defer cancel()

	request, err := http.NewRequestWithContext(requestCtx, http.MethodPost, channel.Slack.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return MarkPermanent(fmt.Errorf("build slack request: %w", err))
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	defer response.Body.Close()
	return classifyHTTPStatus("slack", response)
}

// formatSlackText renders the payload as a compact mrkdwn block.
func formatSlackText(payload Payload) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "*[%s] %s*\n", strings.ToUpper(payload.Priority.String()), payload.Title)
	builder.WriteString(payload.Message)
	fmt.Fprintf(&builder, "\nwarehouse: %s", payload.WarehouseID)
	if payload.ZoneID != "" {
		fmt.Fprintf(&builder, " zone: %s", payload.ZoneID)
	}
	if payload.ShiftCode != "" {
		fmt.Fprintf(&builder, " shift: %s", payload.ShiftCode)
	}
	return builder.String()
}
