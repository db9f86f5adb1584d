package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"zonealert/internal/config"
)

const defaultHTTPTimeoutSec = 10

// WebhookSender posts the JSON payload to a rule-configured HTTP endpoint.
// Params: none; endpoint settings arrive per send.
// Returns: generic HTTP sender.
type WebhookSender struct {
	client *http.Client
}

// NewWebhookSender creates the generic HTTP sender.
// Params: none.
// Returns: initialized sender.
func NewWebhookSender() *WebhookSender {
	return &WebhookSender{client: &http.Client{}}
}

// Kind returns sender channel name.
// Params: none.
// Returns: static channel key.
func (s *WebhookSender) Kind() string {
	return config.ChannelWebhook
}

// Send delivers the JSON payload to the configured endpoint.
// Params: context, payload, and channel settings.
// Returns: transport or HTTP error; 4xx responses are permanent.
func (s *WebhookSender) Send(ctx context.Context, payload Payload, channel config.ChannelConfig) error {
	if channel.Webhook == nil {
		return MarkPermanent(errors.New("webhook settings are missing"))
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return MarkPermanent(fmt.Errorf("encode webhook payload: %w", err))
	}

	method := strings.ToUpper(strings.TrimSpace(channel.Webhook.Method))
	if method == "" {
		method = http.MethodPost
	}
	requestCtx, cancel := context.WithTimeout(ctx, httpTimeout(channel.Webhook.TimeoutSec))
	defer cancel()

	request, err := http.NewRequestWithContext(requestCtx, method, channel.Webhook.URL, bytes.NewReader(body))
	if err != nil {
		return MarkPermanent(fmt.Errorf("build webhook request: %w", err))
	}
	request.Header.Set("Content-Type", "application/json")
	for key, value := range channel.Webhook.Headers {
		request.Header.Set(key, value)
	}

	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("webhook send: %w", err)
	}
	defer response.Body.Close()
	return classifyHTTPStatus("webhook", response)
}

// httpTimeout converts a per-channel timeout with a default.
func httpTimeout(timeoutSec int) time.Duration {
	if timeoutSec <= 0 {
		timeoutSec = defaultHTTPTimeoutSec
	}
	return time.Duration(timeoutSec) * time.Second
}

// classifyHTTPStatus converts a response into nil, a retryable error, or a
// permanent error. Client errors other than 408/429 cannot be fixed by
// retrying the same request.
// Params: sender prefix label and HTTP response pointer.
// Returns: nil on 2xx, otherwise a classified error.
func classifyHTTPStatus(prefix string, response *http.Response) error {
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return nil
	}
	err := unexpectedHTTPStatusError(prefix, response)
	if response.StatusCode >= 400 && response.StatusCode < 500 &&
		response.StatusCode != http.StatusRequestTimeout &&
		response.StatusCode != http.StatusTooManyRequests {
		return MarkPermanent(err)
	}
	return err
}

// unexpectedHTTPStatusError formats a non-2xx response with optional body.
// Params: sender prefix label and HTTP response pointer.
// Returns: status-only or status+body error.
func unexpectedHTTPStatusError(prefix string, response *http.Response) error {
	rawBody, readErr := io.ReadAll(io.LimitReader(response.Body, 4096))
	if readErr != nil {
		return fmt.Errorf("%s status=%d (read body error: %w)", prefix, response.StatusCode, readErr)
	}
	trimmedBody := strings.TrimSpace(string(rawBody))
	if trimmedBody == "" {
		return fmt.Errorf("%s status=%d", prefix, response.StatusCode)
	}
	return fmt.Errorf("%s status=%d body=%s", prefix, response.StatusCode, trimmedBody)
}
