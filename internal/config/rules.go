package config

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"zonealert/internal/domain"
)

const (
	// OperatorGT is the greater-than condition operator.
	OperatorGT = ">"
	// OperatorGTE is the greater-or-equal condition operator.
	OperatorGTE = ">="
	// OperatorLT is the less-than condition operator.
	OperatorLT = "<"
	// OperatorLTE is the less-or-equal condition operator.
	OperatorLTE = "<="
	// OperatorEQ is the equality condition operator.
	OperatorEQ = "=="
	// OperatorNE is the inequality condition operator.
	OperatorNE = "!="

	// ChannelWebhook identifies the generic HTTP webhook transport.
	ChannelWebhook = "webhook"
	// ChannelSlack identifies the Slack incoming-webhook transport.
	ChannelSlack = "slack"
	// ChannelEmail identifies the SMTP email transport.
	ChannelEmail = "email"
	// ChannelUI identifies the in-app websocket push transport.
	ChannelUI = "ui"
	// ChannelTelegram identifies the Telegram Bot API transport.
	ChannelTelegram = "telegram"
)

var supportedOperators = map[string]struct{}{
	OperatorGT:  {},
	OperatorGTE: {},
	OperatorLT:  {},
	OperatorLTE: {},
	OperatorEQ:  {},
	OperatorNE:  {},
}

var supportedChannels = map[string]struct{}{
	ChannelWebhook:  {},
	ChannelSlack:    {},
	ChannelEmail:    {},
	ChannelUI:       {},
	ChannelTelegram: {},
}

// AlertRule describes one operator-facing alert policy.
// Params: identity, conditions, debounce/suppression settings, channels, scope.
// Returns: rule consumed by evaluator, debouncer, and suppression gate.
type AlertRule struct {
	ID              string            `toml:"id" json:"id"`
	Name            string            `toml:"name" json:"name"`
	Enabled         bool              `toml:"enabled" json:"enabled"`
	Priority        domain.Priority   `toml:"priority" json:"priority"`
	Title           string            `toml:"title" json:"title,omitempty"`
	Message         string            `toml:"message" json:"message,omitempty"`
	Conditions      []RuleCondition   `toml:"conditions" json:"conditions"`
	Hysteresis      *HysteresisConfig `toml:"hysteresis" json:"hysteresis,omitempty"`
	CooldownMinutes int               `toml:"cooldown_minutes" json:"cooldown_minutes,omitempty"`
	RateLimit       *RateLimitConfig  `toml:"rate_limit" json:"rate_limit,omitempty"`
	Channels        []ChannelConfig   `toml:"channels" json:"channels"`
	Scope           ScopeConfig       `toml:"scope" json:"scope,omitempty"`
}

// RuleCondition is one metric predicate inside a rule.
// Params: metric field key, comparison operator, threshold, and optional
// continuous-hold duration.
// Returns: predicate input for the condition evaluator.
type RuleCondition struct {
	Field           string  `toml:"field" json:"field"`
	Operator        string  `toml:"operator" json:"operator"`
	Threshold       float64 `toml:"threshold" json:"threshold"`
	DurationMinutes int     `toml:"duration_minutes" json:"duration_minutes,omitempty"`
}

// HysteresisConfig keeps dual-threshold debounce settings.
// Params: firing and clearing thresholds.
// Returns: hysteresis band for the debouncer.
type HysteresisConfig struct {
	OnThreshold  float64 `toml:"on_threshold" json:"on_threshold"`
	OffThreshold float64 `toml:"off_threshold" json:"off_threshold"`
}

// RateLimitConfig caps alert volume per sliding window.
// Params: max alerts, window width, and limiter key scope.
// Returns: suppression gate rate policy.
type RateLimitConfig struct {
	MaxAlerts      int  `toml:"max_alerts" json:"max_alerts"`
	WindowMinutes  int  `toml:"window_minutes" json:"window_minutes"`
	PerFingerprint bool `toml:"per_fingerprint" json:"per_fingerprint,omitempty"`
}

// ScopeConfig restricts a rule to facility subsets.
// Params: allow-lists per scope dimension; empty list means unrestricted.
// Returns: rule scope filter.
type ScopeConfig struct {
	WarehouseIDs []string `toml:"warehouse_ids" json:"warehouse_ids,omitempty"`
	ZoneIDs      []string `toml:"zone_ids" json:"zone_ids,omitempty"`
	ShiftCodes   []string `toml:"shift_codes" json:"shift_codes,omitempty"`
}

// ChannelConfig is one tagged delivery channel variant on a rule.
// Params: channel discriminant, enabled flag, retry budget, and the
// channel-specific config selected by the discriminant.
// Returns: delivery engine channel descriptor.
type ChannelConfig struct {
	Channel  string           `toml:"channel" json:"channel"`
	Enabled  bool             `toml:"enabled" json:"enabled"`
	Retries  int              `toml:"retries" json:"retries,omitempty"`
	Webhook  *WebhookChannel  `toml:"webhook" json:"webhook,omitempty"`
	Slack    *SlackChannel    `toml:"slack" json:"slack,omitempty"`
	Email    *EmailChannel    `toml:"email" json:"email,omitempty"`
	UI       *UIChannel       `toml:"ui" json:"ui,omitempty"`
	Telegram *TelegramChannel `toml:"telegram" json:"telegram,omitempty"`
}

// WebhookChannel keeps generic HTTP webhook transport settings.
// Params: endpoint URL, method, headers, and timeout.
// Returns: webhook sender configuration.
type WebhookChannel struct {
	URL        string            `toml:"url" json:"url"`
	Method     string            `toml:"method" json:"method,omitempty"`
	Headers    map[string]string `toml:"headers" json:"headers,omitempty"`
	TimeoutSec int               `toml:"timeout_sec" json:"timeout_sec,omitempty"`
}

// SlackChannel keeps Slack incoming-webhook settings.
// Params: webhook URL and timeout.
// Returns: Slack sender configuration.
type SlackChannel struct {
	WebhookURL string `toml:"webhook_url" json:"webhook_url"`
	TimeoutSec int    `toml:"timeout_sec" json:"timeout_sec,omitempty"`
}

// EmailChannel keeps SMTP transport settings as a shoutrrr URL plus recipients.
// Params: smtp:// service URL and destination addresses.
// Returns: email sender configuration.
type EmailChannel struct {
	SMTPURL string `toml:"smtp_url" json:"smtp_url"`
}

// UIChannel keeps in-app push settings.
// Params: optional topic label shown to websocket clients.
// Returns: ui sender configuration.
type UIChannel struct {
	Topic string `toml:"topic" json:"topic,omitempty"`
}

// TelegramChannel keeps Telegram Bot API settings.
// Params: bot token, chat id, and optional API base override.
// Returns: telegram sender configuration.
type TelegramChannel struct {
	BotToken string `toml:"bot_token" json:"bot_token"`
	ChatID   string `toml:"chat_id" json:"chat_id"`
	APIBase  string `toml:"api_base" json:"api_base,omitempty"`
}

// applyDefaults fills absent optional rule settings in place.
func (r *AlertRule) applyDefaults() {
	if r.Title == "" {
		r.Title = r.Name
	}
	for index := range r.Channels {
		channel := &r.Channels[index]
		if channel.Channel == ChannelWebhook && channel.Webhook != nil && channel.Webhook.Method == "" {
			channel.Webhook.Method = "POST"
		}
	}
}

// InScope reports whether a snapshot falls inside the rule's scope.
// Params: snapshot scope fields.
// Returns: true when every non-empty allow-list contains its value.
func (r AlertRule) InScope(snapshot domain.MetricSnapshot) bool {
	if !scopeAllows(r.Scope.WarehouseIDs, snapshot.WarehouseID) {
		return false
	}
	if !scopeAllows(r.Scope.ZoneIDs, snapshot.ZoneID) {
		return false
	}
	return scopeAllows(r.Scope.ShiftCodes, snapshot.ShiftCode)
}

func scopeAllows(allowed []string, value string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, candidate := range allowed {
		if candidate == value {
			return true
		}
	}
	return false
}

// GreaterFamily reports whether an operator triggers on rising values.
// Params: condition operator token.
// Returns: true for > and >=.
func GreaterFamily(operator string) bool {
	return operator == OperatorGT || operator == OperatorGTE
}

// LesserFamily reports whether an operator triggers on falling values.
// Params: condition operator token.
// Returns: true for < and <=.
func LesserFamily(operator string) bool {
	return operator == OperatorLT || operator == OperatorLTE
}

// ValidateRule checks one rule against configuration invariants.
// Params: candidate rule.
// Returns: first validation error; valid rules never reach evaluation broken.
func ValidateRule(rule AlertRule) error {
	if strings.TrimSpace(rule.ID) == "" {
		return errors.New("rule id is required")
	}
	if strings.TrimSpace(rule.Name) == "" {
		return errors.New("rule name is required")
	}
	if len(rule.Conditions) == 0 {
		return errors.New("rule requires at least one condition")
	}
	for index, condition := range rule.Conditions {
		if strings.TrimSpace(condition.Field) == "" {
			return fmt.Errorf("condition %d: field is required", index)
		}
		if _, ok := supportedOperators[condition.Operator]; !ok {
			return fmt.Errorf("condition %d: operator %q is not supported", index, condition.Operator)
		}
		if math.IsNaN(condition.Threshold) || math.IsInf(condition.Threshold, 0) {
			return fmt.Errorf("condition %d: threshold is not finite", index)
		}
		if condition.DurationMinutes < 0 {
			return fmt.Errorf("condition %d: duration_minutes must not be negative", index)
		}
	}

	if rule.Hysteresis != nil {
		if err := validateHysteresis(*rule.Hysteresis, rule.Conditions[0].Operator); err != nil {
			return err
		}
	}

	if rule.CooldownMinutes < 0 {
		return errors.New("cooldown_minutes must not be negative")
	}
	if rule.RateLimit != nil {
		if rule.RateLimit.MaxAlerts <= 0 {
			return errors.New("rate_limit.max_alerts must be positive")
		}
		if rule.RateLimit.WindowMinutes <= 0 {
			return errors.New("rate_limit.window_minutes must be positive")
		}
	}

	if len(rule.Channels) == 0 {
		return errors.New("rule requires at least one channel")
	}
	for index, channel := range rule.Channels {
		if err := validateChannel(channel); err != nil {
			return fmt.Errorf("channel %d: %w", index, err)
		}
	}
	return nil
}

// validateHysteresis checks threshold ordering against the trigger direction.
// Params: hysteresis band and first condition operator.
// Returns: validation error when the band is degenerate or inverted.
func validateHysteresis(hysteresis HysteresisConfig, operator string) error {
	if math.IsNaN(hysteresis.OnThreshold) || math.IsInf(hysteresis.OnThreshold, 0) {
		return errors.New("hysteresis.on_threshold is not finite")
	}
	if math.IsNaN(hysteresis.OffThreshold) || math.IsInf(hysteresis.OffThreshold, 0) {
		return errors.New("hysteresis.off_threshold is not finite")
	}
	switch {
	case GreaterFamily(operator):
		if hysteresis.OffThreshold >= hysteresis.OnThreshold {
			return errors.New("hysteresis.off_threshold must be below on_threshold for a greater-than trigger")
		}
	case LesserFamily(operator):
		if hysteresis.OffThreshold <= hysteresis.OnThreshold {
			return errors.New("hysteresis.off_threshold must be above on_threshold for a less-than trigger")
		}
	default:
		return fmt.Errorf("hysteresis is not supported with operator %q", operator)
	}
	return nil
}

// validateChannel checks one tagged channel variant.
// Params: channel config.
// Returns: validation error on unknown kind or missing variant fields.
func validateChannel(channel ChannelConfig) error {
	if _, ok := supportedChannels[channel.Channel]; !ok {
		return fmt.Errorf("channel kind %q is not supported", channel.Channel)
	}
	if channel.Retries < 0 {
		return errors.New("retries must not be negative")
	}
	switch channel.Channel {
	case ChannelWebhook:
		if channel.Webhook == nil || strings.TrimSpace(channel.Webhook.URL) == "" {
			return errors.New("webhook.url is required")
		}
	case ChannelSlack:
		if channel.Slack == nil || strings.TrimSpace(channel.Slack.WebhookURL) == "" {
			return errors.New("slack.webhook_url is required")
		}
	case ChannelEmail:
		if channel.Email == nil || strings.TrimSpace(channel.Email.SMTPURL) == "" {
			return errors.New("email.smtp_url is required")
		}
	case ChannelTelegram:
		if channel.Telegram == nil {
			return errors.New("telegram settings are required")
		}
		if strings.TrimSpace(channel.Telegram.BotToken) == "" {
			return errors.New("telegram.bot_token is required")
		}
		if strings.TrimSpace(channel.Telegram.ChatID) == "" {
			return errors.New("telegram.chat_id is required")
		}
	case ChannelUI:
		// No required fields; the hub is process-wide.
	}
	return nil
}

// EnabledChannels filters the rule's channel list to enabled entries.
// Params: none.
// Returns: channels eligible for delivery fan-out.
func (r AlertRule) EnabledChannels() []ChannelConfig {
	out := make([]ChannelConfig, 0, len(r.Channels))
	for _, channel := range r.Channels {
		if channel.Enabled {
			out = append(out, channel)
		}
	}
	return out
}
