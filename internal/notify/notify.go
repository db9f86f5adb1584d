package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zonealert/internal/clock"
	"zonealert/internal/config"
	"zonealert/internal/domain"
)

// Payload is the outbound representation of one alert delivery.
// Params: alert snapshot and delivery event label.
// Returns: model rendered by channel senders.
type Payload struct {
	Event       string            `json:"event"`
	AlertID     string            `json:"alert_id"`
	RuleID      string            `json:"rule_id"`
	RuleName    string            `json:"rule_name"`
	Priority    domain.Priority   `json:"priority"`
	State       domain.AlertState `json:"state"`
	WarehouseID string            `json:"warehouse_id"`
	ZoneID      string            `json:"zone_id,omitempty"`
	ShiftCode   string            `json:"shift_code,omitempty"`
	Title       string            `json:"title"`
	Message     string            `json:"message"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	TriggeredAt time.Time         `json:"triggered_at"`
}

// BuildPayload flattens an alert into the wire payload.
// Params: alert and event label ("created" or "redelivered").
// Returns: payload for channel senders.
func BuildPayload(alert domain.Alert, event string) Payload {
	return Payload{
		Event:       event,
		AlertID:     alert.ID,
		RuleID:      alert.RuleID,
		RuleName:    alert.RuleName,
		Priority:    alert.Priority,
		State:       alert.State,
		WarehouseID: alert.WarehouseID,
		ZoneID:      alert.ZoneID,
		ShiftCode:   alert.ShiftCode,
		Title:       alert.Title,
		Message:     alert.Message,
		Metadata:    alert.Metadata,
		TriggeredAt: alert.TriggeredAt,
	}
}

// ChannelSender sends one outbound notification over one transport kind.
// Params: context, payload, and the rule's channel settings.
// Returns: transport error when send fails.
type ChannelSender interface {
	Kind() string
	Send(ctx context.Context, payload Payload, channel config.ChannelConfig) error
}

// Dispatcher delivers payloads to channel transports with retry/backoff.
// Transports are shared across rules; per-rule settings travel inside the
// ChannelConfig on each send.
// Params: sender set and backoff policy.
// Returns: delivery primitive for the worker pool.
type Dispatcher struct {
	senders map[string]ChannelSender
	backoff backoffPolicy
	clock   clock.Clock
	logger  *slog.Logger
}

type backoffPolicy struct {
	initial time.Duration
	max     time.Duration
}

// NewDispatcher builds the dispatcher from delivery config and a ui broadcaster.
// Params: delivery config, ui hub (nil disables the ui channel), clock, logger.
// Returns: configured dispatcher.
func NewDispatcher(cfg config.DeliveryConfig, hub Broadcaster, clk clock.Clock, logger *slog.Logger) *Dispatcher {
	senders := map[string]ChannelSender{
		config.ChannelWebhook:  NewWebhookSender(),
		config.ChannelSlack:    NewSlackSender(),
		config.ChannelEmail:    NewEmailSender(),
		config.ChannelTelegram: NewTelegramSender(),
	}
	if hub != nil {
		senders[config.ChannelUI] = NewUISender(hub)
	}
	return &Dispatcher{
		senders: senders,
		backoff: backoffPolicy{
			initial: time.Duration(cfg.BackoffInitialMS) * time.Millisecond,
			max:     time.Duration(cfg.BackoffMaxMS) * time.Millisecond,
		},
		clock:  clk,
		logger: logger,
	}
}

// Deliver sends one payload to one channel, retrying transient failures.
// Every attempt is recorded; a permanent failure or exhausted retry budget
// ends the sequence with the final error.
// Params: context, payload, and channel settings.
// Returns: one record per attempt and the final error, nil on success.
func (d *Dispatcher) Deliver(ctx context.Context, payload Payload, channel config.ChannelConfig) ([]domain.NotificationRecord, error) {
	sender, ok := d.senders[channel.Channel]
	if !ok {
		err := fmt.Errorf("channel kind %q has no transport", channel.Channel)
		return []domain.NotificationRecord{d.record(channel.Channel, err)}, err
	}

	maxAttempts := channel.Retries + 1
	backoff := d.backoff.initial
	records := make([]domain.NotificationRecord, 0, maxAttempts)

	for attempt := 1; ; attempt++ {
		err := sender.Send(ctx, payload, channel)
		records = append(records, d.record(channel.Channel, err))
		if err == nil {
			if attempt > 1 {
				d.logger.Info("delivery recovered after retries",
					"channel", channel.Channel, "alert_id", payload.AlertID, "attempt", attempt)
			}
			return records, nil
		}
		d.logger.Warn("delivery attempt failed",
			"channel", channel.Channel, "alert_id", payload.AlertID, "attempt", attempt, "error", err.Error())

		if IsPermanent(err) || attempt >= maxAttempts {
			return records, fmt.Errorf("channel %s failed after %d attempt(s): %w", channel.Channel, attempt, err)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return records, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
		if backoff > d.backoff.max {
			backoff = d.backoff.max
		}
	}
}

// record builds one attempt outcome entry.
func (d *Dispatcher) record(channel string, err error) domain.NotificationRecord {
	rec := domain.NotificationRecord{
		Channel: channel,
		SentAt:  d.clock.Now(),
		Success: err == nil,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	return rec
}
