package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"zonealert/internal/clock"
	"zonealert/internal/config"
	"zonealert/internal/domain"
	"zonealert/internal/engine"
)

const casAttempts = 3

var (
	// ErrAlertResolved indicates a mutation against a terminally resolved alert.
	ErrAlertResolved = errors.New("alert already resolved")
	// ErrInvalidSnooze indicates a non-positive snooze duration.
	ErrInvalidSnooze = errors.New("snooze minutes must be positive")
)

// FireOutcome reports lifecycle handling of one fire edge.
// Params: resulting alert, creation flag, and delivery decision.
// Returns: unit consumed by the delivery engine dispatch.
type FireOutcome struct {
	Alert   domain.Alert
	Created bool
	Deliver bool
}

// Manager owns alert identity, creation, state transitions, and querying.
// At most one open alert exists per fingerprint; fire-handling for a given
// fingerprint runs inside the engine's per-fingerprint critical section and
// the store's open-index claim backs that invariant on the persistence side.
// Params: state store, clock, and logger.
// Returns: lifecycle operations for the evaluation pipeline and API.
type Manager struct {
	store  Store
	clock  clock.Clock
	logger *slog.Logger
	newID  func() string

	resolveHook func(fingerprint string)
}

// SetResolveHook registers a callback invoked after a manual resolve.
// The evaluation pipeline uses it to rearm the fingerprint so a still-true
// condition can fire a fresh alert on a later cycle.
// Params: hook receiving the resolved fingerprint key.
// Returns: none.
func (m *Manager) SetResolveHook(hook func(fingerprint string)) {
	m.resolveHook = hook
}

// NewManager creates the lifecycle manager.
// Params: state store, clock, and logger.
// Returns: initialized manager.
func NewManager(store Store, clk clock.Clock, logger *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		clock:  clk,
		logger: logger,
		newID:  uuid.NewString,
	}
}

// OnFire materializes a fire edge into an alert record.
// A fresh alert is created when the fingerprint has no open incident. A
// re-fire on an open incident never creates a new alert and never
// re-delivers, except when a snooze has expired: the alert then returns to
// created and delivery is dispatched again.
// Params: context, rule, fingerprint, triggering snapshot, and metric value.
// Returns: fire outcome or store error.
func (m *Manager) OnFire(ctx context.Context, rule config.AlertRule, fingerprint engine.Fingerprint, snapshot domain.MetricSnapshot, value float64) (FireOutcome, error) {
	key := fingerprint.Key()

	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		now := m.clock.Now()

		open, revision, err := m.store.GetOpenByFingerprint(ctx, key)
		switch {
		case errors.Is(err, ErrNotFound):
			alert := m.buildAlert(rule, fingerprint, snapshot, value, now)
			if _, err := m.store.Create(ctx, alert); err != nil {
				if errors.Is(err, ErrOpenExists) {
					// Lost a create race; re-read and treat as re-fire
					// on the winner. If the lookup keeps missing the
					// alert the index claims, the store is inconsistent
					// and retrying forever would never converge.
					lastErr = err
					continue
				}
				return FireOutcome{}, fmt.Errorf("create alert: %w", err)
			}
			m.logger.Info("alert created",
				"alert_id", alert.ID, "rule", rule.ID, "fingerprint", key, "priority", alert.Priority.String())
			return FireOutcome{Alert: alert, Created: true, Deliver: true}, nil

		case err != nil:
			return FireOutcome{}, fmt.Errorf("lookup open alert: %w", err)
		}

		if open.State == domain.AlertStateSnoozed && open.SnoozedUntil != nil && !now.Before(*open.SnoozedUntil) {
			open.State = domain.AlertStateCreated
			open.SnoozedUntil = nil
			open.LastSeenAt = now
			if _, err := m.store.Update(ctx, revision, open); err != nil {
				return FireOutcome{}, fmt.Errorf("wake snoozed alert: %w", err)
			}
			m.logger.Info("alert snooze expired, re-delivering", "alert_id", open.ID, "fingerprint", key)
			return FireOutcome{Alert: open, Deliver: true}, nil
		}

		open.LastSeenAt = now
		if _, err := m.store.Update(ctx, revision, open); err != nil && !errors.Is(err, ErrConflict) {
			return FireOutcome{}, fmt.Errorf("touch open alert: %w", err)
		}
		return FireOutcome{Alert: open}, nil
	}
	return FireOutcome{}, fmt.Errorf("fire alert %s: open index inconsistent with lookup: %w", key, lastErr)
}

// OnClear auto-resolves the open alert for a fingerprint.
// Clears never trigger delivery; returning to normal is silent.
// Params: context and fingerprint key.
// Returns: resolved alert, resolution flag, or store error.
func (m *Manager) OnClear(ctx context.Context, fingerprint string) (domain.Alert, bool, error) {
	now := m.clock.Now()

	open, revision, err := m.store.GetOpenByFingerprint(ctx, fingerprint)
	if errors.Is(err, ErrNotFound) {
		return domain.Alert{}, false, nil
	}
	if err != nil {
		return domain.Alert{}, false, fmt.Errorf("lookup open alert: %w", err)
	}

	open.State = domain.AlertStateResolved
	open.ResolvedAt = &now
	if _, err := m.store.Update(ctx, revision, open); err != nil {
		return domain.Alert{}, false, fmt.Errorf("resolve alert: %w", err)
	}
	m.logger.Info("alert auto-resolved", "alert_id", open.ID, "fingerprint", fingerprint)
	return open, true, nil
}

// Acknowledge marks an alert as seen by an operator.
// Params: context, alert id, and acknowledging user.
// Returns: updated alert; ErrAlertResolved for terminal alerts.
func (m *Manager) Acknowledge(ctx context.Context, alertID, userID string) (domain.Alert, error) {
	return m.mutate(ctx, alertID, func(alert *domain.Alert, now time.Time) error {
		if alert.State == domain.AlertStateResolved {
			return ErrAlertResolved
		}
		alert.State = domain.AlertStateAcknowledged
		alert.AcknowledgedAt = &now
		alert.AcknowledgedBy = userID
		return nil
	})
}

// Snooze mutes delivery for an alert until now+minutes.
// Params: context, alert id, and snooze duration in minutes.
// Returns: updated alert; ErrAlertResolved for terminal alerts.
func (m *Manager) Snooze(ctx context.Context, alertID string, minutes int) (domain.Alert, error) {
	if minutes <= 0 {
		return domain.Alert{}, ErrInvalidSnooze
	}
	return m.mutate(ctx, alertID, func(alert *domain.Alert, now time.Time) error {
		if alert.State == domain.AlertStateResolved {
			return ErrAlertResolved
		}
		until := now.Add(time.Duration(minutes) * time.Minute)
		alert.State = domain.AlertStateSnoozed
		alert.SnoozedUntil = &until
		return nil
	})
}

// Resolve manually closes an alert; idempotent when already resolved.
// Params: context and alert id.
// Returns: resolved alert or store error.
func (m *Manager) Resolve(ctx context.Context, alertID string) (domain.Alert, error) {
	resolvedNow := false
	alert, err := m.mutate(ctx, alertID, func(alert *domain.Alert, now time.Time) error {
		resolvedNow = false
		if alert.State == domain.AlertStateResolved {
			return nil
		}
		alert.State = domain.AlertStateResolved
		alert.ResolvedAt = &now
		resolvedNow = true
		return nil
	})
	if err == nil && resolvedNow && m.resolveHook != nil {
		m.resolveHook(alert.Fingerprint)
	}
	return alert, err
}

// AppendNotification appends one delivery attempt outcome to an alert.
// The log is append-only; resolution does not stop in-flight deliveries
// from recording their outcome.
// Params: context, alert id, and attempt record.
// Returns: store error after CAS retries.
func (m *Manager) AppendNotification(ctx context.Context, alertID string, record domain.NotificationRecord) error {
	_, err := m.mutate(ctx, alertID, func(alert *domain.Alert, _ time.Time) error {
		alert.NotificationsSent = append(alert.NotificationsSent, record)
		return nil
	})
	return err
}

// QueryFilter narrows the alert listing.
// Params: optional state/scope/priority filters and pagination bounds.
// Returns: filter consumed by Query.
type QueryFilter struct {
	States      []domain.AlertState
	WarehouseID string
	ZoneID      string
	ShiftCode   string
	Priority    *domain.Priority
	Limit       int
	Offset      int
}

// Query lists alerts newest-first with filtering and pagination.
// Params: context and filter.
// Returns: matching page and total match count before pagination.
func (m *Manager) Query(ctx context.Context, filter QueryFilter) ([]domain.Alert, int, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list alerts: %w", err)
	}

	matched := all[:0]
	for _, alert := range all {
		if !filter.matches(alert) {
			continue
		}
		matched = append(matched, alert)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].TriggeredAt.Equal(matched[j].TriggeredAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].TriggeredAt.After(matched[j].TriggeredAt)
	})

	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= total {
			return []domain.Alert{}, total, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

// Get returns one alert by id.
// Params: context and alert id.
// Returns: alert or ErrNotFound.
func (m *Manager) Get(ctx context.Context, alertID string) (domain.Alert, error) {
	alert, _, err := m.store.Get(ctx, alertID)
	return alert, err
}

// matches applies one filter to one alert.
func (f QueryFilter) matches(alert domain.Alert) bool {
	if len(f.States) > 0 {
		found := false
		for _, state := range f.States {
			if alert.State == state {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.WarehouseID != "" && alert.WarehouseID != f.WarehouseID {
		return false
	}
	if f.ZoneID != "" && alert.ZoneID != f.ZoneID {
		return false
	}
	if f.ShiftCode != "" && alert.ShiftCode != f.ShiftCode {
		return false
	}
	if f.Priority != nil && alert.Priority != *f.Priority {
		return false
	}
	return true
}

// mutate applies one mutation under a bounded CAS retry loop.
// Params: context, alert id, and mutation callback.
// Returns: updated alert or terminal error.
func (m *Manager) mutate(ctx context.Context, alertID string, fn func(*domain.Alert, time.Time) error) (domain.Alert, error) {
	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		alert, revision, err := m.store.Get(ctx, alertID)
		if err != nil {
			return domain.Alert{}, err
		}
		now := m.clock.Now()
		if err := fn(&alert, now); err != nil {
			return domain.Alert{}, err
		}
		if _, err := m.store.Update(ctx, revision, alert); err != nil {
			if errors.Is(err, ErrConflict) {
				lastErr = err
				continue
			}
			return domain.Alert{}, err
		}
		return alert, nil
	}
	return domain.Alert{}, fmt.Errorf("mutate alert %s: %w", alertID, lastErr)
}

// buildAlert constructs a fresh alert with rule context denormalized in.
// Rule name and priority are captured at creation time so later rule
// renames never alter existing alerts.
// Params: rule, fingerprint, snapshot, metric value, and creation time.
// Returns: alert ready for store creation.
func (m *Manager) buildAlert(rule config.AlertRule, fingerprint engine.Fingerprint, snapshot domain.MetricSnapshot, value float64, now time.Time) domain.Alert {
	message := rule.Message
	if message == "" {
		condition := rule.Conditions[0]
		message = fmt.Sprintf("%s %s %s (observed %s)",
			condition.Field, condition.Operator,
			strconv.FormatFloat(condition.Threshold, 'f', -1, 64),
			strconv.FormatFloat(value, 'f', -1, 64))
	}
	return domain.Alert{
		ID:          m.newID(),
		Fingerprint: fingerprint.Key(),
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		Priority:    rule.Priority,
		State:       domain.AlertStateCreated,
		WarehouseID: fingerprint.WarehouseID,
		ZoneID:      fingerprint.ZoneID,
		ShiftCode:   fingerprint.ShiftCode,
		Title:       rule.Title,
		Message:     message,
		Metadata: map[string]string{
			"metric_field": rule.Conditions[0].Field,
			"metric_value": strconv.FormatFloat(value, 'f', -1, 64),
		},
		TriggeredAt:       now,
		LastSeenAt:        now,
		NotificationsSent: []domain.NotificationRecord{},
	}
}
