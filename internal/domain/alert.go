package domain

import "time"

// AlertState is runtime alert lifecycle state.
// Params: created/acknowledged/snoozed/resolved state constants.
// Returns: state transitions for operator actions and auto-resolution.
type AlertState string

const (
	// AlertStateCreated indicates a freshly fired, unhandled alert.
	AlertStateCreated AlertState = "created"
	// AlertStateAcknowledged indicates an operator has seen the alert.
	AlertStateAcknowledged AlertState = "acknowledged"
	// AlertStateSnoozed indicates delivery is muted until SnoozedUntil.
	AlertStateSnoozed AlertState = "snoozed"
	// AlertStateResolved indicates the incident is closed; terminal per instance.
	AlertStateResolved AlertState = "resolved"
)

// Valid reports whether the state is one of the lifecycle constants.
// Params: none.
// Returns: true for known states.
func (s AlertState) Valid() bool {
	switch s {
	case AlertStateCreated, AlertStateAcknowledged, AlertStateSnoozed, AlertStateResolved:
		return true
	}
	return false
}

// Priority orders alert severity for filtering and display.
// Params: low/medium/high/critical ordered values.
// Returns: comparable severity level.
type Priority int

const (
	// PriorityLow is the lowest severity.
	PriorityLow Priority = iota
	// PriorityMedium is routine operational severity.
	PriorityMedium
	// PriorityHigh is urgent severity.
	PriorityHigh
	// PriorityCritical is the highest severity.
	PriorityCritical
)

var priorityNames = map[Priority]string{
	PriorityLow:      "low",
	PriorityMedium:   "medium",
	PriorityHigh:     "high",
	PriorityCritical: "critical",
}

// String renders priority as its configuration token.
// Params: none.
// Returns: lower-case priority name.
func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return "low"
}

// ParsePriority converts a configuration token into a Priority.
// Params: lower-case priority name.
// Returns: parsed priority and validity flag.
func ParsePriority(raw string) (Priority, bool) {
	for priority, name := range priorityNames {
		if name == raw {
			return priority, true
		}
	}
	return PriorityLow, false
}

// MarshalText serializes priority for JSON/TOML payloads.
// Params: none.
// Returns: priority token bytes.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses priority from JSON/TOML payloads.
// Params: priority token bytes.
// Returns: parse error on unknown token.
func (p *Priority) UnmarshalText(text []byte) error {
	parsed, ok := ParsePriority(string(text))
	if !ok {
		return &UnknownPriorityError{Raw: string(text)}
	}
	*p = parsed
	return nil
}

// UnknownPriorityError reports an unparseable priority token.
// Params: offending raw token.
// Returns: descriptive error message.
type UnknownPriorityError struct {
	Raw string
}

func (e *UnknownPriorityError) Error() string {
	return "unknown priority " + e.Raw
}

// NotificationRecord is one delivery attempt outcome on an alert.
// Params: channel key, attempt time, and success/error outcome.
// Returns: append-only audit entry for notificationsSent.
type NotificationRecord struct {
	Channel string    `json:"channel"`
	SentAt  time.Time `json:"sent_at"`
	Success bool      `json:"success"`
	Error   string    `json:"error,omitempty"`
}

// Alert stores one materialized incident.
// Params: identity, denormalized rule context, lifecycle timestamps, and
// the append-only notification log.
// Returns: record for state backend and API payloads.
type Alert struct {
	ID          string     `json:"id"`
	Fingerprint string     `json:"fingerprint"`
	RuleID      string     `json:"rule_id"`
	RuleName    string     `json:"rule_name"`
	Priority    Priority   `json:"priority"`
	State       AlertState `json:"state"`

	WarehouseID string `json:"warehouse_id"`
	ZoneID      string `json:"zone_id,omitempty"`
	ShiftCode   string `json:"shift_code,omitempty"`

	Title    string            `json:"title"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`

	TriggeredAt    time.Time  `json:"triggered_at"`
	LastSeenAt     time.Time  `json:"last_seen_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	SnoozedUntil   *time.Time `json:"snoozed_until,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`

	NotificationsSent []NotificationRecord `json:"notifications_sent"`
}

// IsOpen reports whether the alert still represents an ongoing incident.
// Params: none.
// Returns: true for created/acknowledged/snoozed states.
func (a Alert) IsOpen() bool {
	return a.State != AlertStateResolved
}

// Clone returns a detached copy of the alert with duplicated mutable fields.
// Params: none.
// Returns: copy safe to hand across goroutines.
func (a Alert) Clone() Alert {
	out := a
	if a.Metadata != nil {
		out.Metadata = make(map[string]string, len(a.Metadata))
		for key, value := range a.Metadata {
			out.Metadata[key] = value
		}
	}
	out.NotificationsSent = append([]NotificationRecord(nil), a.NotificationsSent...)
	out.AcknowledgedAt = cloneTime(a.AcknowledgedAt)
	out.SnoozedUntil = cloneTime(a.SnoozedUntil)
	out.ResolvedAt = cloneTime(a.ResolvedAt)
	return out
}

func cloneTime(source *time.Time) *time.Time {
	if source == nil {
		return nil
	}
	value := *source
	return &value
}
