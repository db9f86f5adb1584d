package engine

import (
	"sort"
	"time"

	"zonealert/internal/config"
	"zonealert/internal/domain"
)

// SimulatedEvent is one would-be edge from a dry-run replay.
// Params: edge kind, rule/fingerprint identity, time, value, suppression.
// Returns: simulation output row; no delivery side effects exist.
type SimulatedEvent struct {
	Kind           string    `json:"kind"`
	RuleID         string    `json:"rule_id"`
	Fingerprint    string    `json:"fingerprint"`
	WarehouseID    string    `json:"warehouse_id"`
	ZoneID         string    `json:"zone_id,omitempty"`
	ShiftCode      string    `json:"shift_code,omitempty"`
	At             time.Time `json:"at"`
	Value          float64   `json:"value"`
	Suppressed     bool      `json:"suppressed,omitempty"`
	SuppressReason string    `json:"suppress_reason,omitempty"`
}

// Simulate replays a metric series through a fresh evaluation pipeline.
// The replay uses an isolated engine so production debounce/rate state is
// untouched, and it never reaches the delivery engine.
// Params: rules to evaluate and a metric series in any order.
// Returns: would-be fire/clear events in time order.
func Simulate(rules []config.AlertRule, series []domain.MetricSnapshot) []SimulatedEvent {
	if len(rules) == 0 || len(series) == 0 {
		return nil
	}

	ordered := append([]domain.MetricSnapshot(nil), series...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].At.Before(ordered[j].At) })

	replay := New()
	var out []SimulatedEvent

	cycleStart := 0
	for index := 1; index <= len(ordered); index++ {
		if index < len(ordered) && ordered[index].At.Equal(ordered[cycleStart].At) {
			continue
		}
		cycle := ordered[cycleStart:index]
		now := cycle[0].At
		for _, event := range replay.EvaluateCycle(rules, cycle, now) {
			out = append(out, SimulatedEvent{
				Kind:           event.Kind.String(),
				RuleID:         event.Rule.ID,
				Fingerprint:    event.Fingerprint.Key(),
				WarehouseID:    event.Fingerprint.WarehouseID,
				ZoneID:         event.Fingerprint.ZoneID,
				ShiftCode:      event.Fingerprint.ShiftCode,
				At:             event.At,
				Value:          event.Value,
				Suppressed:     event.Suppressed,
				SuppressReason: event.SuppressReason,
			})
		}
		cycleStart = index
	}
	return out
}
