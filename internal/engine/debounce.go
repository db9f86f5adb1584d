package engine

import (
	"time"

	"zonealert/internal/config"
)

// EdgeKind classifies a debounced state transition.
// Params: none/fire/clear transition constants.
// Returns: edge event discriminant.
type EdgeKind int

const (
	// EdgeNone indicates no transition this evaluation.
	EdgeNone EdgeKind = iota
	// EdgeFire indicates a Clear→Armed transition.
	EdgeFire
	// EdgeClear indicates an Armed→Clear transition.
	EdgeClear
)

// String renders the edge kind for logs and simulation output.
// Params: none.
// Returns: lower-case kind token.
func (k EdgeKind) String() string {
	switch k {
	case EdgeFire:
		return "fire"
	case EdgeClear:
		return "clear"
	default:
		return "none"
	}
}

// fingerprintState is the per-fingerprint debounce/suppression state.
// Params: armed flag, per-condition satisfaction runs, and cooldown markers.
// Returns: mutable state owned by one engine shard.
type fingerprintState struct {
	armed         bool
	statuses      []ConditionStatus
	lastFiredAt   time.Time
	lastClearedAt time.Time
	lastEvalAt    time.Time
}

// step advances the Clear/Armed state machine for one evaluation.
// While Armed with the condition still satisfied no further Fire edges are
// produced; that is what prevents duplicate alert creation on every tick.
// Params: rule, fresh evaluation result, and current time.
// Returns: emitted edge kind.
func (s *fingerprintState) step(rule config.AlertRule, evaluation RuleEvaluation, now time.Time) EdgeKind {
	s.lastEvalAt = now

	if !s.armed {
		if !evaluation.Active {
			return EdgeNone
		}
		if rule.Hysteresis != nil {
			if !evaluation.PrimaryPresent {
				return EdgeNone
			}
			if !applyOperator(rule.Conditions[0].Operator, evaluation.PrimaryValue, rule.Hysteresis.OnThreshold) {
				return EdgeNone
			}
		}
		s.armed = true
		return EdgeFire
	}

	if rule.Hysteresis != nil {
		// Missing data keeps the alert armed; only a real crossing of the
		// off threshold in the opposite direction clears it.
		if !evaluation.PrimaryPresent {
			return EdgeNone
		}
		if applyOperator(rule.Conditions[0].Operator, evaluation.PrimaryValue, rule.Hysteresis.OffThreshold) {
			return EdgeNone
		}
		s.reset()
		return EdgeClear
	}

	if evaluation.Active {
		return EdgeNone
	}
	s.reset()
	return EdgeClear
}

// reset returns the state machine to Clear and drops satisfaction runs.
// Params: none.
// Returns: state mutated in place; cooldown markers are preserved.
func (s *fingerprintState) reset() {
	s.armed = false
	for index := range s.statuses {
		s.statuses[index].SatisfiedSince = nil
	}
}

// inCooldown reports whether a fire lands inside the rule's cooldown window.
// Params: rule cooldown minutes and current time.
// Returns: true when the fingerprint fired or cleared too recently.
func (s *fingerprintState) inCooldown(cooldownMinutes int, now time.Time) bool {
	if cooldownMinutes <= 0 {
		return false
	}
	window := time.Duration(cooldownMinutes) * time.Minute
	if !s.lastFiredAt.IsZero() && now.Sub(s.lastFiredAt) < window {
		return true
	}
	if !s.lastClearedAt.IsZero() && now.Sub(s.lastClearedAt) < window {
		return true
	}
	return false
}
