package engine

import (
	"hash/fnv"
	"sync"
	"time"

	"zonealert/internal/config"
	"zonealert/internal/domain"
)

const shardCount = 32

// EdgeEvent is one debounced transition produced by an evaluation cycle.
// Params: edge kind, owning rule, fingerprint, triggering snapshot/value,
// and the suppression verdict for fire edges.
// Returns: unit consumed by the alert lifecycle manager.
type EdgeEvent struct {
	Kind           EdgeKind
	Rule           config.AlertRule
	Fingerprint    Fingerprint
	Snapshot       domain.MetricSnapshot
	Value          float64
	At             time.Time
	Suppressed     bool
	SuppressReason string
}

// stateShard owns a slice of the fingerprint state space under one mutex.
type stateShard struct {
	mu     sync.Mutex
	states map[string]*fingerprintState
}

// Engine turns metric snapshots into debounced, suppression-filtered edges.
// Per-fingerprint state is mutated under sharded locks so evaluations for
// different fingerprints proceed in parallel while fire-handling for one
// fingerprint stays a critical section.
// Params: sharded debounce state and the shared rate limiter.
// Returns: deterministic edge stream for the lifecycle manager.
type Engine struct {
	shards  [shardCount]stateShard
	limiter *RateLimiter
}

// New constructs an engine with empty runtime state.
// Params: none.
// Returns: initialized engine instance.
func New() *Engine {
	engine := &Engine{limiter: NewRateLimiter()}
	for index := range engine.shards {
		engine.shards[index].states = make(map[string]*fingerprintState)
	}
	return engine
}

// EvaluateCycle evaluates all rules against all snapshots for one cycle.
// Rules are evaluated concurrently; there is no ordering guarantee across
// fingerprints within a cycle.
// Params: enabled rules, current snapshots, and cycle time.
// Returns: edge events including suppressed fires (for audit).
func (e *Engine) EvaluateCycle(rules []config.AlertRule, snapshots []domain.MetricSnapshot, now time.Time) []EdgeEvent {
	perRule := make([][]EdgeEvent, len(rules))

	var wg sync.WaitGroup
	for index := range rules {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			rule := rules[slot]
			var events []EdgeEvent
			for _, snapshot := range snapshots {
				if !rule.InScope(snapshot) {
					continue
				}
				if event, ok := e.evaluateOne(rule, snapshot, now); ok {
					events = append(events, event)
				}
			}
			perRule[slot] = events
		}(index)
	}
	wg.Wait()

	var out []EdgeEvent
	for _, events := range perRule {
		out = append(out, events...)
	}
	return out
}

// evaluateOne runs the full decision pipeline for one rule/snapshot pair.
// Params: rule, in-scope snapshot, and cycle time.
// Returns: edge event and emission flag.
func (e *Engine) evaluateOne(rule config.AlertRule, snapshot domain.MetricSnapshot, now time.Time) (EdgeEvent, bool) {
	fingerprint, err := BuildFingerprint(rule, snapshot)
	if err != nil {
		return EdgeEvent{}, false
	}
	key := fingerprint.Key()

	shard := e.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	state := shard.ensure(key, len(rule.Conditions))
	evaluation := EvaluateRule(rule, snapshot, state.statuses, now)
	kind := state.step(rule, evaluation, now)

	switch kind {
	case EdgeFire:
		event := EdgeEvent{
			Kind:        EdgeFire,
			Rule:        rule,
			Fingerprint: fingerprint,
			Snapshot:    snapshot,
			Value:       evaluation.PrimaryValue,
			At:          now,
		}
		if state.inCooldown(rule.CooldownMinutes, now) {
			event.Suppressed = true
			event.SuppressReason = SuppressReasonCooldown
			return event, true
		}
		if limit := rule.RateLimit; limit != nil {
			limiterKey := rule.ID
			if limit.PerFingerprint {
				limiterKey += "|" + key
			}
			window := time.Duration(limit.WindowMinutes) * time.Minute
			if !e.limiter.Allow(limiterKey, limit.MaxAlerts, window, now) {
				event.Suppressed = true
				event.SuppressReason = SuppressReasonRateLimit
				return event, true
			}
		}
		state.lastFiredAt = now
		return event, true

	case EdgeClear:
		state.lastClearedAt = now
		return EdgeEvent{
			Kind:        EdgeClear,
			Rule:        rule,
			Fingerprint: fingerprint,
			Snapshot:    snapshot,
			Value:       evaluation.PrimaryValue,
			At:          now,
		}, true

	default:
		return EdgeEvent{}, false
	}
}

// ResetFingerprint clears debounce state after an out-of-band resolution.
// The cleared marker still feeds the cooldown filter so a manual resolve
// does not immediately re-fire.
// Params: fingerprint key and resolution time.
// Returns: true when tracked state existed.
func (e *Engine) ResetFingerprint(key string, now time.Time) bool {
	shard := e.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	state, ok := shard.states[key]
	if !ok {
		return false
	}
	state.reset()
	state.lastClearedAt = now
	return true
}

// Armed reports whether the fingerprint is currently in the Armed state.
// Params: fingerprint key.
// Returns: armed flag; false for untracked fingerprints.
func (e *Engine) Armed(key string) bool {
	shard := e.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	state, ok := shard.states[key]
	return ok && state.armed
}

// Compact evicts idle unarmed fingerprint states and stale limiter windows.
// Params: current time and idle TTL threshold.
// Returns: number of evicted fingerprint states.
func (e *Engine) Compact(now time.Time, idleTTL time.Duration) int {
	if idleTTL <= 0 {
		return 0
	}
	removed := 0
	for index := range e.shards {
		shard := &e.shards[index]
		shard.mu.Lock()
		for key, state := range shard.states {
			if state.armed {
				continue
			}
			if state.lastEvalAt.IsZero() || now.Sub(state.lastEvalAt) < idleTTL {
				continue
			}
			delete(shard.states, key)
			removed++
		}
		shard.mu.Unlock()
	}
	e.limiter.Compact(now, idleTTL)
	return removed
}

// shardFor selects the owning shard for one fingerprint key.
// Params: fingerprint key.
// Returns: shard pointer.
func (e *Engine) shardFor(key string) *stateShard {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(key))
	return &e.shards[hasher.Sum32()%shardCount]
}

// ensure gets or initializes fingerprint state sized to the rule.
// Params: fingerprint key and condition count.
// Returns: mutable state pointer; statuses reset when the rule shape changed.
func (s *stateShard) ensure(key string, conditionCount int) *fingerprintState {
	state, ok := s.states[key]
	if !ok {
		state = &fingerprintState{statuses: make([]ConditionStatus, conditionCount)}
		s.states[key] = state
		return state
	}
	if len(state.statuses) != conditionCount {
		state.statuses = make([]ConditionStatus, conditionCount)
	}
	return state
}
