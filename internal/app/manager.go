package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"zonealert/internal/alerts"
	"zonealert/internal/clock"
	"zonealert/internal/domain"
	"zonealert/internal/engine"
	"zonealert/internal/notify"
	"zonealert/internal/rules"
)

// snapshot staleness is bounded by the configured TTL; idle debounce state
// is compacted after ten TTL periods.
const compactTTLFactor = 10

// SnapshotBuffer keeps the latest metric snapshot per facility scope.
// Later snapshots replace earlier ones for the same scope; stale entries
// fall out of evaluation once older than the TTL.
// Params: staleness TTL.
// Returns: current-view source for evaluation cycles.
type SnapshotBuffer struct {
	ttl time.Duration

	mu     sync.RWMutex
	latest map[string]domain.MetricSnapshot
}

// NewSnapshotBuffer creates the buffer.
// Params: staleness TTL.
// Returns: empty buffer.
func NewSnapshotBuffer(ttl time.Duration) *SnapshotBuffer {
	return &SnapshotBuffer{
		ttl:    ttl,
		latest: make(map[string]domain.MetricSnapshot),
	}
}

// Put merges one batch into the buffer, keeping the newest per scope.
// Params: validated snapshots.
// Returns: count of snapshots that advanced their scope.
func (b *SnapshotBuffer) Put(snapshots []domain.MetricSnapshot) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	accepted := 0
	for _, snapshot := range snapshots {
		key := snapshot.ScopeKey()
		if existing, ok := b.latest[key]; ok && existing.At.After(snapshot.At) {
			continue
		}
		b.latest[key] = snapshot
		accepted++
	}
	return accepted
}

// Current returns non-stale snapshots for evaluation.
// Params: cycle time.
// Returns: snapshots with At within the TTL; expired entries are pruned.
func (b *SnapshotBuffer) Current(now time.Time) []domain.MetricSnapshot {
	cutoff := now.Add(-b.ttl)
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.MetricSnapshot, 0, len(b.latest))
	for key, snapshot := range b.latest {
		if snapshot.At.Before(cutoff) {
			delete(b.latest, key)
			continue
		}
		out = append(out, snapshot)
	}
	return out
}

// Manager drives evaluation cycles from buffered snapshots to delivery jobs.
// Params: rule repository, evaluation engine, alert lifecycle, delivery pool.
// Returns: cycle runner wired by the service.
type Manager struct {
	rules   *rules.Repository
	engine  *engine.Engine
	alerts  *alerts.Manager
	pool    *notify.Pool
	buffer  *SnapshotBuffer
	metrics *Metrics
	clock   clock.Clock
	logger  *slog.Logger
}

// NewManager creates the cycle manager and hooks manual resolves back into
// the engine so a resolved fingerprint can fire again.
// Params: components built by the service.
// Returns: initialized manager.
func NewManager(
	ruleRepo *rules.Repository,
	evalEngine *engine.Engine,
	alertManager *alerts.Manager,
	pool *notify.Pool,
	buffer *SnapshotBuffer,
	metrics *Metrics,
	clk clock.Clock,
	logger *slog.Logger,
) *Manager {
	manager := &Manager{
		rules:   ruleRepo,
		engine:  evalEngine,
		alerts:  alertManager,
		pool:    pool,
		buffer:  buffer,
		metrics: metrics,
		clock:   clk,
		logger:  logger,
	}
	alertManager.SetResolveHook(func(fingerprint string) {
		manager.engine.ResetFingerprint(fingerprint, manager.clock.Now())
	})
	return manager
}

// Push accepts one validated snapshot batch from an ingest interface.
// Params: snapshots.
// Returns: nil; buffering cannot fail.
func (m *Manager) Push(snapshots []domain.MetricSnapshot) error {
	accepted := m.buffer.Put(snapshots)
	m.metrics.SnapshotsIngested.Add(float64(accepted))
	return nil
}

// RunCycle evaluates every enabled rule against current snapshots and
// turns edges into alert lifecycle changes and delivery jobs.
// Params: cycle context.
// Returns: after all edges of this cycle are handled; delivery itself
// continues async on the pool.
func (m *Manager) RunCycle(ctx context.Context) {
	now := m.clock.Now()
	snapshots := m.buffer.Current(now)
	enabled := m.rules.ListEnabled()
	m.metrics.Cycles.Inc()
	if len(snapshots) == 0 || len(enabled) == 0 {
		return
	}

	events := m.engine.EvaluateCycle(enabled, snapshots, now)
	for _, event := range events {
		switch event.Kind {
		case engine.EdgeFire:
			m.handleFire(ctx, event)
		case engine.EdgeClear:
			m.handleClear(ctx, event)
		}
	}
	m.engine.Compact(now, time.Duration(compactTTLFactor)*m.buffer.ttl)
}

// handleFire materializes one fire edge.
// Suppressed fires keep the debouncer armed but never reach the lifecycle
// or delivery layers.
func (m *Manager) handleFire(ctx context.Context, event engine.EdgeEvent) {
	m.metrics.Fires.Inc()
	if event.Suppressed {
		m.metrics.Suppressed.WithLabelValues(event.SuppressReason).Inc()
		m.logger.Info("fire suppressed",
			"rule", event.Rule.ID, "fingerprint", event.Fingerprint.Key(),
			"reason", event.SuppressReason, "value", event.Value)
		return
	}

	outcome, err := m.alerts.OnFire(ctx, event.Rule, event.Fingerprint, event.Snapshot, event.Value)
	if err != nil {
		m.logger.Error("fire handling failed",
			"rule", event.Rule.ID, "fingerprint", event.Fingerprint.Key(), "error", err.Error())
		return
	}
	if !outcome.Deliver {
		return
	}

	deliveryEvent := "redelivered"
	if outcome.Created {
		deliveryEvent = "created"
	}
	payload := notify.BuildPayload(outcome.Alert, deliveryEvent)
	for _, channel := range event.Rule.EnabledChannels() {
		m.pool.Enqueue(notify.Job{Payload: payload, Channel: channel})
	}
}

// handleClear auto-resolves the open alert behind one clear edge.
func (m *Manager) handleClear(ctx context.Context, event engine.EdgeEvent) {
	m.metrics.Clears.Inc()
	if _, _, err := m.alerts.OnClear(ctx, event.Fingerprint.Key()); err != nil {
		m.logger.Error("clear handling failed",
			"rule", event.Rule.ID, "fingerprint", event.Fingerprint.Key(), "error", err.Error())
	}
}
