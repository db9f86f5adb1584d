package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"zonealert/internal/alerts"
	"zonealert/internal/clock"
	"zonealert/internal/config"
	"zonealert/internal/domain"
	"zonealert/internal/engine"
	"zonealert/internal/notify"
	"zonealert/internal/rules"
)

var cycleStart = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

// webhookCapture records JSON payloads delivered to a test endpoint.
type webhookCapture struct {
	server *httptest.Server

	mu       sync.Mutex
	payloads []notify.Payload
	status   int
}

func newWebhookCapture(t *testing.T, status int) *webhookCapture {
	t.Helper()
	capture := &webhookCapture{status: status}
	capture.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload notify.Payload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode webhook payload: %v", err)
		}
		capture.mu.Lock()
		capture.payloads = append(capture.payloads, payload)
		capture.mu.Unlock()
		w.WriteHeader(capture.status)
	}))
	t.Cleanup(capture.server.Close)
	return capture
}

func (c *webhookCapture) received() []notify.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]notify.Payload(nil), c.payloads...)
}

type cycleFixture struct {
	manager *Manager
	pool    *notify.Pool
	alerts  *alerts.Manager
	store   *alerts.MemoryStore
	metrics *Metrics
	manual  *clock.Manual
}

func newCycleFixture(t *testing.T, seedRules []config.AlertRule) *cycleFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	manual := clock.NewManual(cycleStart)
	store := alerts.NewMemoryStore()
	metrics := NewMetrics(prometheus.NewRegistry())

	deliveryCfg := config.DeliveryConfig{Workers: 2, QueueDepth: 64, BackoffInitialMS: 1, BackoffMaxMS: 4}
	alertManager := alerts.NewManager(store, manual, logger)
	dispatcher := notify.NewDispatcher(deliveryCfg, nil, manual, logger)
	pool := notify.NewPool(deliveryCfg, dispatcher, alertManager, metrics.DeliveryOutcome, logger)

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx, deliveryCfg.Workers)
	t.Cleanup(func() {
		pool.Shutdown()
		cancel()
	})

	manager := NewManager(
		rules.NewRepository(seedRules),
		engine.New(),
		alertManager,
		pool,
		NewSnapshotBuffer(5*time.Minute),
		metrics,
		manual,
		logger,
	)
	return &cycleFixture{
		manager: manager,
		pool:    pool,
		alerts:  alertManager,
		store:   store,
		metrics: metrics,
		manual:  manual,
	}
}

func webhookRule(id, url string, mutate func(*config.AlertRule)) config.AlertRule {
	rule := config.AlertRule{
		ID:       id,
		Name:     "Cold zone temperature high",
		Enabled:  true,
		Priority: domain.PriorityCritical,
		Conditions: []config.RuleCondition{
			{Field: "temperature_c", Operator: config.OperatorGT, Threshold: 30},
		},
		Channels: []config.ChannelConfig{
			{Channel: config.ChannelWebhook, Enabled: true, Webhook: &config.WebhookChannel{URL: url, Method: "POST"}},
		},
	}
	if mutate != nil {
		mutate(&rule)
	}
	return rule
}

func coldSnapshot(at time.Time, temperature float64) domain.MetricSnapshot {
	return domain.MetricSnapshot{
		WarehouseID: "wh-1",
		ZoneID:      "cold-1",
		At:          at,
		Fields:      map[string]float64{"temperature_c": temperature},
	}
}

func (f *cycleFixture) openAlerts(t *testing.T) []domain.Alert {
	t.Helper()
	page, _, err := f.alerts.Query(context.Background(), alerts.QueryFilter{
		States: []domain.AlertState{domain.AlertStateCreated, domain.AlertStateAcknowledged, domain.AlertStateSnoozed},
	})
	if err != nil {
		t.Fatalf("query open alerts: %v", err)
	}
	return page
}

func TestSnapshotBufferKeepsNewestPerScope(t *testing.T) {
	t.Parallel()

	buffer := NewSnapshotBuffer(5 * time.Minute)
	older := coldSnapshot(cycleStart, 31)
	newer := coldSnapshot(cycleStart.Add(time.Minute), 33)

	if accepted := buffer.Put([]domain.MetricSnapshot{older, newer}); accepted != 2 {
		t.Fatalf("accepted = %d, want 2", accepted)
	}
	// An out-of-order older snapshot does not roll the scope back.
	if accepted := buffer.Put([]domain.MetricSnapshot{older}); accepted != 0 {
		t.Fatalf("stale put accepted = %d, want 0", accepted)
	}

	current := buffer.Current(cycleStart.Add(2 * time.Minute))
	if len(current) != 1 || current[0].Fields["temperature_c"] != 33 {
		t.Fatalf("current = %+v", current)
	}
}

func TestSnapshotBufferPrunesStale(t *testing.T) {
	t.Parallel()

	buffer := NewSnapshotBuffer(5 * time.Minute)
	buffer.Put([]domain.MetricSnapshot{coldSnapshot(cycleStart, 31)})

	if got := buffer.Current(cycleStart.Add(4 * time.Minute)); len(got) != 1 {
		t.Fatalf("fresh snapshot pruned")
	}
	if got := buffer.Current(cycleStart.Add(6 * time.Minute)); len(got) != 0 {
		t.Fatalf("stale snapshot survived: %+v", got)
	}
	// The prune is permanent.
	if got := buffer.Current(cycleStart.Add(4 * time.Minute)); len(got) != 0 {
		t.Fatalf("pruned snapshot returned")
	}
}

func TestRunCycleFiresAndDelivers(t *testing.T) {
	t.Parallel()

	capture := newWebhookCapture(t, http.StatusOK)
	fixture := newCycleFixture(t, []config.AlertRule{webhookRule("temp_high", capture.server.URL, nil)})
	ctx := context.Background()

	fixture.manager.Push([]domain.MetricSnapshot{coldSnapshot(cycleStart, 32)})
	fixture.manager.RunCycle(ctx)
	fixture.pool.WaitIdle()

	open := fixture.openAlerts(t)
	if len(open) != 1 {
		t.Fatalf("open alerts = %d, want 1", len(open))
	}
	alert := open[0]
	if alert.RuleID != "temp_high" || alert.State != domain.AlertStateCreated {
		t.Fatalf("alert = %+v", alert)
	}

	delivered := capture.received()
	if len(delivered) != 1 {
		t.Fatalf("webhook deliveries = %d, want 1", len(delivered))
	}
	if delivered[0].Event != "created" || delivered[0].AlertID != alert.ID || delivered[0].ZoneID != "cold-1" {
		t.Fatalf("delivered payload = %+v", delivered[0])
	}

	stored, err := fixture.alerts.Get(ctx, alert.ID)
	if err != nil {
		t.Fatalf("get alert: %v", err)
	}
	if len(stored.NotificationsSent) != 1 || !stored.NotificationsSent[0].Success {
		t.Fatalf("notification log = %+v", stored.NotificationsSent)
	}

	if got := testutil.ToFloat64(fixture.metrics.Fires); got != 1 {
		t.Fatalf("fires counter = %v, want 1", got)
	}
}

func TestRunCycleDoesNotRefireWhileArmed(t *testing.T) {
	t.Parallel()

	capture := newWebhookCapture(t, http.StatusOK)
	fixture := newCycleFixture(t, []config.AlertRule{webhookRule("temp_high", capture.server.URL, nil)})
	ctx := context.Background()

	for cycle := 0; cycle < 3; cycle++ {
		fixture.manager.Push([]domain.MetricSnapshot{coldSnapshot(fixture.manual.Now(), 32)})
		fixture.manager.RunCycle(ctx)
		fixture.pool.WaitIdle()
		fixture.manual.Advance(30 * time.Second)
	}

	if open := fixture.openAlerts(t); len(open) != 1 {
		t.Fatalf("open alerts = %d, want 1 across repeated cycles", len(open))
	}
	if delivered := capture.received(); len(delivered) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(delivered))
	}
}

func TestRunCycleClearResolves(t *testing.T) {
	t.Parallel()

	capture := newWebhookCapture(t, http.StatusOK)
	fixture := newCycleFixture(t, []config.AlertRule{webhookRule("temp_high", capture.server.URL, nil)})
	ctx := context.Background()

	fixture.manager.Push([]domain.MetricSnapshot{coldSnapshot(fixture.manual.Now(), 32)})
	fixture.manager.RunCycle(ctx)
	fixture.pool.WaitIdle()

	fixture.manual.Advance(time.Minute)
	fixture.manager.Push([]domain.MetricSnapshot{coldSnapshot(fixture.manual.Now(), 24)})
	fixture.manager.RunCycle(ctx)
	fixture.pool.WaitIdle()

	if open := fixture.openAlerts(t); len(open) != 0 {
		t.Fatalf("open alerts after clear = %d, want 0", len(open))
	}
	resolved, total, err := fixture.alerts.Query(ctx, alerts.QueryFilter{States: []domain.AlertState{domain.AlertStateResolved}})
	if err != nil {
		t.Fatalf("query resolved: %v", err)
	}
	if total != 1 || resolved[0].ResolvedAt == nil {
		t.Fatalf("resolved alerts = %+v", resolved)
	}
	// Returning to normal is silent.
	if delivered := capture.received(); len(delivered) != 1 {
		t.Fatalf("deliveries = %d, want only the fire delivery", len(delivered))
	}
}

func TestRunCycleCooldownSuppression(t *testing.T) {
	t.Parallel()

	capture := newWebhookCapture(t, http.StatusOK)
	rule := webhookRule("temp_high", capture.server.URL, func(r *config.AlertRule) {
		r.CooldownMinutes = 10
	})
	fixture := newCycleFixture(t, []config.AlertRule{rule})
	ctx := context.Background()

	// Fire, clear, then breach again inside the cooldown window.
	readings := []float64{32, 24, 33}
	for _, temperature := range readings {
		fixture.manager.Push([]domain.MetricSnapshot{coldSnapshot(fixture.manual.Now(), temperature)})
		fixture.manager.RunCycle(ctx)
		fixture.pool.WaitIdle()
		fixture.manual.Advance(time.Minute)
	}

	if open := fixture.openAlerts(t); len(open) != 0 {
		t.Fatalf("suppressed fire created an alert: %+v", open)
	}
	if delivered := capture.received(); len(delivered) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(delivered))
	}
	suppressed := testutil.ToFloat64(fixture.metrics.Suppressed.WithLabelValues(engine.SuppressReasonCooldown))
	if suppressed != 1 {
		t.Fatalf("cooldown suppressions = %v, want 1", suppressed)
	}
}

func TestManualResolveAllowsRefire(t *testing.T) {
	t.Parallel()

	capture := newWebhookCapture(t, http.StatusOK)
	fixture := newCycleFixture(t, []config.AlertRule{webhookRule("temp_high", capture.server.URL, nil)})
	ctx := context.Background()

	fixture.manager.Push([]domain.MetricSnapshot{coldSnapshot(fixture.manual.Now(), 32)})
	fixture.manager.RunCycle(ctx)
	fixture.pool.WaitIdle()

	open := fixture.openAlerts(t)
	if len(open) != 1 {
		t.Fatalf("open alerts = %d, want 1", len(open))
	}
	if _, err := fixture.alerts.Resolve(ctx, open[0].ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// Condition still true on the next cycle: the resolve hook rearmed the
	// fingerprint, so a fresh alert fires.
	fixture.manual.Advance(time.Minute)
	fixture.manager.Push([]domain.MetricSnapshot{coldSnapshot(fixture.manual.Now(), 32)})
	fixture.manager.RunCycle(ctx)
	fixture.pool.WaitIdle()

	reopened := fixture.openAlerts(t)
	if len(reopened) != 1 {
		t.Fatalf("open alerts after resolve = %d, want fresh fire", len(reopened))
	}
	if reopened[0].ID == open[0].ID {
		t.Fatalf("refire reused resolved alert id")
	}
	if delivered := capture.received(); len(delivered) != 2 {
		t.Fatalf("deliveries = %d, want 2", len(delivered))
	}
}

func TestRunCyclePartialDeliveryFailure(t *testing.T) {
	t.Parallel()

	healthy := newWebhookCapture(t, http.StatusOK)
	failing := newWebhookCapture(t, http.StatusBadRequest)
	rule := webhookRule("temp_high", healthy.server.URL, func(r *config.AlertRule) {
		r.Channels = append(r.Channels, config.ChannelConfig{
			Channel: config.ChannelWebhook,
			Enabled: true,
			Webhook: &config.WebhookChannel{URL: failing.server.URL, Method: "POST"},
		})
	})
	fixture := newCycleFixture(t, []config.AlertRule{rule})
	ctx := context.Background()

	fixture.manager.Push([]domain.MetricSnapshot{coldSnapshot(fixture.manual.Now(), 32)})
	fixture.manager.RunCycle(ctx)
	fixture.pool.WaitIdle()

	// One channel failing never blocks the other or changes alert state.
	open := fixture.openAlerts(t)
	if len(open) != 1 || open[0].State != domain.AlertStateCreated {
		t.Fatalf("open alerts = %+v", open)
	}
	if delivered := healthy.received(); len(delivered) != 1 {
		t.Fatalf("healthy channel deliveries = %d, want 1", len(delivered))
	}

	stored, err := fixture.alerts.Get(ctx, open[0].ID)
	if err != nil {
		t.Fatalf("get alert: %v", err)
	}
	var successes, failures int
	for _, record := range stored.NotificationsSent {
		if record.Success {
			successes++
		} else {
			failures++
		}
	}
	if successes != 1 || failures != 1 {
		t.Fatalf("notification log = %+v, want one success and one failure", stored.NotificationsSent)
	}

	if got := testutil.ToFloat64(fixture.metrics.Deliveries.WithLabelValues("webhook", "failure")); got != 1 {
		t.Fatalf("failure deliveries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(fixture.metrics.Deliveries.WithLabelValues("webhook", "success")); got != 1 {
		t.Fatalf("success deliveries = %v, want 1", got)
	}
}

func TestRunCycleSkipsWhenQuiet(t *testing.T) {
	t.Parallel()

	fixture := newCycleFixture(t, nil)
	fixture.manager.RunCycle(context.Background())
	if got := testutil.ToFloat64(fixture.metrics.Cycles); got != 1 {
		t.Fatalf("cycle counter = %v, want 1", got)
	}
	if open := fixture.openAlerts(t); len(open) != 0 {
		t.Fatalf("quiet cycle produced alerts")
	}
}
