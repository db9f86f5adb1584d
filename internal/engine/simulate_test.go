package engine

import (
	"testing"
	"time"

	"zonealert/internal/config"
	"zonealert/internal/domain"
)

func TestSimulateReplaysSeriesInTimeOrder(t *testing.T) {
	t.Parallel()

	rule := tempRule("r-temp", nil)
	start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	// Intentionally out of order; simulation sorts by time.
	series := []domain.MetricSnapshot{
		tempSnapshot("z1", start.Add(2*time.Minute), 25),
		tempSnapshot("z1", start, 32),
		tempSnapshot("z1", start.Add(4*time.Minute), 33),
	}

	events := Simulate([]config.AlertRule{rule}, series)
	if len(events) != 3 {
		t.Fatalf("expected fire/clear/fire, got %+v", events)
	}
	wantKinds := []string{"fire", "clear", "fire"}
	for index, event := range events {
		if event.Kind != wantKinds[index] {
			t.Fatalf("event %d: expected %s, got %s", index, wantKinds[index], event.Kind)
		}
	}
	if !events[0].At.Equal(start) {
		t.Fatalf("expected first event at series start, got %v", events[0].At)
	}
}

func TestSimulateDoesNotTouchProductionState(t *testing.T) {
	t.Parallel()

	rule := tempRule("r-temp", nil)
	production := New()
	key := events0Key(t, production, rule)

	start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	Simulate([]config.AlertRule{rule}, []domain.MetricSnapshot{tempSnapshot("z1", start, 40)})

	if production.Armed(key) {
		t.Fatalf("expected production engine untouched by simulation")
	}
}

func TestSimulateReportsSuppression(t *testing.T) {
	t.Parallel()

	rule := tempRule("r-temp", func(r *config.AlertRule) {
		r.CooldownMinutes = 10
	})
	start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	series := []domain.MetricSnapshot{
		tempSnapshot("z1", start, 32),
		tempSnapshot("z1", start.Add(time.Minute), 25),
		tempSnapshot("z1", start.Add(2*time.Minute), 32),
	}

	events := Simulate([]config.AlertRule{rule}, series)
	if len(events) != 3 {
		t.Fatalf("expected three events, got %+v", events)
	}
	last := events[2]
	if !last.Suppressed || last.SuppressReason != SuppressReasonCooldown {
		t.Fatalf("expected cooldown suppression visible in simulation, got %+v", last)
	}
}

func TestSimulateEmptyInputs(t *testing.T) {
	t.Parallel()

	if events := Simulate(nil, nil); events != nil {
		t.Fatalf("expected nil for empty inputs, got %+v", events)
	}
}
