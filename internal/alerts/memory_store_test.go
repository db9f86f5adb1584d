package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"zonealert/internal/domain"
)

func storedAlert(id, fingerprint string, state domain.AlertState) domain.Alert {
	return domain.Alert{
		ID:          id,
		Fingerprint: fingerprint,
		RuleID:      "temp_high",
		RuleName:    "Temperature high",
		Priority:    domain.PriorityHigh,
		State:       state,
		WarehouseID: "wh-1",
		ZoneID:      "cold-1",
		Title:       "Temperature high",
		Message:     "temperature_c > 30",
		TriggeredAt: time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC),
		LastSeenAt:  time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC),
	}
}

func TestMemoryStoreCreateAndGet(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	revision, err := store.Create(ctx, storedAlert("a-1", "fp-1", domain.AlertStateCreated))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if revision != 1 {
		t.Fatalf("initial revision = %d, want 1", revision)
	}

	alert, gotRevision, err := store.Get(ctx, "a-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if gotRevision != revision {
		t.Fatalf("get revision = %d, want %d", gotRevision, revision)
	}
	if alert.Fingerprint != "fp-1" || alert.State != domain.AlertStateCreated {
		t.Fatalf("unexpected alert: %+v", alert)
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	if _, _, err := store.Get(context.Background(), "absent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get missing: %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreOpenIndexClaim(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Create(ctx, storedAlert("a-1", "fp-1", domain.AlertStateCreated)); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := store.Create(ctx, storedAlert("a-2", "fp-1", domain.AlertStateCreated)); !errors.Is(err, ErrOpenExists) {
		t.Fatalf("second open create: %v, want ErrOpenExists", err)
	}

	open, _, err := store.GetOpenByFingerprint(ctx, "fp-1")
	if err != nil {
		t.Fatalf("open lookup: %v", err)
	}
	if open.ID != "a-1" {
		t.Fatalf("open alert id = %s, want a-1", open.ID)
	}
}

func TestMemoryStoreResolvedSkipsOpenIndex(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	resolved := storedAlert("a-1", "fp-1", domain.AlertStateResolved)
	if _, err := store.Create(ctx, resolved); err != nil {
		t.Fatalf("create resolved: %v", err)
	}
	if _, _, err := store.GetOpenByFingerprint(ctx, "fp-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("open lookup after resolved create: %v, want ErrNotFound", err)
	}

	// A new open alert on the same fingerprint is allowed.
	if _, err := store.Create(ctx, storedAlert("a-2", "fp-1", domain.AlertStateCreated)); err != nil {
		t.Fatalf("create after resolved: %v", err)
	}
}

func TestMemoryStoreUpdateCAS(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	alert := storedAlert("a-1", "fp-1", domain.AlertStateCreated)
	revision, err := store.Create(ctx, alert)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	alert.State = domain.AlertStateAcknowledged
	next, err := store.Update(ctx, revision, alert)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if next != revision+1 {
		t.Fatalf("revision after update = %d, want %d", next, revision+1)
	}

	// Stale revision is rejected.
	if _, err := store.Update(ctx, revision, alert); !errors.Is(err, ErrConflict) {
		t.Fatalf("stale update: %v, want ErrConflict", err)
	}

	alert.ID = "ghost"
	if _, err := store.Update(ctx, next, alert); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update missing: %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreResolveReleasesOpenIndex(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	alert := storedAlert("a-1", "fp-1", domain.AlertStateCreated)
	revision, err := store.Create(ctx, alert)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	resolvedAt := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	alert.State = domain.AlertStateResolved
	alert.ResolvedAt = &resolvedAt
	if _, err := store.Update(ctx, revision, alert); err != nil {
		t.Fatalf("resolve update: %v", err)
	}

	if _, _, err := store.GetOpenByFingerprint(ctx, "fp-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("open lookup after resolve: %v, want ErrNotFound", err)
	}
	if _, err := store.Create(ctx, storedAlert("a-2", "fp-1", domain.AlertStateCreated)); err != nil {
		t.Fatalf("create after slot release: %v", err)
	}
}

func TestMemoryStoreListReturnsCopies(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	original := storedAlert("a-1", "fp-1", domain.AlertStateCreated)
	original.Metadata = map[string]string{"metric_field": "temperature_c"}
	if _, err := store.Create(ctx, original); err != nil {
		t.Fatalf("create: %v", err)
	}

	listed, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("list length = %d, want 1", len(listed))
	}

	// Mutating the listed copy must not leak into the store.
	listed[0].Metadata["metric_field"] = "humidity_pct"
	stored, _, err := store.Get(ctx, "a-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Metadata["metric_field"] != "temperature_c" {
		t.Fatalf("stored metadata mutated: %v", stored.Metadata)
	}
}
