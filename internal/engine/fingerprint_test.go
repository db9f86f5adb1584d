package engine

import (
	"strings"
	"testing"
	"time"

	"zonealert/internal/config"
	"zonealert/internal/domain"
)

func TestFingerprintKeyStability(t *testing.T) {
	t.Parallel()

	rule := config.AlertRule{ID: "Temp HIGH"}
	snapshot := domain.MetricSnapshot{
		WarehouseID: "WH-1",
		ZoneID:      "cold/storage",
		ShiftCode:   "night",
		At:          time.Now(),
	}

	first, err := BuildFingerprint(rule, snapshot)
	if err != nil {
		t.Fatalf("build fingerprint: %v", err)
	}
	second, _ := BuildFingerprint(rule, snapshot)
	if first.Key() != second.Key() {
		t.Fatalf("expected identical inputs to map to the same key")
	}
	if !strings.HasPrefix(first.Key(), "rule/temp_high/wh-1/") {
		t.Fatalf("unexpected key shape: %s", first.Key())
	}
}

func TestFingerprintKeyDistinguishesScope(t *testing.T) {
	t.Parallel()

	rule := config.AlertRule{ID: "r1"}
	base := domain.MetricSnapshot{WarehouseID: "wh-1", ZoneID: "z1", ShiftCode: "day"}

	baseFP, _ := BuildFingerprint(rule, base)
	variants := []domain.MetricSnapshot{
		{WarehouseID: "wh-2", ZoneID: "z1", ShiftCode: "day"},
		{WarehouseID: "wh-1", ZoneID: "z2", ShiftCode: "day"},
		{WarehouseID: "wh-1", ZoneID: "z1", ShiftCode: "night"},
	}
	for index, variant := range variants {
		variantFP, err := BuildFingerprint(rule, variant)
		if err != nil {
			t.Fatalf("variant %d: %v", index, err)
		}
		if variantFP.Key() == baseFP.Key() {
			t.Fatalf("variant %d: expected distinct key", index)
		}
	}
}

func TestBuildFingerprintRequiresIdentity(t *testing.T) {
	t.Parallel()

	if _, err := BuildFingerprint(config.AlertRule{}, domain.MetricSnapshot{WarehouseID: "wh-1"}); err == nil {
		t.Fatalf("expected error without rule id")
	}
	if _, err := BuildFingerprint(config.AlertRule{ID: "r1"}, domain.MetricSnapshot{}); err == nil {
		t.Fatalf("expected error without warehouse id")
	}
}
