package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// MetricSnapshot carries one evaluation-time view of a zone/shift's metrics.
// Params: facility scope keys, capture timestamp, and numeric field values.
// Returns: unit consumed by the rule engine per evaluation cycle.
type MetricSnapshot struct {
	WarehouseID string             `json:"warehouse_id"`
	ZoneID      string             `json:"zone_id,omitempty"`
	ShiftCode   string             `json:"shift_code,omitempty"`
	At          time.Time          `json:"at"`
	Fields      map[string]float64 `json:"fields"`
}

// ScopeKey builds the buffer key grouping snapshots by location and shift.
// Params: none.
// Returns: warehouse/zone/shift composite key.
func (s MetricSnapshot) ScopeKey() string {
	return s.WarehouseID + "/" + s.ZoneID + "/" + s.ShiftCode
}

// Field reads one metric value by name.
// Params: metric field key.
// Returns: value and presence flag; NaN values are reported absent.
func (s MetricSnapshot) Field(name string) (float64, bool) {
	value, ok := s.Fields[name]
	if !ok || math.IsNaN(value) {
		return 0, false
	}
	return value, true
}

// DecodeSnapshot parses and validates one snapshot payload.
// Params: raw JSON body.
// Returns: validated snapshot or decode/validation error.
func DecodeSnapshot(raw []byte) (MetricSnapshot, error) {
	var snapshot MetricSnapshot
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&snapshot); err != nil {
		return MetricSnapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if err := snapshot.Validate(); err != nil {
		return MetricSnapshot{}, err
	}
	return snapshot, nil
}

// DecodeSnapshotBatch parses one payload holding either a snapshot or an array.
// Params: raw JSON body.
// Returns: validated snapshot list or decode/validation error.
func DecodeSnapshotBatch(raw []byte) ([]MetricSnapshot, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var snapshots []MetricSnapshot
		if err := json.Unmarshal(raw, &snapshots); err != nil {
			return nil, fmt.Errorf("decode snapshot batch: %w", err)
		}
		for index := range snapshots {
			if err := snapshots[index].Validate(); err != nil {
				return nil, fmt.Errorf("snapshot %d: %w", index, err)
			}
		}
		return snapshots, nil
	}
	snapshot, err := DecodeSnapshot(raw)
	if err != nil {
		return nil, err
	}
	return []MetricSnapshot{snapshot}, nil
}

// Validate checks required snapshot fields.
// Params: none.
// Returns: first validation error.
func (s MetricSnapshot) Validate() error {
	if strings.TrimSpace(s.WarehouseID) == "" {
		return errors.New("snapshot warehouse_id is required")
	}
	if s.At.IsZero() {
		return errors.New("snapshot timestamp is required")
	}
	if len(s.Fields) == 0 {
		return errors.New("snapshot fields are required")
	}
	for name, value := range s.Fields {
		if strings.TrimSpace(name) == "" {
			return errors.New("snapshot field name is empty")
		}
		if math.IsInf(value, 0) {
			return fmt.Errorf("snapshot field %q is not finite", name)
		}
	}
	return nil
}
