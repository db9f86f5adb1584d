package engine

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"strings"

	"zonealert/internal/config"
	"zonealert/internal/domain"
)

// Fingerprint is the derived incident identity for one rule and location.
// Params: rule id plus snapshot scope dimensions.
// Returns: stable identity grouping occurrences of the same incident.
type Fingerprint struct {
	RuleID      string
	WarehouseID string
	ZoneID      string
	ShiftCode   string
}

// BuildFingerprint derives the incident identity for a rule/snapshot pair.
// Params: rule and in-scope snapshot.
// Returns: fingerprint or error on missing identity inputs.
func BuildFingerprint(rule config.AlertRule, snapshot domain.MetricSnapshot) (Fingerprint, error) {
	if strings.TrimSpace(rule.ID) == "" {
		return Fingerprint{}, errors.New("rule id is required")
	}
	if strings.TrimSpace(snapshot.WarehouseID) == "" {
		return Fingerprint{}, errors.New("snapshot warehouse id is required")
	}
	return Fingerprint{
		RuleID:      rule.ID,
		WarehouseID: snapshot.WarehouseID,
		ZoneID:      snapshot.ZoneID,
		ShiftCode:   snapshot.ShiftCode,
	}, nil
}

// Key serializes the fingerprint to its stable string form.
// Params: none.
// Returns: formatted key in the rule/ namespace.
func (f Fingerprint) Key() string {
	canonical := make([]byte, 0, 64)
	canonical = append(canonical, "warehouse="...)
	canonical = append(canonical, f.WarehouseID...)
	canonical = append(canonical, "\nzone="...)
	canonical = append(canonical, f.ZoneID...)
	canonical = append(canonical, "\nshift="...)
	canonical = append(canonical, f.ShiftCode...)
	digest := sha1.Sum(canonical)
	var hashValue [sha1.Size * 2]byte
	hex.Encode(hashValue[:], digest[:])

	ruleID := sanitize(f.RuleID)
	warehouse := sanitize(f.WarehouseID)
	var builder strings.Builder
	builder.Grow(len("rule/") + len(ruleID) + len(warehouse) + len(hashValue) + 2)
	builder.WriteString("rule/")
	builder.WriteString(ruleID)
	builder.WriteByte('/')
	builder.WriteString(warehouse)
	builder.WriteByte('/')
	builder.Write(hashValue[:])
	return builder.String()
}

// sanitize converts key path fragments into stable bucket-safe tokens.
// Params: raw value with possible separators.
// Returns: sanitized string with unsupported chars replaced by underscore.
func sanitize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "_"
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + 32)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
