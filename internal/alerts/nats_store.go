package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"zonealert/internal/config"
	"zonealert/internal/domain"
)

// NATSStore persists alerts in JetStream KV buckets.
// The alerts bucket holds full records keyed by alert id; the open-index
// bucket maps fingerprint keys to the id of the currently open incident.
// Params: NATS connection and KV bucket handles.
// Returns: KV-backed store implementation.
type NATSStore struct {
	nc       *nats.Conn
	alertsKV nats.KeyValue
	indexKV  nats.KeyValue
}

// NewNATSStore connects and opens (or creates) the KV buckets.
// Params: NATS state settings from config.
// Returns: initialized store or setup error.
func NewNATSStore(settings config.NATSStateConfig) (*NATSStore, error) {
	nc, err := nats.Connect(settings.URL)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	alertsKV, err := openBucket(js, settings.AlertsBucket, settings.AllowCreateBuckets)
	if err != nil {
		nc.Close()
		return nil, err
	}
	indexKV, err := openBucket(js, settings.OpenIndexBucket, settings.AllowCreateBuckets)
	if err != nil {
		nc.Close()
		return nil, err
	}

	return &NATSStore{nc: nc, alertsKV: alertsKV, indexKV: indexKV}, nil
}

// openBucket opens one KV bucket, creating it when policy allows.
// Params: JetStream context, bucket name, and creation policy.
// Returns: bucket handle or error.
func openBucket(js nats.JetStreamContext, bucket string, allowCreate bool) (nats.KeyValue, error) {
	kv, err := js.KeyValue(bucket)
	if err == nil {
		return kv, nil
	}
	if !allowCreate {
		return nil, fmt.Errorf("open bucket %q: %w", bucket, err)
	}
	kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: bucket})
	if err != nil {
		return nil, fmt.Errorf("create bucket %q: %w", bucket, err)
	}
	return kv, nil
}

// Get reads one alert and its KV revision.
// Params: alert id.
// Returns: alert, revision, or ErrNotFound.
func (s *NATSStore) Get(_ context.Context, alertID string) (domain.Alert, uint64, error) {
	entry, err := s.alertsKV.Get(alertID)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return domain.Alert{}, 0, ErrNotFound
		}
		return domain.Alert{}, 0, fmt.Errorf("get alert: %w", err)
	}

	var alert domain.Alert
	if err := json.Unmarshal(entry.Value(), &alert); err != nil {
		return domain.Alert{}, 0, fmt.Errorf("decode alert: %w", err)
	}
	return alert, entry.Revision(), nil
}

// Create stores a new alert and claims its fingerprint's open slot.
// The index claim goes first: a concurrent creator loses on the KV
// create race and reports ErrOpenExists.
// Params: alert with a fresh id.
// Returns: initial revision or ErrOpenExists.
func (s *NATSStore) Create(_ context.Context, alert domain.Alert) (uint64, error) {
	claimed := false
	if alert.IsOpen() {
		if _, err := s.indexKV.Create(alert.Fingerprint, []byte(alert.ID)); err != nil {
			if errors.Is(err, nats.ErrKeyExists) {
				return 0, ErrOpenExists
			}
			return 0, fmt.Errorf("claim open index: %w", err)
		}
		claimed = true
	}

	revision, err := s.writeNewAlert(alert)
	if err != nil && claimed {
		// Release the claim so the fingerprint is not permanently
		// blocked by an alert record that was never written.
		_ = s.indexKV.Delete(alert.Fingerprint)
	}
	return revision, err
}

// writeNewAlert encodes and creates the alert record.
func (s *NATSStore) writeNewAlert(alert domain.Alert) (uint64, error) {
	body, err := json.Marshal(alert)
	if err != nil {
		return 0, fmt.Errorf("encode alert: %w", err)
	}
	revision, err := s.alertsKV.Create(alert.ID, body)
	if err != nil {
		return 0, fmt.Errorf("create alert: %w", err)
	}
	return revision, nil
}

// Update replaces an alert using expected revision CAS and maintains
// the open index for state transitions.
// Params: expected revision and replacement alert.
// Returns: new revision or ErrConflict.
func (s *NATSStore) Update(_ context.Context, expectedRevision uint64, alert domain.Alert) (uint64, error) {
	body, err := json.Marshal(alert)
	if err != nil {
		return 0, fmt.Errorf("encode alert: %w", err)
	}
	revision, err := s.alertsKV.Update(alert.ID, body, expectedRevision)
	if err != nil {
		if errors.Is(err, nats.ErrKeyExists) || strings.Contains(strings.ToLower(err.Error()), "wrong last sequence") {
			return 0, ErrConflict
		}
		return 0, fmt.Errorf("update alert: %w", err)
	}

	if alert.IsOpen() {
		if _, err := s.indexKV.Put(alert.Fingerprint, []byte(alert.ID)); err != nil {
			return 0, fmt.Errorf("update open index: %w", err)
		}
		return revision, nil
	}
	entry, err := s.indexKV.Get(alert.Fingerprint)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return revision, nil
		}
		return 0, fmt.Errorf("read open index: %w", err)
	}
	if string(entry.Value()) == alert.ID {
		if err := s.indexKV.Delete(alert.Fingerprint); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
			return 0, fmt.Errorf("release open index: %w", err)
		}
	}
	return revision, nil
}

// GetOpenByFingerprint resolves the open alert through the index bucket.
// Params: fingerprint key.
// Returns: alert, revision, or ErrNotFound.
func (s *NATSStore) GetOpenByFingerprint(ctx context.Context, fingerprint string) (domain.Alert, uint64, error) {
	entry, err := s.indexKV.Get(fingerprint)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return domain.Alert{}, 0, ErrNotFound
		}
		return domain.Alert{}, 0, fmt.Errorf("get open index: %w", err)
	}
	return s.Get(ctx, string(entry.Value()))
}

// List reads every alert from the alerts bucket.
// Full-bucket listing is acceptable at facility alert volumes; the query
// surface paginates after filtering.
// Params: none.
// Returns: decoded alerts or listing error.
func (s *NATSStore) List(ctx context.Context) ([]domain.Alert, error) {
	keys, err := s.alertsKV.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list alerts: %w", err)
	}

	out := make([]domain.Alert, 0, len(keys))
	for _, key := range keys {
		alert, _, err := s.Get(ctx, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, alert)
	}
	return out, nil
}

// Close closes the underlying NATS connection.
// Params: none.
// Returns: nil after connection close.
func (s *NATSStore) Close() error {
	s.nc.Close()
	return nil
}
