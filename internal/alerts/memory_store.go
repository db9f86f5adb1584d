package alerts

import (
	"context"
	"fmt"
	"sync"

	"zonealert/internal/domain"
)

// MemoryStore keeps alerts in process memory for single-instance mode.
// Params: in-memory alert map and open-fingerprint index.
// Returns: store implementation without external dependencies.
type MemoryStore struct {
	mu       sync.RWMutex
	alerts   map[string]memoryAlert
	openByFP map[string]string
}

type memoryAlert struct {
	alert    domain.Alert
	revision uint64
}

// NewMemoryStore creates an empty in-memory alert store.
// Params: none.
// Returns: initialized store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts:   make(map[string]memoryAlert),
		openByFP: make(map[string]string),
	}
}

// Get returns one alert and its revision.
// Params: alert id.
// Returns: alert copy, revision, or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, alertID string) (domain.Alert, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.alerts[alertID]
	if !ok {
		return domain.Alert{}, 0, ErrNotFound
	}
	return entry.alert.Clone(), entry.revision, nil
}

// Create stores a new alert and claims its fingerprint's open slot.
// Params: alert with a fresh id.
// Returns: initial revision, ErrOpenExists when the slot is taken.
func (s *MemoryStore) Create(_ context.Context, alert domain.Alert) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.alerts[alert.ID]; exists {
		return 0, fmt.Errorf("alert %s already stored", alert.ID)
	}
	if alert.IsOpen() {
		if _, taken := s.openByFP[alert.Fingerprint]; taken {
			return 0, ErrOpenExists
		}
		s.openByFP[alert.Fingerprint] = alert.ID
	}
	s.alerts[alert.ID] = memoryAlert{alert: alert.Clone(), revision: 1}
	return 1, nil
}

// Update replaces an alert using expected revision CAS.
// Params: expected revision and replacement alert.
// Returns: new revision or ErrConflict/ErrNotFound.
func (s *MemoryStore) Update(_ context.Context, expectedRevision uint64, alert domain.Alert) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.alerts[alert.ID]
	if !ok {
		return 0, ErrNotFound
	}
	if entry.revision != expectedRevision {
		return 0, ErrConflict
	}

	revision := entry.revision + 1
	s.alerts[alert.ID] = memoryAlert{alert: alert.Clone(), revision: revision}

	if alert.IsOpen() {
		s.openByFP[alert.Fingerprint] = alert.ID
	} else if current, indexed := s.openByFP[alert.Fingerprint]; indexed && current == alert.ID {
		delete(s.openByFP, alert.Fingerprint)
	}
	return revision, nil
}

// GetOpenByFingerprint returns the open alert for one fingerprint.
// Params: fingerprint key.
// Returns: alert copy, revision, or ErrNotFound.
func (s *MemoryStore) GetOpenByFingerprint(_ context.Context, fingerprint string) (domain.Alert, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alertID, ok := s.openByFP[fingerprint]
	if !ok {
		return domain.Alert{}, 0, ErrNotFound
	}
	entry, ok := s.alerts[alertID]
	if !ok {
		return domain.Alert{}, 0, ErrNotFound
	}
	return entry.alert.Clone(), entry.revision, nil
}

// List returns all stored alerts.
// Params: none.
// Returns: detached alert copies in unspecified order.
func (s *MemoryStore) List(_ context.Context) ([]domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Alert, 0, len(s.alerts))
	for _, entry := range s.alerts {
		out = append(out, entry.alert.Clone())
	}
	return out, nil
}

// Close releases nothing for the in-memory store.
// Params: none.
// Returns: nil.
func (s *MemoryStore) Close() error {
	return nil
}
