package alerts

import (
	"context"
	"errors"

	"zonealert/internal/domain"
)

var (
	// ErrNotFound indicates an absent alert id or fingerprint index entry.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates revision mismatch for CAS update.
	ErrConflict = errors.New("revision conflict")
	// ErrOpenExists indicates the fingerprint already has an open alert.
	ErrOpenExists = errors.New("open alert exists for fingerprint")
)

// Store provides alert persistence with open-fingerprint indexing.
// Params: CRUD plus open-incident lookup keyed by fingerprint.
// Returns: backend persistence behavior; implementations maintain the
// open-fingerprint index through Create/Update state changes.
type Store interface {
	Get(ctx context.Context, alertID string) (domain.Alert, uint64, error)
	Create(ctx context.Context, alert domain.Alert) (uint64, error)
	Update(ctx context.Context, expectedRevision uint64, alert domain.Alert) (uint64, error)
	GetOpenByFingerprint(ctx context.Context, fingerprint string) (domain.Alert, uint64, error)
	List(ctx context.Context) ([]domain.Alert, error)
	Close() error
}
