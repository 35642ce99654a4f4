package reconcile

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one append-only audit record of a handled provider event.
type Entry struct {
	ExternalID  string
	EventType   string
	UserID      uuid.UUID
	Payload     json.RawMessage
	Outcome     Status
	ProcessedAt time.Time
}

// AuditLog is the idempotency boundary: external event IDs are unique across
// all time, and Record must refuse an ID it has seen before.
type AuditLog interface {
	// Seen reports whether the external ID was already recorded.
	Seen(ctx context.Context, externalID string) (bool, error)

	// Record appends an entry. Returns ErrDuplicateEvent if the external
	// ID is already present.
	Record(ctx context.Context, entry Entry) error
}

// memoryAudit is the in-memory AuditLog for tests and single-node setups.
type memoryAudit struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryAuditLog returns an empty in-memory AuditLog.
func NewMemoryAuditLog() AuditLog {
	return &memoryAudit{entries: make(map[string]Entry)}
}

func (a *memoryAudit) Seen(ctx context.Context, externalID string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, seen := a.entries[externalID]
	return seen, nil
}

func (a *memoryAudit) Record(ctx context.Context, entry Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, seen := a.entries[entry.ExternalID]; seen {
		return ErrDuplicateEvent
	}
	a.entries[entry.ExternalID] = entry
	return nil
}
