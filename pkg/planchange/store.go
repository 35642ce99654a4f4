package planchange

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists pending plan changes. Implementations must uphold the one
// live row per user invariant: ReplacePending closes any live row and
// inserts the new one as a single atomic operation, so two live pending
// changes can never coexist even under concurrent requests.
type Store interface {
	// GetPending returns the user's live pending change, or
	// ErrNoPendingChange.
	GetPending(ctx context.Context, userID uuid.UUID) (*PendingChange, error)

	// ReplacePending atomically supersedes any live pending change
	// (marking it cancelled) and records the new one as pending.
	ReplacePending(ctx context.Context, change *PendingChange) error

	// ClosePending transitions the live pending change to a terminal
	// status. Returns ErrNoPendingChange if none is live.
	ClosePending(ctx context.Context, userID uuid.UUID, status ChangeStatus, closedAt time.Time) error

	// History returns all change records for a user, newest first.
	History(ctx context.Context, userID uuid.UUID) ([]PendingChange, error)
}
