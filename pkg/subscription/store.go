package subscription

import (
	"context"

	"github.com/google/uuid"
)

// Store persists the one-row-per-user subscription state.
//
// Update is a compare-and-set: the caller passes the row as read (including
// its Version), the store persists it with Version+1, and returns
// ErrVersionConflict if someone else committed in between. Combined with the
// per-user Locker this makes lost updates unreachable rather than unlikely.
type Store interface {
	// Get returns the user's subscription row, or ErrNotFound.
	Get(ctx context.Context, userID uuid.UUID) (*Subscription, error)

	// Create inserts the signup row. Returns ErrAlreadyExists if the user
	// already has one.
	Create(ctx context.Context, sub *Subscription) error

	// Update persists a mutation. sub.Version must equal the stored
	// version; on success the stored row and sub carry Version+1.
	Update(ctx context.Context, sub *Subscription) error
}
