package usage

import (
	"context"

	"github.com/google/uuid"

	"github.com/ringline/billingkit/pkg/plan"
)

// CounterStore persists usage counters keyed by (userID, periodKey, feature).
// Implementations must make AddIfUnder atomic: the check against max and the
// increment happen as one operation, never as separate read and write steps.
type CounterStore interface {
	// Used returns the consumed units for one feature in one period.
	// Missing counters read as zero.
	Used(ctx context.Context, userID uuid.UUID, periodKey string, feature plan.Feature) (int64, error)

	// Add unconditionally increments a counter. Used for unlimited
	// features, where no ceiling check applies.
	Add(ctx context.Context, userID uuid.UUID, periodKey string, feature plan.Feature, amount int64) error

	// AddIfUnder increments the counter by amount only if the result stays
	// at or under max, and reports whether the increment was applied.
	AddIfUnder(ctx context.Context, userID uuid.UUID, periodKey string, feature plan.Feature, amount, max int64) (bool, error)

	// Sub decrements a counter, flooring at zero. Used for compensating
	// refunds when a side effect fails after quota was consumed.
	Sub(ctx context.Context, userID uuid.UUID, periodKey string, feature plan.Feature, amount int64) error

	// Snapshot returns all counters of one period. Missing features are
	// absent from the map and read as zero.
	Snapshot(ctx context.Context, userID uuid.UUID, periodKey string) (map[plan.Feature]int64, error)
}
