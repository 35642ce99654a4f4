package planchange

import (
	"time"

	"github.com/google/uuid"

	"github.com/ringline/billingkit/pkg/plan"
)

// ChangeType classifies a plan transition.
type ChangeType string

const (
	ChangeUpgrade        ChangeType = "upgrade"
	ChangeDowngrade      ChangeType = "downgrade"
	ChangeIntervalSwitch ChangeType = "interval_switch"
)

// ChangeStatus is the lifecycle of a pending change record.
type ChangeStatus string

const (
	StatusPending   ChangeStatus = "pending"
	StatusCompleted ChangeStatus = "completed"
	StatusCancelled ChangeStatus = "cancelled"
	StatusFailed    ChangeStatus = "failed"
)

// PendingChange is a deferred plan transition waiting for its effective
// date. At most one per user is live (status pending) at any time; the store
// enforces it.
type PendingChange struct {
	UserID         uuid.UUID
	TargetPlanID   string
	TargetInterval plan.Interval
	Type           ChangeType
	EffectiveDate  time.Time
	Status         ChangeStatus
	RequestedAt    time.Time
}

// Due reports whether the change should take effect at the given time.
func (c *PendingChange) Due(now time.Time) bool {
	return !now.Before(c.EffectiveDate)
}

// classification is what the state machine decided for one request.
type classification int

const (
	classifyNoop classification = iota
	classifyImmediate
	classifyDeferred
)

// classify applies the transition rules. Rank comparison decides up or down;
// interval-only moves at equal rank go immediate toward yearly (the user
// commits to more) and deferred toward monthly (the user winds down, keeps
// what was paid for until period end).
func classify(currentRank, targetRank int, currentInterval, targetInterval plan.Interval, samePlan bool) (classification, ChangeType) {
	switch {
	case samePlan && currentInterval == targetInterval:
		return classifyNoop, ""
	case targetRank > currentRank:
		return classifyImmediate, ChangeUpgrade
	case targetRank < currentRank:
		return classifyDeferred, ChangeDowngrade
	case targetInterval == plan.IntervalYearly:
		return classifyImmediate, ChangeIntervalSwitch
	default:
		return classifyDeferred, ChangeIntervalSwitch
	}
}
