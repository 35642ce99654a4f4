package subscription

import (
	"time"

	"github.com/google/uuid"

	"github.com/ringline/billingkit/pkg/plan"
)

// FreePlanID is the catalog ID every user starts on and returns to when a
// paid subscription ends.
const FreePlanID = "free"

// Status is the lifecycle state of a subscription.
type Status string

const (
	StatusActive   Status = "active"
	StatusTrialing Status = "trialing"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
)

// Valid reports whether the status is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusTrialing, StatusPastDue, StatusCanceled:
		return true
	}
	return false
}

// Subscription is the single authoritative row per user. PlanID is the
// effective plan granting feature access right now, regardless of any
// pending change.
type Subscription struct {
	UserID      uuid.UUID
	PlanID      string
	Status      Status
	Interval    plan.Interval
	PeriodStart time.Time
	PeriodEnd   time.Time

	// CustomerRef is the payment processor's opaque customer identifier.
	// Empty until the user first touches a paid plan.
	CustomerRef string

	// Version increments on every committed mutation. Stores reject writes
	// whose expected version no longer matches (optimistic concurrency),
	// and the reconciler uses it to refuse stale provider events.
	Version int64

	// StateTimestamp is the provider-carried "effective as of" marker of
	// the last applied event. Events at or before this point are stale.
	StateTimestamp time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *Subscription) IsActive() bool   { return s.Status == StatusActive }
func (s *Subscription) IsPastDue() bool  { return s.Status == StatusPastDue }
func (s *Subscription) IsCanceled() bool { return s.Status == StatusCanceled }

// PeriodKey identifies the current billing period for usage counters. It is
// derived from the period start rather than the calendar month because
// interval switches change period length.
func (s *Subscription) PeriodKey() string {
	return PeriodKeyAt(s.PeriodStart)
}

// PeriodExpired reports whether now falls past the current period end.
func (s *Subscription) PeriodExpired(now time.Time) bool {
	return !now.Before(s.PeriodEnd)
}

// NextPeriod returns the bounds of the period following the current one,
// stepping by the billing interval. Used by lazy rollover when the processor
// has not delivered a renewal event yet.
func (s *Subscription) NextPeriod() (start, end time.Time) {
	start = s.PeriodEnd
	return start, AdvancePeriod(start, s.Interval)
}

// PeriodKeyAt derives a usage-counter period key from a period start.
func PeriodKeyAt(periodStart time.Time) string {
	return periodStart.UTC().Format("20060102T150405")
}

// AdvancePeriod returns the end bound of a period starting at start for the
// given interval.
func AdvancePeriod(start time.Time, interval plan.Interval) time.Time {
	if interval == plan.IntervalYearly {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}

// NewFree returns the row created at signup: free plan, monthly period
// anchored at now.
func NewFree(userID uuid.UUID, now time.Time) *Subscription {
	now = now.UTC()
	return &Subscription{
		UserID:         userID,
		PlanID:         FreePlanID,
		Status:         StatusActive,
		Interval:       plan.IntervalMonthly,
		PeriodStart:    now,
		PeriodEnd:      AdvancePeriod(now, plan.IntervalMonthly),
		StateTimestamp: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
