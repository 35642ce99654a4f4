package view

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ringline/billingkit/pkg/plan"
	"github.com/ringline/billingkit/pkg/planchange"
	"github.com/ringline/billingkit/pkg/subscription"
	"github.com/ringline/billingkit/pkg/usage"
)

// FeatureUsage is one metered feature's consumption within the current
// billing period.
type FeatureUsage struct {
	Used        int64      `json:"used"`
	Limit       plan.Limit `json:"limit"`
	Remaining   int64      `json:"remaining"`
	UsedPercent int        `json:"used_percent"`
	Unlimited   bool       `json:"unlimited"`
}

// PendingSummary describes a scheduled plan change awaiting its effective
// date.
type PendingSummary struct {
	TargetPlan    plan.Plan             `json:"target_plan"`
	Interval      plan.Interval         `json:"interval"`
	Type          planchange.ChangeType `json:"type"`
	EffectiveDate time.Time             `json:"effective_date"`
	RequestedAt   time.Time             `json:"requested_at"`
}

// View is the complete subscription read model for one user. Plan is always
// the effective plan granting access right now; a pending change never
// shadows it.
type View struct {
	UserID      uuid.UUID                     `json:"user_id"`
	Plan        plan.Plan                     `json:"plan"`
	Status      subscription.Status           `json:"status"`
	Interval    plan.Interval                 `json:"interval"`
	PeriodStart time.Time                     `json:"period_start"`
	PeriodEnd   time.Time                     `json:"period_end"`
	Usage       map[plan.Feature]FeatureUsage `json:"usage"`
	Pending     *PendingSummary               `json:"pending_change,omitempty"`
}

// Service composes subscription state, the plan catalog, the usage ledger,
// and the pending-change store into the read model.
type Service struct {
	catalog plan.Catalog
	subs    subscription.Store
	pending planchange.Store
	ledger  *usage.Ledger
}

// NewService creates the query facade.
func NewService(catalog plan.Catalog, subs subscription.Store, pending planchange.Store, ledger *usage.Ledger) *Service {
	if catalog == nil {
		panic("view: plan catalog is required")
	}
	if subs == nil {
		panic("view: subscription store is required")
	}
	if pending == nil {
		panic("view: pending change store is required")
	}
	if ledger == nil {
		panic("view: usage ledger is required")
	}
	return &Service{catalog: catalog, subs: subs, pending: pending, ledger: ledger}
}

// SubscriptionView returns the read model for one user. The usage period is
// rolled forward first if it lapsed without a renewal event, so the returned
// counters always belong to the current period.
func (s *Service) SubscriptionView(ctx context.Context, userID uuid.UUID) (*View, error) {
	if err := s.ledger.RolloverIfNeeded(ctx, userID); err != nil {
		return nil, err
	}

	sub, err := s.subs.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	current, err := s.catalog.Get(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}

	used, err := s.ledger.CurrentUsage(ctx, userID)
	if err != nil {
		return nil, err
	}
	usageByFeature := make(map[plan.Feature]FeatureUsage, len(plan.Features()))
	for _, f := range plan.Features() {
		q := usage.Quota{Used: used[f], Limit: current.Limit(f)}
		usageByFeature[f] = FeatureUsage{
			Used:        q.Used,
			Limit:       q.Limit,
			Remaining:   q.RemainingForDisplay(),
			UsedPercent: q.UsedPercent(),
			Unlimited:   q.Limit.IsUnlimited(),
		}
	}

	v := &View{
		UserID:      sub.UserID,
		Plan:        current,
		Status:      sub.Status,
		Interval:    sub.Interval,
		PeriodStart: sub.PeriodStart,
		PeriodEnd:   sub.PeriodEnd,
		Usage:       usageByFeature,
	}

	change, err := s.pending.GetPending(ctx, userID)
	switch {
	case err == nil:
		target, err := s.catalog.Get(ctx, change.TargetPlanID)
		if err != nil {
			return nil, err
		}
		v.Pending = &PendingSummary{
			TargetPlan:    target,
			Interval:      change.TargetInterval,
			Type:          change.Type,
			EffectiveDate: change.EffectiveDate,
			RequestedAt:   change.RequestedAt,
		}
	case !errors.Is(err, planchange.ErrNoPendingChange):
		return nil, err
	}

	return v, nil
}

// ComparePlans returns the capability and limit differences between the
// user's current plan and a prospective target, for upgrade or downgrade
// confirmation screens.
func (s *Service) ComparePlans(ctx context.Context, userID uuid.UUID, targetPlanID string) (plan.Comparison, error) {
	sub, err := s.subs.Get(ctx, userID)
	if err != nil {
		return plan.Comparison{}, err
	}
	current, err := s.catalog.Get(ctx, sub.PlanID)
	if err != nil {
		return plan.Comparison{}, err
	}
	target, err := s.catalog.Get(ctx, targetPlanID)
	if err != nil {
		return plan.Comparison{}, err
	}
	return plan.Compare(current, target), nil
}
