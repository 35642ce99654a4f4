package planchange

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ringline/billingkit/pkg/billing"
	"github.com/ringline/billingkit/pkg/plan"
	"github.com/ringline/billingkit/pkg/subscription"
)

// Result reports how a change request resolved: applied on the spot, or
// recorded as a pending change for the period boundary.
type Result struct {
	AppliedImmediately bool
	Subscription       *subscription.Subscription // post-change state when applied
	Pending            *PendingChange             // set when deferred
}

// Service is the plan-change state machine.
type Service struct {
	catalog  plan.Catalog
	subs     subscription.Store
	pending  Store
	provider billing.Provider
	locker   *subscription.Locker
	log      *slog.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger. Nil loggers are ignored.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates the plan-change service. All dependencies are required;
// the locker must be the instance shared with the reconciler and the ledger.
func NewService(catalog plan.Catalog, subs subscription.Store, pending Store, provider billing.Provider, locker *subscription.Locker, opts ...Option) *Service {
	if catalog == nil {
		panic("planchange: plan catalog is required")
	}
	if subs == nil {
		panic("planchange: subscription store is required")
	}
	if pending == nil {
		panic("planchange: pending change store is required")
	}
	if provider == nil {
		panic("planchange: billing provider is required")
	}
	if locker == nil {
		panic("planchange: locker is required")
	}

	s := &Service{
		catalog:  catalog,
		subs:     subs,
		pending:  pending,
		provider: provider,
		locker:   locker,
		log:      slog.New(slog.DiscardHandler),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestChange runs one transition request through the state machine.
//
// Upgrades (and monthly-to-yearly switches) charge through the processor and
// commit locally only on its success. Downgrades (and yearly-to-monthly
// switches) schedule with the processor and then record the pending change;
// the user keeps current plan features until the effective date. A request
// while another change is pending replaces it: the scheduled change is
// undone at the processor first, then the local row is superseded
// atomically.
func (s *Service) RequestChange(ctx context.Context, userID uuid.UUID, targetPlanID string, targetInterval plan.Interval) (*Result, error) {
	if !targetInterval.Valid() {
		return nil, ErrInvalidInterval
	}

	target, err := s.catalog.Get(ctx, targetPlanID)
	if err != nil {
		return nil, err
	}
	if !target.Active {
		return nil, errors.Join(ErrTargetNotOffered, plan.ErrPlanInactive)
	}
	if !target.IsFree() {
		if _, offered := target.Price(targetInterval); !offered {
			return nil, ErrTargetNotOffered
		}
	}

	unlock := s.locker.Lock(userID)
	defer unlock()

	sub, err := s.subs.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	current, err := s.catalog.Get(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}

	class, changeType := classify(current.Rank, target.Rank, sub.Interval, targetInterval, current.ID == target.ID)
	if class == classifyNoop {
		return nil, ErrAlreadyCurrent
	}

	// A live pending change must be undone at the processor before the
	// new request proceeds; if the undo fails nothing has changed locally
	// and the old pending change stays authoritative. If the undo succeeds
	// but the follow-up provider call fails, the old row stays live while
	// the processor no longer holds its schedule; the retried request (or a
	// CancelPendingChange) re-runs the idempotent cancel and converges.
	hadPending := false
	if _, err := s.pending.GetPending(ctx, userID); err == nil {
		hadPending = true
		if err := s.provider.CancelScheduledChange(ctx, sub.CustomerRef); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, ErrNoPendingChange) {
		return nil, err
	}

	req := billing.ChangeRequest{
		CustomerRef: sub.CustomerRef,
		UserID:      userID,
		PlanID:      target.ID,
		Interval:    targetInterval,
		Prorate:     true,
	}

	if class == classifyImmediate {
		return s.applyImmediate(ctx, sub, target, targetInterval, changeType, req, hadPending)
	}
	return s.deferToPeriodEnd(ctx, sub, target, targetInterval, changeType, req, hadPending)
}

// applyImmediate runs the upgrade path: processor first, local commit only
// on its confirmation.
func (s *Service) applyImmediate(ctx context.Context, sub *subscription.Subscription, target plan.Plan, targetInterval plan.Interval, changeType ChangeType, req billing.ChangeRequest, hadPending bool) (*Result, error) {
	conf, err := s.provider.CreateOrUpdateSubscription(ctx, req)
	if err != nil {
		return nil, err
	}

	now := s.now()
	sub.PlanID = target.ID
	sub.Interval = targetInterval
	sub.Status = subscription.StatusActive
	if conf.CustomerRef != "" {
		sub.CustomerRef = conf.CustomerRef
	}
	if !conf.PeriodStart.IsZero() && !conf.PeriodEnd.IsZero() {
		sub.PeriodStart, sub.PeriodEnd = conf.PeriodStart, conf.PeriodEnd
	} else {
		// Processor did not report period bounds synchronously; anchor
		// the new period at now and let its webhook correct any drift.
		sub.PeriodStart = now
		sub.PeriodEnd = subscription.AdvancePeriod(now, targetInterval)
	}
	if conf.OccurredAt.After(sub.StateTimestamp) {
		sub.StateTimestamp = conf.OccurredAt
	}

	if err := s.subs.Update(ctx, sub); err != nil {
		return nil, err
	}
	if hadPending {
		if err := s.pending.ClosePending(ctx, sub.UserID, StatusCancelled, now); err != nil && !errors.Is(err, ErrNoPendingChange) {
			return nil, err
		}
	}

	s.log.InfoContext(ctx, "plan change applied immediately",
		"user_id", sub.UserID,
		"plan_id", target.ID,
		"interval", targetInterval,
		"change_type", changeType,
	)
	return &Result{AppliedImmediately: true, Subscription: sub}, nil
}

// deferToPeriodEnd runs the downgrade path: schedule with the processor,
// then record the pending change locally.
func (s *Service) deferToPeriodEnd(ctx context.Context, sub *subscription.Subscription, target plan.Plan, targetInterval plan.Interval, changeType ChangeType, req billing.ChangeRequest, hadPending bool) (*Result, error) {
	req.Prorate = false
	if err := s.provider.ScheduleChangeAtPeriodEnd(ctx, req); err != nil {
		return nil, err
	}

	change := &PendingChange{
		UserID:         sub.UserID,
		TargetPlanID:   target.ID,
		TargetInterval: targetInterval,
		Type:           changeType,
		EffectiveDate:  sub.PeriodEnd,
		Status:         StatusPending,
		RequestedAt:    s.now(),
	}
	if err := s.pending.ReplacePending(ctx, change); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "plan change deferred to period end",
		"user_id", sub.UserID,
		"plan_id", target.ID,
		"interval", targetInterval,
		"change_type", changeType,
		"effective_date", change.EffectiveDate,
		"replaced_pending", hadPending,
	)
	return &Result{Pending: change}, nil
}

// CancelPendingChange undoes the user's pending change. The processor's
// scheduled change is cancelled first; the local row is only cleared once
// that succeeds, so local state never claims "no pending change" while the
// processor still holds one.
func (s *Service) CancelPendingChange(ctx context.Context, userID uuid.UUID) error {
	unlock := s.locker.Lock(userID)
	defer unlock()

	if _, err := s.pending.GetPending(ctx, userID); err != nil {
		return err
	}
	sub, err := s.subs.Get(ctx, userID)
	if err != nil {
		return err
	}

	if err := s.provider.CancelScheduledChange(ctx, sub.CustomerRef); err != nil {
		return err
	}
	return s.pending.ClosePending(ctx, userID, StatusCancelled, s.now())
}

// PendingFor returns the user's live pending change, or ErrNoPendingChange.
func (s *Service) PendingFor(ctx context.Context, userID uuid.UUID) (*PendingChange, error) {
	return s.pending.GetPending(ctx, userID)
}
