package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ringline/billingkit/pkg/billing"
	"github.com/ringline/billingkit/pkg/plan"
	"github.com/ringline/billingkit/pkg/planchange"
	"github.com/ringline/billingkit/pkg/subscription"
)

// Status is how one event resolved.
type Status string

const (
	// StatusApplied means the event mutated local state.
	StatusApplied Status = "applied"
	// StatusDuplicate means the external ID was seen before; no effect.
	StatusDuplicate Status = "duplicate"
	// StatusStale means the event predates already-applied state; recorded
	// and acknowledged, but a deliberate no-op.
	StatusStale Status = "stale"
)

// Outcome reports how Apply resolved an event.
type Outcome struct {
	Status Status
}

// Reconciler applies provider events to subscription state, the pending
// change record, and the usage period.
type Reconciler struct {
	subs    subscription.Store
	pending planchange.Store
	audit   AuditLog
	locker  *subscription.Locker
	log     *slog.Logger
	now     func() time.Time
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the reconciler logger. Nil loggers are ignored.
func WithLogger(log *slog.Logger) Option {
	return func(r *Reconciler) {
		if log != nil {
			r.log = log
		}
	}
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// New creates a Reconciler. The locker must be the instance shared with the
// plan-change service and the usage ledger.
func New(subs subscription.Store, pending planchange.Store, audit AuditLog, locker *subscription.Locker, opts ...Option) *Reconciler {
	if subs == nil {
		panic("reconcile: subscription store is required")
	}
	if pending == nil {
		panic("reconcile: pending change store is required")
	}
	if audit == nil {
		panic("reconcile: audit log is required")
	}
	if locker == nil {
		panic("reconcile: locker is required")
	}

	r := &Reconciler{
		subs:    subs,
		pending: pending,
		audit:   audit,
		locker:  locker,
		log:     slog.New(slog.DiscardHandler),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply processes one provider event. Redeliveries of an already-handled
// external ID resolve as duplicates with no effect; events older than the
// stored state resolve as stale no-ops. A returned error means the event was
// not handled and not recorded, so the provider's retry gets a clean attempt
// (after an integrity violation, a manual replay does).
func (r *Reconciler) Apply(ctx context.Context, event *billing.WebhookEvent) (Outcome, error) {
	if event.ExternalID == "" {
		return Outcome{}, ErrMissingExternalID
	}
	if !event.Type.Known() {
		r.log.ErrorContext(ctx, "unrecognized provider event",
			"external_event_id", event.ExternalID,
			"provider_event", event.ProviderEvent,
			"payload", string(event.Raw),
		)
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownEventType, event.ProviderEvent)
	}
	if event.UserID == uuid.Nil {
		r.log.ErrorContext(ctx, "provider event without user attribution",
			"external_event_id", event.ExternalID,
			"provider_event", event.ProviderEvent,
			"payload", string(event.Raw),
		)
		return Outcome{}, ErrUnknownUser
	}

	unlock := r.locker.Lock(event.UserID)
	defer unlock()

	seen, err := r.audit.Seen(ctx, event.ExternalID)
	if err != nil {
		return Outcome{}, err
	}
	if seen {
		r.log.DebugContext(ctx, "duplicate event ignored",
			"external_event_id", event.ExternalID,
			"user_id", event.UserID,
		)
		return Outcome{Status: StatusDuplicate}, nil
	}

	sub, err := r.subs.Get(ctx, event.UserID)
	if err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			r.log.ErrorContext(ctx, "event references unknown user",
				"external_event_id", event.ExternalID,
				"user_id", event.UserID,
				"payload", string(event.Raw),
			)
			return Outcome{}, errors.Join(ErrUnknownUser, err)
		}
		return Outcome{}, err
	}

	var status Status
	switch event.Type {
	case billing.EventSubscriptionUpdated, billing.EventPaymentSucceeded:
		status, err = r.applyUpdate(ctx, sub, event)
	case billing.EventBillingCycleRenewed:
		status, err = r.applyRenewal(ctx, sub, event)
	case billing.EventPaymentFailed:
		status, err = r.applyPaymentFailed(ctx, sub, event)
	case billing.EventSubscriptionCanceled:
		status, err = r.applyCanceled(ctx, sub, event)
	default:
		// Known() above makes this unreachable; keep the dispatch
		// exhaustive anyway.
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownEventType, event.Type)
	}
	if err != nil {
		return Outcome{}, err
	}

	entry := Entry{
		ExternalID:  event.ExternalID,
		EventType:   string(event.Type),
		UserID:      event.UserID,
		Payload:     event.Raw,
		Outcome:     status,
		ProcessedAt: r.now(),
	}
	if err := r.audit.Record(ctx, entry); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			// Another process recorded the ID between our Seen check
			// and now. The state mutation itself is idempotent (stale
			// guard + version CAS), so acknowledging as duplicate is
			// safe.
			return Outcome{Status: StatusDuplicate}, nil
		}
		return Outcome{}, err
	}

	r.log.InfoContext(ctx, "event reconciled",
		"external_event_id", event.ExternalID,
		"event_type", event.Type,
		"user_id", event.UserID,
		"outcome", status,
	)
	return Outcome{Status: status}, nil
}

// applyUpdate handles subscription.updated and payment_succeeded: the
// confirmation half of immediate upgrades, and any provider-side edits.
func (r *Reconciler) applyUpdate(ctx context.Context, sub *subscription.Subscription, event *billing.WebhookEvent) (Status, error) {
	if stale(sub, event) {
		return StatusStale, nil
	}

	if event.PlanID != "" {
		sub.PlanID = event.PlanID
	}
	if event.Interval.Valid() {
		sub.Interval = event.Interval
	}
	if mapped, ok := mapProviderStatus(event.Status); ok {
		sub.Status = mapped
	} else if event.Type == billing.EventPaymentSucceeded && sub.IsPastDue() {
		// A successful payment clears dunning even when the event
		// carries no explicit status.
		sub.Status = subscription.StatusActive
	}
	if event.PeriodStart != nil && event.PeriodEnd != nil {
		sub.PeriodStart, sub.PeriodEnd = *event.PeriodStart, *event.PeriodEnd
	}
	sub.StateTimestamp = event.OccurredAt

	if err := r.subs.Update(ctx, sub); err != nil {
		return "", err
	}
	return StatusApplied, nil
}

// renewalUpdateAttempts bounds the re-read/re-apply loop when the
// subscription update loses its version CAS to another process.
const renewalUpdateAttempts = 3

// applyRenewal handles billing_cycle_renewed: roll the usage period forward
// and, if a pending change has reached its effective date, make it the
// effective plan.
//
// Write order matters: the subscription row commits first, the pending row
// closes second. A failure between the two leaves the change live with its
// target already effective; completeRenewedChange closes that window when
// the redelivered event lands in the stale branch. The reverse order could
// mark a change completed without ever switching the plan.
func (r *Reconciler) applyRenewal(ctx context.Context, sub *subscription.Subscription, event *billing.WebhookEvent) (Status, error) {
	if stale(sub, event) {
		return r.completeRenewedChange(ctx, sub, event)
	}

	change, err := r.pending.GetPending(ctx, sub.UserID)
	if err != nil && !errors.Is(err, planchange.ErrNoPendingChange) {
		return "", err
	}
	due := err == nil && change.Due(event.OccurredAt)

	for attempt := 1; ; attempt++ {
		carriedBounds := event.PeriodStart != nil && event.PeriodEnd != nil
		if carriedBounds {
			sub.PeriodStart, sub.PeriodEnd = *event.PeriodStart, *event.PeriodEnd
		} else {
			for sub.PeriodExpired(event.OccurredAt) {
				sub.PeriodStart, sub.PeriodEnd = sub.NextPeriod()
			}
		}
		if due {
			sub.PlanID = change.TargetPlanID
			sub.Interval = change.TargetInterval
			if !carriedBounds {
				// The interval may have changed with the plan; the
				// locally advanced end bound has to follow it.
				sub.PeriodEnd = subscription.AdvancePeriod(sub.PeriodStart, sub.Interval)
			}
		}
		// A renewal implies the processor collected successfully.
		if !sub.IsCanceled() {
			sub.Status = subscription.StatusActive
		}
		sub.StateTimestamp = event.OccurredAt

		err := r.subs.Update(ctx, sub)
		if err == nil {
			break
		}
		if !errors.Is(err, subscription.ErrVersionConflict) || attempt == renewalUpdateAttempts {
			return "", err
		}
		// Lost the CAS to another process; re-read and re-apply.
		if sub, err = r.subs.Get(ctx, event.UserID); err != nil {
			return "", err
		}
		if stale(sub, event) {
			return r.completeRenewedChange(ctx, sub, event)
		}
	}

	if due {
		err := r.pending.ClosePending(ctx, sub.UserID, planchange.StatusCompleted, r.now())
		if err != nil && !errors.Is(err, planchange.ErrNoPendingChange) {
			return "", err
		}
	}
	return StatusApplied, nil
}

// completeRenewedChange finishes a renewal whose subscription update already
// committed but whose pending row was never closed: the event reads as stale
// while a due change's target matches the stored plan and interval. That
// combination cannot arise otherwise, because RequestChange refuses a change
// targeting the current effective plan.
func (r *Reconciler) completeRenewedChange(ctx context.Context, sub *subscription.Subscription, event *billing.WebhookEvent) (Status, error) {
	change, err := r.pending.GetPending(ctx, sub.UserID)
	if err != nil {
		if errors.Is(err, planchange.ErrNoPendingChange) {
			return StatusStale, nil
		}
		return "", err
	}
	if !change.Due(event.OccurredAt) || change.TargetPlanID != sub.PlanID || change.TargetInterval != sub.Interval {
		return StatusStale, nil
	}

	if err := r.pending.ClosePending(ctx, sub.UserID, planchange.StatusCompleted, r.now()); err != nil {
		return "", err
	}
	return StatusApplied, nil
}

// applyPaymentFailed sets dunning state; plan and usage stay untouched.
func (r *Reconciler) applyPaymentFailed(ctx context.Context, sub *subscription.Subscription, event *billing.WebhookEvent) (Status, error) {
	if stale(sub, event) {
		return StatusStale, nil
	}

	sub.Status = subscription.StatusPastDue
	sub.StateTimestamp = event.OccurredAt

	if err := r.subs.Update(ctx, sub); err != nil {
		return "", err
	}
	return StatusApplied, nil
}

// applyCanceled marks the subscription canceled and schedules the downgrade
// to the free tier at period end, through the same pending-change machinery
// as a user-requested downgrade.
func (r *Reconciler) applyCanceled(ctx context.Context, sub *subscription.Subscription, event *billing.WebhookEvent) (Status, error) {
	if stale(sub, event) {
		return StatusStale, nil
	}

	sub.Status = subscription.StatusCanceled
	sub.StateTimestamp = event.OccurredAt

	if sub.PlanID != subscription.FreePlanID {
		change := &planchange.PendingChange{
			UserID:         sub.UserID,
			TargetPlanID:   subscription.FreePlanID,
			TargetInterval: plan.IntervalMonthly,
			Type:           planchange.ChangeDowngrade,
			EffectiveDate:  sub.PeriodEnd,
			Status:         planchange.StatusPending,
			RequestedAt:    r.now(),
		}
		if err := r.pending.ReplacePending(ctx, change); err != nil {
			return "", err
		}
	}

	if err := r.subs.Update(ctx, sub); err != nil {
		return "", err
	}
	return StatusApplied, nil
}

// stale reports whether the event predates the already-applied state.
// Ordering decisions use the event-carried marker, never arrival order.
func stale(sub *subscription.Subscription, event *billing.WebhookEvent) bool {
	return !event.OccurredAt.After(sub.StateTimestamp)
}

// mapProviderStatus normalizes the provider's status strings.
func mapProviderStatus(s string) (subscription.Status, bool) {
	switch s {
	case "active":
		return subscription.StatusActive, true
	case "trialing":
		return subscription.StatusTrialing, true
	case "past_due":
		return subscription.StatusPastDue, true
	case "canceled", "cancelled":
		return subscription.StatusCanceled, true
	default:
		return "", false
	}
}
