package usage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ringline/billingkit/pkg/plan"
	"github.com/ringline/billingkit/pkg/subscription"
)

// Quota is the answer to "how much of this feature does the user have left".
type Quota struct {
	Used  int64
	Limit plan.Limit
}

// Remaining returns the raw units left and true, or (0, false) for an
// unlimited feature. The raw value can be negative when usage accrued under
// a higher, since-reduced limit; authorization decisions use this value.
func (q Quota) Remaining() (int64, bool) {
	return q.Limit.Remaining(q.Used)
}

// RemainingForDisplay floors the remaining units at zero. Only for
// presentation; never authorize against this.
func (q Quota) RemainingForDisplay() int64 {
	left, limited := q.Limit.Remaining(q.Used)
	if !limited || left < 0 {
		return 0
	}
	return left
}

// UsedPercent returns consumption as a whole percentage, capped at 100.
// Unlimited features report 0.
func (q Quota) UsedPercent() int {
	max, limited := q.Limit.Value()
	if !limited || max <= 0 {
		return 0
	}
	pct := int(q.Used * 100 / max)
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}

// Ledger gates metered feature calls against the user's plan limits.
type Ledger struct {
	catalog  plan.Catalog
	subs     subscription.Store
	counters CounterStore
	locker   *subscription.Locker
	log      *slog.Logger
	now      func() time.Time
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithLogger sets the ledger's logger. Nil loggers are ignored.
func WithLogger(log *slog.Logger) LedgerOption {
	return func(l *Ledger) {
		if log != nil {
			l.log = log
		}
	}
}

// WithClock overrides the time source, for tests that pin period boundaries.
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLedger creates a usage ledger. All dependencies are required; the
// locker must be the same instance used by the plan-change service and the
// reconciler.
func NewLedger(catalog plan.Catalog, subs subscription.Store, counters CounterStore, locker *subscription.Locker, opts ...LedgerOption) *Ledger {
	if catalog == nil {
		panic("usage: plan catalog is required")
	}
	if subs == nil {
		panic("usage: subscription store is required")
	}
	if counters == nil {
		panic("usage: counter store is required")
	}
	if locker == nil {
		panic("usage: locker is required")
	}

	l := &Ledger{
		catalog:  catalog,
		subs:     subs,
		counters: counters,
		locker:   locker,
		log:      slog.New(slog.DiscardHandler),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Remaining reports the user's quota for one feature in the current period.
func (l *Ledger) Remaining(ctx context.Context, userID uuid.UUID, feature plan.Feature) (Quota, error) {
	unlock := l.locker.Lock(userID)
	defer unlock()

	sub, err := l.rolloverLocked(ctx, userID)
	if err != nil {
		return Quota{}, err
	}
	return l.quotaLocked(ctx, sub, feature)
}

// TryConsume atomically consumes amount units of a feature if the plan limit
// allows it. Returns nil when allowed, ErrLimitExceeded when denied.
//
// Channel collaborators call this only after their side effect succeeded, or
// call it first and compensate with Refund on failure; either way a failed
// call/text/email never costs quota.
func (l *Ledger) TryConsume(ctx context.Context, userID uuid.UUID, feature plan.Feature, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	unlock := l.locker.Lock(userID)
	defer unlock()

	sub, err := l.rolloverLocked(ctx, userID)
	if err != nil {
		return err
	}

	p, err := l.catalog.Get(ctx, sub.PlanID)
	if err != nil {
		return err
	}
	limit := p.Limit(feature)

	if limit.IsUnlimited() {
		return l.counters.Add(ctx, userID, sub.PeriodKey(), feature, amount)
	}

	max, _ := limit.Value()
	applied, err := l.counters.AddIfUnder(ctx, userID, sub.PeriodKey(), feature, amount, max)
	if err != nil {
		return err
	}
	if !applied {
		l.log.InfoContext(ctx, "usage denied",
			"user_id", userID,
			"feature", feature,
			"limit", limit.String(),
		)
		return ErrLimitExceeded
	}
	return nil
}

// Refund returns previously consumed units, flooring the counter at zero.
// The compensating half of consume-then-send flows whose send failed.
func (l *Ledger) Refund(ctx context.Context, userID uuid.UUID, feature plan.Feature, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	unlock := l.locker.Lock(userID)
	defer unlock()

	sub, err := l.subs.Get(ctx, userID)
	if err != nil {
		return err
	}
	return l.counters.Sub(ctx, userID, sub.PeriodKey(), feature, amount)
}

// RolloverIfNeeded advances the user's billing period when now is past the
// period end. Idempotent: redundant calls (lazy checks, reconciler renewal
// events) see the period already advanced and do nothing.
func (l *Ledger) RolloverIfNeeded(ctx context.Context, userID uuid.UUID) error {
	unlock := l.locker.Lock(userID)
	defer unlock()

	_, err := l.rolloverLocked(ctx, userID)
	return err
}

// CurrentUsage returns all counters of the user's current period.
func (l *Ledger) CurrentUsage(ctx context.Context, userID uuid.UUID) (map[plan.Feature]int64, error) {
	unlock := l.locker.Lock(userID)
	defer unlock()

	sub, err := l.rolloverLocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	return l.counters.Snapshot(ctx, userID, sub.PeriodKey())
}

// History returns the immutable counters of a past period, for display.
func (l *Ledger) History(ctx context.Context, userID uuid.UUID, periodKey string) (map[plan.Feature]int64, error) {
	return l.counters.Snapshot(ctx, userID, periodKey)
}

// quotaLocked reads one feature's quota. Caller holds the user lock.
func (l *Ledger) quotaLocked(ctx context.Context, sub *subscription.Subscription, feature plan.Feature) (Quota, error) {
	p, err := l.catalog.Get(ctx, sub.PlanID)
	if err != nil {
		return Quota{}, err
	}

	used, err := l.counters.Used(ctx, sub.UserID, sub.PeriodKey(), feature)
	if err != nil {
		return Quota{}, err
	}
	return Quota{Used: used, Limit: p.Limit(feature)}, nil
}

// rolloverLocked advances expired periods and returns the fresh row. Caller
// holds the user lock. Steps one interval at a time so a subscription idle
// across several periods lands on the correct boundary, not just the next.
func (l *Ledger) rolloverLocked(ctx context.Context, userID uuid.UUID) (*subscription.Subscription, error) {
	sub, err := l.subs.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := l.now()
	if !sub.PeriodExpired(now) {
		return sub, nil
	}

	for sub.PeriodExpired(now) {
		sub.PeriodStart, sub.PeriodEnd = sub.NextPeriod()
	}
	if err := l.subs.Update(ctx, sub); err != nil {
		if errors.Is(err, subscription.ErrVersionConflict) {
			// Someone else rolled the period while we were waiting on
			// the store; their row is the fresh one.
			return l.subs.Get(ctx, userID)
		}
		return nil, errors.Join(ErrFailedToRollover, err)
	}

	l.log.InfoContext(ctx, "billing period rolled forward",
		"user_id", userID,
		"period_start", sub.PeriodStart,
		"period_end", sub.PeriodEnd,
	)
	return sub, nil
}
