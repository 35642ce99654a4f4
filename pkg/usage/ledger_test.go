package usage_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringline/billingkit/pkg/plan"
	"github.com/ringline/billingkit/pkg/subscription"
	"github.com/ringline/billingkit/pkg/usage"
)

var testPlans = []plan.Plan{
	{
		ID:   "free",
		Name: "Free",
		Rank: 0,
		Limits: map[plan.Feature]plan.Limit{
			plan.FeatureCalls: plan.Limited(10),
			plan.FeatureTexts: plan.Limited(100),
		},
		Active: true,
	},
	{
		ID:   "pro",
		Name: "Pro",
		Rank: 1,
		Limits: map[plan.Feature]plan.Limit{
			plan.FeatureCalls:  plan.Limited(500),
			plan.FeatureTexts:  plan.Limited(1000),
			plan.FeatureEmails: plan.Unlimited(),
		},
		Prices: map[plan.Interval]plan.Money{
			plan.IntervalMonthly: {Amount: 1999, Currency: "USD"},
		},
		Active: true,
	},
}

type fixture struct {
	ledger *usage.Ledger
	subs   subscription.Store
	userID uuid.UUID
	now    time.Time
}

func newFixture(t *testing.T, planID string) *fixture {
	t.Helper()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	userID := uuid.New()

	subs := subscription.NewMemoryStore()
	sub := subscription.NewFree(userID, now.AddDate(0, 0, -5))
	sub.PlanID = planID
	require.NoError(t, subs.Create(context.Background(), sub))

	ledger := usage.NewLedger(
		plan.MustMemoryCatalog(testPlans...),
		subs,
		usage.NewMemoryStore(),
		subscription.NewLocker(),
		usage.WithClock(func() time.Time { return now }),
	)
	return &fixture{ledger: ledger, subs: subs, userID: userID, now: now}
}

func TestLedger_TryConsume(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("consumes within limit", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, "free")

		require.NoError(t, f.ledger.TryConsume(ctx, f.userID, plan.FeatureTexts, 99))

		quota, err := f.ledger.Remaining(ctx, f.userID, plan.FeatureTexts)
		require.NoError(t, err)
		assert.Equal(t, int64(99), quota.Used)
		assert.Equal(t, int64(1), quota.RemainingForDisplay())
	})

	t.Run("denies at the limit without partial consumption", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, "free")

		require.NoError(t, f.ledger.TryConsume(ctx, f.userID, plan.FeatureTexts, 99))
		require.NoError(t, f.ledger.TryConsume(ctx, f.userID, plan.FeatureTexts, 1))

		err := f.ledger.TryConsume(ctx, f.userID, plan.FeatureTexts, 1)
		assert.ErrorIs(t, err, usage.ErrLimitExceeded)

		quota, err := f.ledger.Remaining(ctx, f.userID, plan.FeatureTexts)
		require.NoError(t, err)
		assert.Equal(t, int64(100), quota.Used, "denied call must not consume")
	})

	t.Run("multi-unit request over the remainder is denied entirely", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, "free")

		require.NoError(t, f.ledger.TryConsume(ctx, f.userID, plan.FeatureCalls, 8))

		err := f.ledger.TryConsume(ctx, f.userID, plan.FeatureCalls, 5)
		assert.ErrorIs(t, err, usage.ErrLimitExceeded)

		quota, err := f.ledger.Remaining(ctx, f.userID, plan.FeatureCalls)
		require.NoError(t, err)
		assert.Equal(t, int64(8), quota.Used)
	})

	t.Run("unlimited feature never denies", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, "pro")

		for range 50 {
			require.NoError(t, f.ledger.TryConsume(ctx, f.userID, plan.FeatureEmails, 1000))
		}

		quota, err := f.ledger.Remaining(ctx, f.userID, plan.FeatureEmails)
		require.NoError(t, err)
		assert.True(t, quota.Limit.IsUnlimited())
		assert.Equal(t, int64(50000), quota.Used)
	})

	t.Run("feature absent from plan is never allowed", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, "free")

		err := f.ledger.TryConsume(ctx, f.userID, plan.FeatureEmails, 1)
		assert.ErrorIs(t, err, usage.ErrLimitExceeded)
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, "free")

		assert.ErrorIs(t, f.ledger.TryConsume(ctx, f.userID, plan.FeatureCalls, 0), usage.ErrInvalidAmount)
		assert.ErrorIs(t, f.ledger.TryConsume(ctx, f.userID, plan.FeatureCalls, -3), usage.ErrInvalidAmount)
	})

	t.Run("unknown user", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, "free")

		err := f.ledger.TryConsume(ctx, uuid.New(), plan.FeatureCalls, 1)
		assert.ErrorIs(t, err, subscription.ErrNotFound)
	})
}

func TestLedger_TryConsumeConcurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, "free")

	// 150 concurrent single-unit requests against a limit of 100: exactly
	// 100 may succeed and the counter must land exactly on the limit.
	const attempts = 150
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.ledger.TryConsume(ctx, f.userID, plan.FeatureTexts, 1); err == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, allowed)

	quota, err := f.ledger.Remaining(ctx, f.userID, plan.FeatureTexts)
	require.NoError(t, err)
	assert.Equal(t, int64(100), quota.Used)
}

func TestLedger_Refund(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("returns consumed units", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, "free")

		require.NoError(t, f.ledger.TryConsume(ctx, f.userID, plan.FeatureCalls, 5))
		require.NoError(t, f.ledger.Refund(ctx, f.userID, plan.FeatureCalls, 2))

		quota, err := f.ledger.Remaining(ctx, f.userID, plan.FeatureCalls)
		require.NoError(t, err)
		assert.Equal(t, int64(3), quota.Used)
	})

	t.Run("floors at zero", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, "free")

		require.NoError(t, f.ledger.TryConsume(ctx, f.userID, plan.FeatureCalls, 1))
		require.NoError(t, f.ledger.Refund(ctx, f.userID, plan.FeatureCalls, 10))

		quota, err := f.ledger.Remaining(ctx, f.userID, plan.FeatureCalls)
		require.NoError(t, err)
		assert.Equal(t, int64(0), quota.Used)
	})
}

func TestLedger_Rollover(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("expired period resets quota and keeps history", func(t *testing.T) {
		t.Parallel()

		start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		now := start
		userID := uuid.New()

		subs := subscription.NewMemoryStore()
		sub := subscription.NewFree(userID, start)
		require.NoError(t, subs.Create(ctx, sub))
		oldPeriodKey := sub.PeriodKey()

		ledger := usage.NewLedger(
			plan.MustMemoryCatalog(testPlans...),
			subs,
			usage.NewMemoryStore(),
			subscription.NewLocker(),
			usage.WithClock(func() time.Time { return now }),
		)

		require.NoError(t, ledger.TryConsume(ctx, userID, plan.FeatureCalls, 10))
		assert.ErrorIs(t, ledger.TryConsume(ctx, userID, plan.FeatureCalls, 1), usage.ErrLimitExceeded)

		// Cross the period boundary: the exhausted counter belongs to the
		// old period, so consumption is allowed again.
		now = start.AddDate(0, 1, 0).Add(time.Hour)
		require.NoError(t, ledger.TryConsume(ctx, userID, plan.FeatureCalls, 1))

		fresh, err := subs.Get(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, start.AddDate(0, 1, 0), fresh.PeriodStart)

		old, err := ledger.History(ctx, userID, oldPeriodKey)
		require.NoError(t, err)
		assert.Equal(t, int64(10), old[plan.FeatureCalls], "history is immutable")
	})

	t.Run("idempotent across repeated checks", func(t *testing.T) {
		t.Parallel()

		start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		now := start.AddDate(0, 1, 0).Add(time.Hour)
		userID := uuid.New()

		subs := subscription.NewMemoryStore()
		require.NoError(t, subs.Create(ctx, subscription.NewFree(userID, start)))

		ledger := usage.NewLedger(
			plan.MustMemoryCatalog(testPlans...),
			subs,
			usage.NewMemoryStore(),
			subscription.NewLocker(),
			usage.WithClock(func() time.Time { return now }),
		)

		require.NoError(t, ledger.RolloverIfNeeded(ctx, userID))
		after, err := subs.Get(ctx, userID)
		require.NoError(t, err)

		require.NoError(t, ledger.RolloverIfNeeded(ctx, userID))
		again, err := subs.Get(ctx, userID)
		require.NoError(t, err)

		assert.Equal(t, after.PeriodStart, again.PeriodStart)
		assert.Equal(t, after.Version, again.Version)
	})

	t.Run("advances across several idle periods", func(t *testing.T) {
		t.Parallel()

		start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		now := time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC)
		userID := uuid.New()

		subs := subscription.NewMemoryStore()
		require.NoError(t, subs.Create(ctx, subscription.NewFree(userID, start)))

		ledger := usage.NewLedger(
			plan.MustMemoryCatalog(testPlans...),
			subs,
			usage.NewMemoryStore(),
			subscription.NewLocker(),
			usage.WithClock(func() time.Time { return now }),
		)

		require.NoError(t, ledger.RolloverIfNeeded(ctx, userID))

		fresh, err := subs.Get(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), fresh.PeriodStart)
		assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), fresh.PeriodEnd)
	})
}

func TestQuota_UsedPercent(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 50, usage.Quota{Used: 50, Limit: plan.Limited(100)}.UsedPercent())
	assert.Equal(t, 100, usage.Quota{Used: 130, Limit: plan.Limited(100)}.UsedPercent())
	assert.Equal(t, 0, usage.Quota{Used: 10, Limit: plan.Unlimited()}.UsedPercent())
	assert.Equal(t, 0, usage.Quota{Used: 5, Limit: plan.Limited(0)}.UsedPercent())
}
