package subscription_test

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
)

func TestSubscription_Periods(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 15, 8, 30, 0, 0, time.UTC)

	t.Run("monthly advance", func(t *testing.T) {
		t.Parallel()

		end := subscription.AdvancePeriod(start, plan.IntervalMonthly)
		assert.Equal(t, time.Date(2026, 2, 15, 8, 30, 0, 0, time.UTC), end)
	})

	t.Run("yearly advance", func(t *testing.T) {
		t.Parallel()

		end := subscription.AdvancePeriod(start, plan.IntervalYearly)
		assert.Equal(t, time.Date(2027, 1, 15, 8, 30, 0, 0, time.UTC), end)
	})

	t.Run("period expiry is inclusive of the end bound", func(t *testing.T) {
		t.Parallel()

		sub := subscription.NewFree(uuid.New(), start)
		assert.False(t, sub.PeriodExpired(sub.PeriodEnd.Add(-time.Second)))
		assert.True(t, sub.PeriodExpired(sub.PeriodEnd))
		assert.True(t, sub.PeriodExpired(sub.PeriodEnd.Add(time.Hour)))
	})

	t.Run("next period starts where the current ends", func(t *testing.T) {
		t.Parallel()

		sub := subscription.NewFree(uuid.New(), start)
		next, end := sub.NextPeriod()
		assert.Equal(t, sub.PeriodEnd, next)
		assert.Equal(t, subscription.AdvancePeriod(next, sub.Interval), end)
	})

	t.Run("period key derives from period start", func(t *testing.T) {
		t.Parallel()

		sub := subscription.NewFree(uuid.New(), start)
		assert.Equal(t, "20260115T083000", sub.PeriodKey())
		assert.NotEqual(t, sub.PeriodKey(), subscription.PeriodKeyAt(sub.PeriodEnd))
	})
}

func TestNewFree(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	sub := subscription.NewFree(uuid.New(), now)

	assert.Equal(t, subscription.FreePlanID, sub.PlanID)
	assert.Equal(t, subscription.StatusActive, sub.Status)
	assert.Equal(t, plan.IntervalMonthly, sub.Interval)
	assert.Equal(t, now, sub.PeriodStart)
	assert.Equal(t, now.AddDate(0, 1, 0), sub.PeriodEnd)
	assert.Equal(t, int64(0), sub.Version)
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore()
		sub := subscription.NewFree(uuid.New(), time.Now().UTC())
		require.NoError(t, store.Create(ctx, sub))

		got, err := store.Get(ctx, sub.UserID)
		require.NoError(t, err)
		assert.Equal(t, sub.PlanID, got.PlanID)

		assert.ErrorIs(t, store.Create(ctx, sub), subscription.ErrAlreadyExists)
	})

	t.Run("get unknown user", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore()
		_, err := store.Get(ctx, uuid.New())
		assert.ErrorIs(t, err, subscription.ErrNotFound)
	})

	t.Run("update bumps version", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore()
		sub := subscription.NewFree(uuid.New(), time.Now().UTC())
		require.NoError(t, store.Create(ctx, sub))

		sub.PlanID = "pro"
		require.NoError(t, store.Update(ctx, sub))
		assert.Equal(t, int64(1), sub.Version)
	})

	t.Run("concurrent update loses on version mismatch", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore()
		sub := subscription.NewFree(uuid.New(), time.Now().UTC())
		require.NoError(t, store.Create(ctx, sub))

		first, err := store.Get(ctx, sub.UserID)
		require.NoError(t, err)
		second, err := store.Get(ctx, sub.UserID)
		require.NoError(t, err)

		first.PlanID = "pro"
		require.NoError(t, store.Update(ctx, first))

		second.PlanID = "premium"
		assert.ErrorIs(t, store.Update(ctx, second), subscription.ErrVersionConflict)

		got, err := store.Get(ctx, sub.UserID)
		require.NoError(t, err)
		assert.Equal(t, "pro", got.PlanID)
	})

	t.Run("update of missing row", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore()
		sub := subscription.NewFree(uuid.New(), time.Now().UTC())
		assert.ErrorIs(t, store.Update(ctx, sub), subscription.ErrNotFound)
	})
}

func TestLocker(t *testing.T) {
	t.Parallel()

	t.Run("serializes same user", func(t *testing.T) {
		t.Parallel()

		locker := subscription.NewLocker()
		userID := uuid.New()

		var counter int
		var wg sync.WaitGroup
		for range 100 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock := locker.Lock(userID)
				defer unlock()
				counter++
			}()
		}
		wg.Wait()
		assert.Equal(t, 100, counter)
	})

	t.Run("unlock releases for the next holder", func(t *testing.T) {
		t.Parallel()

		locker := subscription.NewLocker()
		userID := uuid.New()

		unlock := locker.Lock(userID)
		acquired := make(chan struct{})
		go func() {
			u := locker.Lock(userID)
			u()
			close(acquired)
		}()

		select {
		case <-acquired:
			t.Fatal("second lock acquired while first still held")
		case <-time.After(50 * time.Millisecond):
		}

		unlock()
		select {
		case <-acquired:
		case <-time.After(time.Second):
			t.Fatal("second lock never acquired after release")
		}
	})
}
