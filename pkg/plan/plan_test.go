package plan_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringline/billingkit/pkg/plan"
)

func TestLimit(t *testing.T) {
	t.Parallel()

	t.Run("limited allows up to the ceiling", func(t *testing.T) {
		t.Parallel()

		l := plan.Limited(100)
		assert.True(t, l.Allows(99, 1))
		assert.False(t, l.Allows(100, 1))
		assert.False(t, l.Allows(95, 10))

		left, limited := l.Remaining(30)
		assert.True(t, limited)
		assert.Equal(t, int64(70), left)
	})

	t.Run("zero limit is not unlimited", func(t *testing.T) {
		t.Parallel()

		l := plan.Limited(0)
		assert.False(t, l.IsUnlimited())
		assert.False(t, l.Allows(0, 1))
	})

	t.Run("unlimited always allows", func(t *testing.T) {
		t.Parallel()

		l := plan.Unlimited()
		assert.True(t, l.IsUnlimited())
		assert.True(t, l.Allows(1<<40, 1<<40))

		_, limited := l.Remaining(10)
		assert.False(t, limited)
	})

	t.Run("remaining can go negative after a limit reduction", func(t *testing.T) {
		t.Parallel()

		left, limited := plan.Limited(10).Remaining(25)
		assert.True(t, limited)
		assert.Equal(t, int64(-15), left)
	})

	t.Run("json round trip", func(t *testing.T) {
		t.Parallel()

		raw, err := json.Marshal(map[string]plan.Limit{
			"calls":  plan.Limited(500),
			"emails": plan.Unlimited(),
		})
		require.NoError(t, err)
		assert.JSONEq(t, `{"calls":500,"emails":"unlimited"}`, string(raw))

		var decoded map[string]plan.Limit
		require.NoError(t, json.Unmarshal(raw, &decoded))
		assert.Equal(t, plan.Limited(500), decoded["calls"])
		assert.True(t, decoded["emails"].IsUnlimited())
	})

	t.Run("json rejects negative and junk", func(t *testing.T) {
		t.Parallel()

		var l plan.Limit
		assert.ErrorIs(t, json.Unmarshal([]byte(`-5`), &l), plan.ErrInvalidConfiguration)
		assert.ErrorIs(t, json.Unmarshal([]byte(`"infinite"`), &l), plan.ErrInvalidConfiguration)
	})
}

func TestPlan(t *testing.T) {
	t.Parallel()

	pro := plan.Plan{
		ID:   "pro",
		Rank: 1,
		Limits: map[plan.Feature]plan.Limit{
			plan.FeatureCalls: plan.Limited(500),
		},
		Capabilities: []plan.Capability{plan.CapabilityVoicemailTranscripts},
		Prices: map[plan.Interval]plan.Money{
			plan.IntervalMonthly: {Amount: 1999, Currency: "USD"},
		},
		Active: true,
	}

	t.Run("absent feature is limited to zero", func(t *testing.T) {
		t.Parallel()

		l := pro.Limit(plan.FeatureEmails)
		assert.False(t, l.IsUnlimited())
		assert.False(t, l.Allows(0, 1))
	})

	t.Run("price lookup", func(t *testing.T) {
		t.Parallel()

		m, ok := pro.Price(plan.IntervalMonthly)
		assert.True(t, ok)
		assert.Equal(t, int64(1999), m.Amount)

		_, ok = pro.Price(plan.IntervalYearly)
		assert.False(t, ok)
	})

	t.Run("free means no prices", func(t *testing.T) {
		t.Parallel()

		assert.False(t, pro.IsFree())
		assert.True(t, plan.Plan{ID: "free"}.IsFree())
	})
}

func TestCompare(t *testing.T) {
	t.Parallel()

	free := plan.Plan{
		ID: "free",
		Limits: map[plan.Feature]plan.Limit{
			plan.FeatureCalls: plan.Limited(10),
			plan.FeatureTexts: plan.Limited(100),
		},
	}
	premium := plan.Plan{
		ID: "premium",
		Limits: map[plan.Feature]plan.Limit{
			plan.FeatureCalls:  plan.Unlimited(),
			plan.FeatureTexts:  plan.Limited(5000),
			plan.FeatureEmails: plan.Limited(1000),
		},
		Capabilities: []plan.Capability{plan.CapabilityPrioritySupport},
	}

	t.Run("upgrade gains", func(t *testing.T) {
		t.Parallel()

		cmp := plan.Compare(free, premium)
		assert.Contains(t, cmp.GainedCapabilities, plan.CapabilityPrioritySupport)
		assert.Contains(t, cmp.RaisedLimits, plan.FeatureCalls)
		assert.Contains(t, cmp.RaisedLimits, plan.FeatureTexts)
		assert.Contains(t, cmp.RaisedLimits, plan.FeatureEmails)
		assert.False(t, cmp.HasReductions())
	})

	t.Run("downgrade reductions include unlimited to finite", func(t *testing.T) {
		t.Parallel()

		cmp := plan.Compare(premium, free)
		assert.True(t, cmp.HasReductions())
		assert.Contains(t, cmp.LostCapabilities, plan.CapabilityPrioritySupport)
		assert.Contains(t, cmp.ReducedLimits, plan.FeatureCalls)
		assert.Contains(t, cmp.ReducedLimits, plan.FeatureEmails)
	})
}

func TestMemoryCatalog(t *testing.T) {
	t.Parallel()

	plans := []plan.Plan{
		{ID: "premium", Rank: 2, Active: true},
		{ID: "free", Rank: 0, Active: true},
		{ID: "pro", Rank: 1, Active: true},
		{ID: "legacy", Rank: 1, Active: false},
	}

	t.Run("list active ordered by rank", func(t *testing.T) {
		t.Parallel()

		c := plan.MustMemoryCatalog(plans...)
		active, err := c.ListActive(t.Context())
		require.NoError(t, err)

		ids := make([]string, 0, len(active))
		for _, p := range active {
			ids = append(ids, p.ID)
		}
		assert.Equal(t, []string{"free", "pro", "premium"}, ids)
	})

	t.Run("get resolves inactive plans", func(t *testing.T) {
		t.Parallel()

		c := plan.MustMemoryCatalog(plans...)
		p, err := c.Get(t.Context(), "legacy")
		require.NoError(t, err)
		assert.False(t, p.Active)
	})

	t.Run("get unknown plan", func(t *testing.T) {
		t.Parallel()

		c := plan.MustMemoryCatalog(plans...)
		_, err := c.Get(t.Context(), "enterprise")
		assert.ErrorIs(t, err, plan.ErrPlanNotFound)
	})

	t.Run("rejects duplicates and bad rows", func(t *testing.T) {
		t.Parallel()

		_, err := plan.NewMemoryCatalog(
			plan.Plan{ID: "free", Active: true},
			plan.Plan{ID: "free", Active: true},
		)
		assert.ErrorIs(t, err, plan.ErrInvalidConfiguration)

		_, err = plan.NewMemoryCatalog(plan.Plan{ID: "", Active: true})
		assert.ErrorIs(t, err, plan.ErrInvalidConfiguration)

		_, err = plan.NewMemoryCatalog()
		assert.ErrorIs(t, err, plan.ErrInvalidConfiguration)
	})

	t.Run("returned plans are copies", func(t *testing.T) {
		t.Parallel()

		c := plan.MustMemoryCatalog(plan.Plan{
			ID:     "free",
			Limits: map[plan.Feature]plan.Limit{plan.FeatureCalls: plan.Limited(10)},
			Active: true,
		})

		p, err := c.Get(t.Context(), "free")
		require.NoError(t, err)
		p.Limits[plan.FeatureCalls] = plan.Unlimited()

		again, err := c.Get(t.Context(), "free")
		require.NoError(t, err)
		assert.Equal(t, plan.Limited(10), again.Limit(plan.FeatureCalls))
	})
}
