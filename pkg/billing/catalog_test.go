package billing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCatalog(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	freePlan := Plan{ID: "free", Tier: TierFree, Interval: IntervalNone}
	proPlan := Plan{ID: "pro", PriceID: "price_pro", Tier: TierPro, Interval: IntervalMonthly}

	t.Run("resolves plans by id and price", func(t *testing.T) {
		t.Parallel()
		cat, err := NewCatalog(ctx, NewInMemSource(map[string]Plan{"free": freePlan, "pro": proPlan}))
		require.NoError(t, err)

		plan, err := cat.ByID(ctx, "pro")
		require.NoError(t, err)
		assert.Equal(t, TierPro, plan.Tier)

		plan, err = cat.ByPriceID(ctx, "price_pro")
		require.NoError(t, err)
		assert.Equal(t, "pro", plan.ID)

		free, err := cat.FreePlan(ctx)
		require.NoError(t, err)
		assert.Equal(t, "free", free.ID)

		all, err := cat.List(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		_, err = cat.ByID(ctx, "ghost")
		assert.ErrorIs(t, err, ErrPlanNotFound)
		_, err = cat.ByPriceID(ctx, "price_ghost")
		assert.ErrorIs(t, err, ErrPlanNotFound)
	})

	t.Run("rejects invalid configurations", func(t *testing.T) {
		t.Parallel()
		tests := []struct {
			name  string
			plans map[string]Plan
		}{
			{"no free plan", map[string]Plan{"pro": proPlan}},
			{"two free plans", map[string]Plan{
				"free":  freePlan,
				"free2": {ID: "free2", Tier: TierFree, Interval: IntervalNone},
			}},
			{"paid plan without price id", map[string]Plan{
				"free": freePlan,
				"pro":  {ID: "pro", Tier: TierPro, Interval: IntervalMonthly},
			}},
			{"duplicate price id", map[string]Plan{
				"free": freePlan,
				"pro":  proPlan,
				"pro2": {ID: "pro2", PriceID: "price_pro", Tier: TierPro, Interval: IntervalMonthly},
			}},
			{"negative trial days", map[string]Plan{
				"free": freePlan,
				"pro":  {ID: "pro", PriceID: "price_pro", Tier: TierPro, Interval: IntervalMonthly, TrialDays: -1},
			}},
			{"key and id mismatch", map[string]Plan{
				"free":  freePlan,
				"other": proPlan,
			}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()
				_, err := NewCatalog(ctx, NewInMemSource(tt.plans))
				assert.ErrorIs(t, err, ErrInvalidPlanConfiguration)
			})
		}
	})
}

func TestFileSource(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("loads a plan catalog from yaml", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "plans.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
plans:
  - id: free
    name: Free
    tier: free
    interval: none
    public: true
    limits:
      images: 10
      models: 2
  - id: pro-monthly
    name: Pro
    tier: pro
    interval: monthly
    public: true
    price_id: price_pro_m
    trial_days: 7
    price:
      amount: 2900
      currency: usd
    limits:
      images: 1000
      storage: 50
    features:
      - hd_export
      - 3d_generation
`), 0o644))

		cat, err := NewCatalog(ctx, NewFileSource(path))
		require.NoError(t, err)

		plan, err := cat.ByPriceID(ctx, "price_pro_m")
		require.NoError(t, err)
		assert.Equal(t, "pro-monthly", plan.ID)
		assert.Equal(t, TierPro, plan.Tier)
		assert.Equal(t, IntervalMonthly, plan.Interval)
		assert.Equal(t, int64(2900), plan.Price.Amount)
		assert.Equal(t, 7, plan.TrialDays)
		assert.Equal(t, int64(1000), plan.Limit(ResourceImages))
		assert.Equal(t, int64(50), plan.Limit(ResourceStorage))
		assert.Equal(t, Unlimited, plan.Limit(ResourceModels))
		assert.Equal(t, []Feature{FeatureHDExport, Feature3DGeneration}, plan.Features)
	})

	t.Run("missing file fails the load", func(t *testing.T) {
		t.Parallel()
		_, err := NewCatalog(ctx, NewFileSource(filepath.Join(t.TempDir(), "absent.yaml")))
		assert.ErrorIs(t, err, ErrFailedToLoadPlans)
	})

	t.Run("duplicate plan ids fail the load", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "plans.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
plans:
  - id: free
    tier: free
    interval: none
  - id: free
    tier: free
    interval: none
`), 0o644))

		_, err := NewCatalog(ctx, NewFileSource(path))
		assert.ErrorIs(t, err, ErrFailedToLoadPlans)
	})
}
