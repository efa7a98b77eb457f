package billing

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProjector(t *testing.T) (*Projector, *MemStore, *MemUserStore) {
	t.Helper()
	store := NewMemStore()
	users := NewMemUserStore()
	p := NewProjector(store, users, testCatalog(t), slog.New(slog.DiscardHandler),
		WithRetry(2, time.Millisecond, time.Millisecond))
	return p, store, users
}

func seedSub(t *testing.T, store *MemStore, userID uuid.UUID, providerSubID, planID string, tier Tier, status Status, periodEnd time.Time, updatedAt time.Time) *Subscription {
	t.Helper()
	sub := &Subscription{
		ID:                 uuid.New(),
		UserID:             userID,
		ProviderSubID:      providerSubID,
		PlanID:             planID,
		Tier:               tier,
		Status:             status,
		CurrentPeriodStart: periodEnd.AddDate(0, -1, 0),
		CurrentPeriodEnd:   periodEnd,
		CreatedAt:          updatedAt,
		UpdatedAt:          updatedAt,
	}
	require.NoError(t, store.Create(context.Background(), sub))
	return sub
}

func TestProjectorRefresh(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	periodEnd := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	t.Run("entitled subscription projects its plan", func(t *testing.T) {
		t.Parallel()
		p, store, users := newTestProjector(t)
		user := &User{ID: uuid.New(), Email: "a@example.com"}
		users.Put(user)
		sub := seedSub(t, store, user.ID, "sub_1", "pro-monthly", TierPro, StatusActive, periodEnd, time.Now().UTC())

		require.NoError(t, p.Refresh(ctx, user.ID))

		got, err := users.Get(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, TierPro, got.Projection.Tier)
		assert.Equal(t, StatusActive, got.Projection.Status)
		assert.Equal(t, "pro-monthly", got.Projection.PlanID)
		assert.True(t, got.Projection.PeriodEnd.Equal(periodEnd))
		assert.Contains(t, got.Projection.Features, Feature3DGeneration)
		assert.Equal(t, sub.UpdatedAt.UnixNano(), got.Projection.Version)
	})

	t.Run("no subscriptions fall back to free", func(t *testing.T) {
		t.Parallel()
		p, _, users := newTestProjector(t)
		user := &User{ID: uuid.New(), Email: "b@example.com"}
		users.Put(user)

		require.NoError(t, p.Refresh(ctx, user.ID))

		got, err := users.Get(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, TierFree, got.Projection.Tier)
		assert.Equal(t, "free", got.Projection.PlanID)
		assert.Positive(t, got.Projection.Version)
	})

	t.Run("canceled subscription falls back to free", func(t *testing.T) {
		t.Parallel()
		p, store, users := newTestProjector(t)
		user := &User{ID: uuid.New(), Email: "c@example.com"}
		users.Put(user)
		seedSub(t, store, user.ID, "sub_1", "pro-monthly", TierPro, StatusCanceled, periodEnd, time.Now().UTC())

		require.NoError(t, p.Refresh(ctx, user.ID))

		got, err := users.Get(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, TierFree, got.Projection.Tier)
	})

	t.Run("latest period end wins among entitled rows", func(t *testing.T) {
		t.Parallel()
		p, store, users := newTestProjector(t)
		user := &User{ID: uuid.New(), Email: "d@example.com"}
		users.Put(user)
		now := time.Now().UTC()
		seedSub(t, store, user.ID, "sub_old", "premium-monthly", TierPremium, StatusActive, periodEnd.AddDate(0, -2, 0), now)
		seedSub(t, store, user.ID, "sub_new", "pro-monthly", TierPro, StatusTrialing, periodEnd, now)

		require.NoError(t, p.Refresh(ctx, user.ID))

		got, err := users.Get(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, TierPro, got.Projection.Tier)
		assert.Equal(t, StatusTrialing, got.Projection.Status)
	})

	t.Run("unknown plan id projects free", func(t *testing.T) {
		t.Parallel()
		p, store, users := newTestProjector(t)
		user := &User{ID: uuid.New(), Email: "e@example.com"}
		users.Put(user)
		seedSub(t, store, user.ID, "sub_1", "plan-that-left-the-catalog", TierPro, StatusActive, periodEnd, time.Now().UTC())

		require.NoError(t, p.Refresh(ctx, user.ID))

		got, err := users.Get(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, TierFree, got.Projection.Tier)
		assert.Equal(t, "free", got.Projection.PlanID)
	})

	t.Run("stale refresh loses to a newer projection", func(t *testing.T) {
		t.Parallel()
		p, store, users := newTestProjector(t)
		user := &User{ID: uuid.New(), Email: "f@example.com"}
		users.Put(user)
		seedSub(t, store, user.ID, "sub_1", "pro-monthly", TierPro, StatusActive, periodEnd, time.Now().UTC().Add(-time.Hour))

		// A projection from a later canonical write is already in place.
		newer := Projection{Tier: TierPremium, PlanID: "premium-monthly", Version: time.Now().UTC().UnixNano()}
		require.NoError(t, users.SaveProjection(ctx, user.ID, newer))

		require.NoError(t, p.Refresh(ctx, user.ID))

		got, err := users.Get(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, TierPremium, got.Projection.Tier)
		assert.Equal(t, newer.Version, got.Projection.Version)
	})
}

func TestProjectorDispatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	p, store, users := newTestProjector(t)
	user := &User{ID: uuid.New(), Email: "g@example.com"}
	users.Put(user)
	seedSub(t, store, user.ID, "sub_1", "pro-monthly", TierPro, StatusActive,
		time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), time.Now().UTC())

	for range 5 {
		p.Dispatch(user.ID)
	}
	p.Wait()

	got, err := users.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, TierPro, got.Projection.Tier)
}

func TestProjectionEntitled(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		proj Projection
		want bool
	}{
		{"active within period", Projection{Status: StatusActive, PeriodEnd: now.Add(time.Hour)}, true},
		{"trialing within period", Projection{Status: StatusTrialing, PeriodEnd: now.Add(time.Hour)}, true},
		{"active but period expired", Projection{Status: StatusActive, PeriodEnd: now.Add(-time.Hour)}, false},
		{"past due", Projection{Status: StatusPastDue, PeriodEnd: now.Add(time.Hour)}, false},
		{"free fallback", Projection{Tier: TierFree}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.proj.Entitled(now))
		})
	}
}
