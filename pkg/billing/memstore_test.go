package billing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("one row per remote subscription", func(t *testing.T) {
		t.Parallel()
		store := NewMemStore()
		sub := &Subscription{ID: uuid.New(), UserID: uuid.New(), ProviderSubID: "sub_1"}
		require.NoError(t, store.Create(ctx, sub))

		dup := &Subscription{ID: uuid.New(), UserID: sub.UserID, ProviderSubID: "sub_1"}
		assert.ErrorIs(t, store.Create(ctx, dup), ErrSubscriptionAlreadyExists)
	})

	t.Run("update requires an existing row", func(t *testing.T) {
		t.Parallel()
		store := NewMemStore()
		err := store.Update(ctx, &Subscription{ProviderSubID: "sub_missing"})
		assert.ErrorIs(t, err, ErrSubscriptionNotFound)
	})

	t.Run("list is newest period end first", func(t *testing.T) {
		t.Parallel()
		store := NewMemStore()
		userID := uuid.New()
		end := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
		for i, id := range []string{"sub_a", "sub_b", "sub_c"} {
			require.NoError(t, store.Create(ctx, &Subscription{
				ID:               uuid.New(),
				UserID:           userID,
				ProviderSubID:    id,
				CurrentPeriodEnd: end.AddDate(0, i, 0),
			}))
		}
		require.NoError(t, store.Create(ctx, &Subscription{
			ID:            uuid.New(),
			UserID:        uuid.New(),
			ProviderSubID: "sub_other_user",
		}))

		subs, err := store.ListByUser(ctx, userID)
		require.NoError(t, err)
		require.Len(t, subs, 3)
		assert.Equal(t, "sub_c", subs[0].ProviderSubID)
		assert.Equal(t, "sub_a", subs[2].ProviderSubID)
	})

	t.Run("add usage accumulates per resource", func(t *testing.T) {
		t.Parallel()
		store := NewMemStore()
		require.NoError(t, store.Create(ctx, &Subscription{ID: uuid.New(), ProviderSubID: "sub_1"}))

		require.NoError(t, store.AddUsage(ctx, "sub_1", ResourceImages, 2))
		require.NoError(t, store.AddUsage(ctx, "sub_1", ResourceImages, 3))
		require.NoError(t, store.AddUsage(ctx, "sub_1", ResourceModels, 1))

		sub, err := store.GetByProviderID(ctx, "sub_1")
		require.NoError(t, err)
		assert.Equal(t, int64(5), sub.Usage.Images)
		assert.Equal(t, int64(1), sub.Usage.Models)

		err = store.AddUsage(ctx, "sub_missing", ResourceImages, 1)
		assert.ErrorIs(t, err, ErrSubscriptionNotFound)
	})

	t.Run("returned rows are copies", func(t *testing.T) {
		t.Parallel()
		store := NewMemStore()
		require.NoError(t, store.Create(ctx, &Subscription{ID: uuid.New(), ProviderSubID: "sub_1", Status: StatusActive}))

		got, err := store.GetByProviderID(ctx, "sub_1")
		require.NoError(t, err)
		got.Status = StatusCanceled

		again, err := store.GetByProviderID(ctx, "sub_1")
		require.NoError(t, err)
		assert.Equal(t, StatusActive, again.Status)
	})
}

func TestMemUserStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("projection version guard drops older writes", func(t *testing.T) {
		t.Parallel()
		users := NewMemUserStore()
		user := &User{ID: uuid.New(), Email: "a@example.com"}
		users.Put(user)

		require.NoError(t, users.SaveProjection(ctx, user.ID, Projection{Tier: TierPro, Version: 200}))
		require.NoError(t, users.SaveProjection(ctx, user.ID, Projection{Tier: TierFree, Version: 100}))

		got, err := users.Get(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, TierPro, got.Projection.Tier)
		assert.Equal(t, int64(200), got.Projection.Version)
	})

	t.Run("record checkout stamps session and customer", func(t *testing.T) {
		t.Parallel()
		users := NewMemUserStore()
		user := &User{ID: uuid.New(), Email: "b@example.com"}
		users.Put(user)

		require.NoError(t, users.RecordCheckout(ctx, user.ID, "cs_1", "cus_1"))

		got, err := users.Get(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "cs_1", got.CheckoutSessionID)
		assert.Equal(t, "cus_1", got.ProviderCustID)
		require.NotNil(t, got.CheckoutStartedAt)

		byCust, err := users.ByProviderCustID(ctx, "cus_1")
		require.NoError(t, err)
		assert.Equal(t, user.ID, byCust.ID)

		_, err = users.ByProviderCustID(ctx, "cus_none")
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("stale checkouts filter", func(t *testing.T) {
		t.Parallel()
		users := NewMemUserStore()
		old := time.Now().UTC().Add(-time.Hour)
		fresh := time.Now().UTC().Add(-time.Minute)

		stale := &User{ID: uuid.New(), CheckoutSessionID: "cs_stale", CheckoutStartedAt: &old}
		recent := &User{ID: uuid.New(), CheckoutSessionID: "cs_fresh", CheckoutStartedAt: &fresh}
		healed := &User{
			ID: uuid.New(), CheckoutSessionID: "cs_done", CheckoutStartedAt: &old,
			Projection: Projection{Status: StatusActive, PeriodEnd: time.Now().UTC().Add(24 * time.Hour)},
		}
		never := &User{ID: uuid.New()}
		for _, u := range []*User{stale, recent, healed, never} {
			users.Put(u)
		}

		got, err := users.StaleCheckouts(ctx, time.Now().UTC().Add(-10*time.Minute))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, stale.ID, got[0].ID)
	})
}
