package billing

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubProvider is a Provider backed by canned responses.
type stubProvider struct {
	mu       sync.Mutex
	subs     map[string]*Event
	sessions map[string]*Event
	byCust   map[string][]*Event
	checkout *CheckoutSession
	portal   string
	err      error
}

func newStubProvider() *stubProvider {
	return &stubProvider{
		subs:     make(map[string]*Event),
		sessions: make(map[string]*Event),
		byCust:   make(map[string][]*Event),
	}
}

func (p *stubProvider) ParseWebhook(_ []byte, _ string) (*Event, error) {
	return nil, ErrVerification
}

func (p *stubProvider) GetSubscription(_ context.Context, subscriptionID string) (*Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	ev, ok := p.subs[subscriptionID]
	if !ok {
		return nil, ErrNoProviderRecord
	}
	return ev, nil
}

func (p *stubProvider) GetCheckoutSession(_ context.Context, sessionID string) (*Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	ev, ok := p.sessions[sessionID]
	if !ok {
		return nil, ErrNoProviderRecord
	}
	return ev, nil
}

func (p *stubProvider) ListSubscriptions(_ context.Context, customerID string) ([]*Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return p.byCust[customerID], nil
}

func (p *stubProvider) CreateCheckout(_ context.Context, _ CheckoutRequest) (*CheckoutSession, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.checkout, nil
}

func (p *stubProvider) CreatePortalLink(_ context.Context, _ string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return p.portal, nil
}

func testCatalog(t *testing.T) Catalog {
	t.Helper()
	cat, err := NewCatalog(context.Background(), NewInMemSource(map[string]Plan{
		"free": {
			ID:       "free",
			Name:     "Free",
			Tier:     TierFree,
			Interval: IntervalNone,
			Public:   true,
			Limits:   map[Resource]int64{ResourceImages: 10, ResourceModels: 2},
		},
		"premium-monthly": {
			ID:       "premium-monthly",
			PriceID:  "price_premium_m",
			Name:     "Premium",
			Tier:     TierPremium,
			Interval: IntervalMonthly,
			Public:   true,
			Limits:   map[Resource]int64{ResourceImages: 200, ResourceModels: 20},
			Features: []Feature{FeatureHDExport},
		},
		"pro-monthly": {
			ID:       "pro-monthly",
			PriceID:  "price_pro_m",
			Name:     "Pro",
			Tier:     TierPro,
			Interval: IntervalMonthly,
			Public:   true,
			Limits:   map[Resource]int64{ResourceImages: 1000, ResourceModels: 100},
			Features: []Feature{FeatureHDExport, Feature3DGeneration},
		},
	}))
	require.NoError(t, err)
	return cat
}

type syncFixture struct {
	store    *MemStore
	users    *MemUserStore
	catalog  Catalog
	provider *stubProvider
	proj     *Projector
	sync     *Sync
	user     *User
}

func newSyncFixture(t *testing.T, opts ...SyncOption) *syncFixture {
	t.Helper()
	log := slog.New(slog.DiscardHandler)
	f := &syncFixture{
		store:    NewMemStore(),
		users:    NewMemUserStore(),
		catalog:  testCatalog(t),
		provider: newStubProvider(),
	}
	f.proj = NewProjector(f.store, f.users, f.catalog, log, WithRetry(1, time.Millisecond, time.Millisecond))
	f.sync = NewSync(f.store, f.users, f.catalog, f.provider, f.proj, log, opts...)
	f.user = &User{ID: uuid.New(), Email: "maker@example.com"}
	f.users.Put(f.user)
	return f
}

// subEvent builds a subscription lifecycle event for the fixture user with a
// one-month billing period starting at start.
func (f *syncFixture) subEvent(kind EventKind, status Status, start time.Time) *Event {
	return &Event{
		ID:             "evt_" + uuid.NewString(),
		Kind:           kind,
		ProviderEvent:  "customer.subscription.updated",
		OccurredAt:     start,
		SubscriptionID: "sub_100",
		CustomerID:     "cus_100",
		UserID:         f.user.ID.String(),
		PriceID:        "price_pro_m",
		Status:         status,
		PeriodStart:    start,
		PeriodEnd:      start.AddDate(0, 1, 0),
	}
}

var p1 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func TestSyncApplyEvent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("creates then activates then ignores redelivery", func(t *testing.T) {
		t.Parallel()
		f := newSyncFixture(t)

		require.NoError(t, f.sync.ApplyEvent(ctx, f.subEvent(EventSubscriptionCreated, StatusIncomplete, p1)))
		sub, err := f.store.GetByProviderID(ctx, "sub_100")
		require.NoError(t, err)
		assert.Equal(t, StatusIncomplete, sub.Status)
		assert.Equal(t, "pro-monthly", sub.PlanID)
		assert.Equal(t, TierPro, sub.Tier)
		assert.Equal(t, f.user.ID, sub.UserID)

		active := f.subEvent(EventSubscriptionUpdated, StatusActive, p1)
		require.NoError(t, f.sync.ApplyEvent(ctx, active))
		sub, err = f.store.GetByProviderID(ctx, "sub_100")
		require.NoError(t, err)
		assert.Equal(t, StatusActive, sub.Status)
		activatedAt := sub.UpdatedAt

		// Exact redelivery must leave the row untouched.
		require.NoError(t, f.sync.ApplyEvent(ctx, active))
		sub, err = f.store.GetByProviderID(ctx, "sub_100")
		require.NoError(t, err)
		assert.Equal(t, StatusActive, sub.Status)
		assert.Equal(t, activatedAt, sub.UpdatedAt)

		f.proj.Wait()
		user, err := f.users.Get(ctx, f.user.ID)
		require.NoError(t, err)
		assert.Equal(t, TierPro, user.Projection.Tier)
		assert.Equal(t, "pro-monthly", user.Projection.PlanID)
	})

	t.Run("stale retransmissions never regress state", func(t *testing.T) {
		t.Parallel()
		f := newSyncFixture(t)
		p2 := p1.AddDate(0, 1, 0)

		require.NoError(t, f.sync.ApplyEvent(ctx, f.subEvent(EventSubscriptionCreated, StatusActive, p2)))

		// Older billing period loses, regardless of status.
		require.NoError(t, f.sync.ApplyEvent(ctx, f.subEvent(EventSubscriptionUpdated, StatusCanceled, p1)))
		sub, err := f.store.GetByProviderID(ctx, "sub_100")
		require.NoError(t, err)
		assert.Equal(t, StatusActive, sub.Status)
		assert.True(t, sub.CurrentPeriodStart.Equal(p2))

		// Same period: rank only moves forward. canceled > active, so the
		// cancellation lands; a late active replay after it does not.
		require.NoError(t, f.sync.ApplyEvent(ctx, f.subEvent(EventSubscriptionUpdated, StatusCanceled, p2)))
		require.NoError(t, f.sync.ApplyEvent(ctx, f.subEvent(EventSubscriptionUpdated, StatusActive, p2)))
		sub, err = f.store.GetByProviderID(ctx, "sub_100")
		require.NoError(t, err)
		assert.Equal(t, StatusCanceled, sub.Status)
	})

	t.Run("period rollover resets usage exactly once", func(t *testing.T) {
		t.Parallel()
		f := newSyncFixture(t)

		require.NoError(t, f.sync.ApplyEvent(ctx, f.subEvent(EventSubscriptionCreated, StatusActive, p1)))
		require.NoError(t, f.store.AddUsage(ctx, "sub_100", ResourceImages, 42))
		require.NoError(t, f.store.AddUsage(ctx, "sub_100", ResourceModels, 7))

		renewal := f.subEvent(EventSubscriptionUpdated, StatusActive, p1.AddDate(0, 1, 0))
		require.NoError(t, f.sync.ApplyEvent(ctx, renewal))
		sub, err := f.store.GetByProviderID(ctx, "sub_100")
		require.NoError(t, err)
		assert.Zero(t, sub.Usage.Images)
		assert.Zero(t, sub.Usage.Models)
		reset := sub.Usage.LastReset

		// Redelivered renewal is a no-op: counters accrued since the first
		// reset must survive.
		require.NoError(t, f.store.AddUsage(ctx, "sub_100", ResourceImages, 3))
		require.NoError(t, f.sync.ApplyEvent(ctx, renewal))
		sub, err = f.store.GetByProviderID(ctx, "sub_100")
		require.NoError(t, err)
		assert.Equal(t, int64(3), sub.Usage.Images)
		assert.Equal(t, reset, sub.Usage.LastReset)
	})

	t.Run("resume from paused applies the reported status", func(t *testing.T) {
		t.Parallel()
		f := newSyncFixture(t)

		require.NoError(t, f.sync.ApplyEvent(ctx, f.subEvent(EventSubscriptionCreated, StatusActive, p1)))
		require.NoError(t, f.sync.ApplyEvent(ctx, f.subEvent(EventSubscriptionUpdated, StatusPaused, p1)))
		sub, err := f.store.GetByProviderID(ctx, "sub_100")
		require.NoError(t, err)
		require.Equal(t, StatusPaused, sub.Status)

		// The resume arrives as a plain update within the same period and
		// must not be mistaken for a stale retransmission.
		require.NoError(t, f.sync.ApplyEvent(ctx, f.subEvent(EventSubscriptionUpdated, StatusActive, p1)))
		sub, err = f.store.GetByProviderID(ctx, "sub_100")
		require.NoError(t, err)
		assert.Equal(t, StatusActive, sub.Status)
	})

	t.Run("failed renewal dunning and recovery", func(t *testing.T) {
		t.Parallel()
		notifier := &captureNotifier{}
		f := newSyncFixture(t, WithNotifier(notifier))

		require.NoError(t, f.sync.ApplyEvent(ctx, f.subEvent(EventSubscriptionCreated, StatusActive, p1)))

		fail := &Event{Kind: EventPaymentFailed, ProviderEvent: "invoice.payment_failed", SubscriptionID: "sub_100"}
		require.NoError(t, f.sync.ApplyEvent(ctx, fail))
		sub, err := f.store.GetByProviderID(ctx, "sub_100")
		require.NoError(t, err)
		assert.Equal(t, StatusPastDue, sub.Status)
		assert.Equal(t, 1, notifier.failed())

		// Redelivered failure: already past_due, no second notification.
		require.NoError(t, f.sync.ApplyEvent(ctx, fail))
		assert.Equal(t, 1, notifier.failed())

		paid := &Event{Kind: EventPaymentSucceeded, ProviderEvent: "invoice.paid", SubscriptionID: "sub_100"}
		require.NoError(t, f.sync.ApplyEvent(ctx, paid))
		sub, err = f.store.GetByProviderID(ctx, "sub_100")
		require.NoError(t, err)
		assert.Equal(t, StatusActive, sub.Status)

		require.NoError(t, f.sync.ApplyEvent(ctx, f.subEvent(EventSubscriptionDeleted, StatusCanceled, p1)))
		assert.Equal(t, 1, notifier.canceled())
	})

	t.Run("payment event for unknown subscription is acknowledged", func(t *testing.T) {
		t.Parallel()
		f := newSyncFixture(t)
		err := f.sync.ApplyEvent(ctx, &Event{Kind: EventPaymentFailed, SubscriptionID: "sub_ghost"})
		require.NoError(t, err)
	})

	t.Run("plan change within the same period", func(t *testing.T) {
		t.Parallel()
		f := newSyncFixture(t)

		require.NoError(t, f.sync.ApplyEvent(ctx, f.subEvent(EventSubscriptionCreated, StatusActive, p1)))

		upgrade := f.subEvent(EventSubscriptionUpdated, StatusActive, p1)
		upgrade.PriceID = "price_premium_m"
		require.NoError(t, f.sync.ApplyEvent(ctx, upgrade))

		sub, err := f.store.GetByProviderID(ctx, "sub_100")
		require.NoError(t, err)
		assert.Equal(t, "premium-monthly", sub.PlanID)
		assert.Equal(t, TierPremium, sub.Tier)
		assert.Equal(t, "price_premium_m", sub.PriceID)
	})

	t.Run("unknown price keeps the stored plan", func(t *testing.T) {
		t.Parallel()
		f := newSyncFixture(t)

		require.NoError(t, f.sync.ApplyEvent(ctx, f.subEvent(EventSubscriptionCreated, StatusActive, p1)))

		rogue := f.subEvent(EventSubscriptionUpdated, StatusPastDue, p1)
		rogue.PriceID = "price_nobody_knows"
		require.NoError(t, f.sync.ApplyEvent(ctx, rogue))

		sub, err := f.store.GetByProviderID(ctx, "sub_100")
		require.NoError(t, err)
		assert.Equal(t, StatusPastDue, sub.Status)
		assert.Equal(t, "pro-monthly", sub.PlanID)
	})

	t.Run("unresolvable subject is fatal", func(t *testing.T) {
		t.Parallel()
		f := newSyncFixture(t)

		ev := f.subEvent(EventSubscriptionCreated, StatusActive, p1)
		ev.UserID = uuid.NewString() // no such user
		ev.CustomerID = "cus_stranger"
		err := f.sync.ApplyEvent(ctx, ev)
		require.Error(t, err)
		assert.True(t, IsUnknownSubject(err))

		var subject *UnknownSubjectError
		require.ErrorAs(t, err, &subject)
		assert.Equal(t, "cus_stranger", subject.CustomerID)
	})

	t.Run("resolves user by remote customer id", func(t *testing.T) {
		t.Parallel()
		f := newSyncFixture(t)
		f.user.ProviderCustID = "cus_100"
		f.users.Put(f.user)

		ev := f.subEvent(EventSubscriptionCreated, StatusActive, p1)
		ev.UserID = ""
		require.NoError(t, f.sync.ApplyEvent(ctx, ev))

		sub, err := f.store.GetByProviderID(ctx, "sub_100")
		require.NoError(t, err)
		assert.Equal(t, f.user.ID, sub.UserID)
	})

	t.Run("update for unknown subscription creates the row", func(t *testing.T) {
		t.Parallel()
		f := newSyncFixture(t)

		// A missed created event must not strand later updates.
		require.NoError(t, f.sync.ApplyEvent(ctx, f.subEvent(EventSubscriptionUpdated, StatusActive, p1)))
		sub, err := f.store.GetByProviderID(ctx, "sub_100")
		require.NoError(t, err)
		assert.Equal(t, StatusActive, sub.Status)
	})

	t.Run("deleted event for unknown subscription is skipped", func(t *testing.T) {
		t.Parallel()
		f := newSyncFixture(t)

		require.NoError(t, f.sync.ApplyEvent(ctx, f.subEvent(EventSubscriptionDeleted, StatusCanceled, p1)))
		_, err := f.store.GetByProviderID(ctx, "sub_100")
		assert.ErrorIs(t, err, ErrSubscriptionNotFound)
	})

	t.Run("ignored events are acknowledged untouched", func(t *testing.T) {
		t.Parallel()
		f := newSyncFixture(t)
		require.NoError(t, f.sync.ApplyEvent(ctx, &Event{Kind: EventIgnored, ProviderEvent: "customer.updated"}))
		_, err := f.store.GetByProviderID(ctx, "sub_100")
		assert.ErrorIs(t, err, ErrSubscriptionNotFound)
	})

	t.Run("cancel at period end flag applies without status change", func(t *testing.T) {
		t.Parallel()
		f := newSyncFixture(t)

		require.NoError(t, f.sync.ApplyEvent(ctx, f.subEvent(EventSubscriptionCreated, StatusActive, p1)))

		ev := f.subEvent(EventSubscriptionUpdated, StatusActive, p1)
		ev.CancelAtPeriodEnd = true
		require.NoError(t, f.sync.ApplyEvent(ctx, ev))

		sub, err := f.store.GetByProviderID(ctx, "sub_100")
		require.NoError(t, err)
		assert.Equal(t, StatusActive, sub.Status)
		assert.True(t, sub.CancelAtPeriodEnd)
	})
}

func TestSyncApplyCheckout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("records session and pulls the subscription", func(t *testing.T) {
		t.Parallel()
		f := newSyncFixture(t)
		f.provider.subs["sub_100"] = f.subEvent(EventSubscriptionUpdated, StatusActive, p1)

		ev := f.subEvent(EventCheckoutCompleted, StatusActive, p1)
		ev.ProviderEvent = "checkout.session.completed"
		ev.CheckoutSessionID = "cs_42"
		require.NoError(t, f.sync.ApplyEvent(ctx, ev))

		user, err := f.users.Get(ctx, f.user.ID)
		require.NoError(t, err)
		assert.Equal(t, "cs_42", user.CheckoutSessionID)
		assert.Equal(t, "cus_100", user.ProviderCustID)

		sub, err := f.store.GetByProviderID(ctx, "sub_100")
		require.NoError(t, err)
		assert.Equal(t, StatusActive, sub.Status)
	})

	t.Run("one-time order carries no subscription", func(t *testing.T) {
		t.Parallel()
		f := newSyncFixture(t)

		ev := &Event{
			Kind:              EventCheckoutCompleted,
			ProviderEvent:     "checkout.session.completed",
			UserID:            f.user.ID.String(),
			CustomerID:        "cus_100",
			CheckoutSessionID: "cs_43",
		}
		require.NoError(t, f.sync.ApplyEvent(ctx, ev))

		user, err := f.users.Get(ctx, f.user.ID)
		require.NoError(t, err)
		assert.Equal(t, "cs_43", user.CheckoutSessionID)
	})

	t.Run("provider pull failure is not acknowledged", func(t *testing.T) {
		t.Parallel()
		f := newSyncFixture(t)
		f.provider.err = ErrProviderUnavailable

		ev := f.subEvent(EventCheckoutCompleted, StatusActive, p1)
		ev.CheckoutSessionID = "cs_44"
		err := f.sync.ApplyEvent(ctx, ev)
		assert.ErrorIs(t, err, ErrProviderUnavailable)
	})
}

func TestSyncConcurrentRedelivery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSyncFixture(t)

	ev := f.subEvent(EventSubscriptionCreated, StatusActive, p1)
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.sync.ApplyEvent(ctx, ev)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	sub, err := f.store.GetByProviderID(ctx, "sub_100")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, sub.Status)

	subs, err := f.store.ListByUser(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

// captureNotifier counts dunning hooks.
type captureNotifier struct {
	mu            sync.Mutex
	failedCount   int
	canceledCount int
}

func (n *captureNotifier) PaymentFailed(*Subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failedCount++
}

func (n *captureNotifier) SubscriptionCanceled(*Subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.canceledCount++
}

func (n *captureNotifier) failed() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.failedCount
}

func (n *captureNotifier) canceled() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.canceledCount
}
