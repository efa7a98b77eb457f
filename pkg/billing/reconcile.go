package billing

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// Reconciler is the pull-based repair path. It asks the provider for current
// truth and replays it through Sync.ApplyEvent, so push and pull share one
// definition of state application. Used by operators after a missing webhook
// and by the scheduled sweep over stale checkouts.
type Reconciler struct {
	sync     *Sync
	store    Store
	users    UserStore
	provider Provider
	log      *slog.Logger
}

// NewReconciler wires the pull path against the same collaborators as Sync.
func NewReconciler(sync *Sync, store Store, users UserStore, provider Provider, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{sync: sync, store: store, users: users, provider: provider, log: log}
}

// Outcome reports what a reconciliation pass found and did. Found=false is an
// explicit "provider has no subscription for this handle" report; it is never
// silently treated as a cancellation.
type Outcome struct {
	Found        bool
	Subscription *Subscription
	Mismatch     *ReconciliationMismatch
}

// Reconcile pulls provider truth for a user and applies it. The handle may be
// a checkout session id ("cs_…") or a subscription id ("sub_…"); when empty,
// the user's recorded checkout session and remote customer id are tried in
// that order.
func (r *Reconciler) Reconcile(ctx context.Context, userID uuid.UUID, handle string) (*Outcome, error) {
	user, err := r.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	ev, err := r.pull(ctx, user, handle)
	if err != nil {
		if errors.Is(err, ErrNoProviderRecord) {
			return &Outcome{Found: false}, nil
		}
		return nil, err
	}
	if ev == nil {
		return &Outcome{Found: false}, nil
	}

	if ev.UserID == "" {
		ev.UserID = userID.String()
	}
	// Regardless of the provider implementation, a pulled event is current
	// truth and must be able to correct local state in either direction.
	ev.Authoritative = true

	// Capture local state before the replay to report divergence.
	var mismatch *ReconciliationMismatch
	if local, err := r.store.GetByProviderID(ctx, ev.SubscriptionID); err == nil {
		if local.Status != ev.Status || !local.CurrentPeriodStart.Equal(ev.PeriodStart) {
			mismatch = &ReconciliationMismatch{
				SubscriptionID: ev.SubscriptionID,
				LocalStatus:    local.Status,
				RemoteStatus:   ev.Status,
			}
			r.log.WarnContext(ctx, "reconciliation mismatch, correcting toward provider",
				slog.String("provider_sub_id", ev.SubscriptionID),
				slog.String("local_status", string(local.Status)),
				slog.String("remote_status", string(ev.Status)))
		}
	}

	if err := r.sync.ApplyEvent(ctx, ev); err != nil {
		return nil, err
	}

	sub, err := r.store.GetByProviderID(ctx, ev.SubscriptionID)
	if err != nil {
		return nil, err
	}
	return &Outcome{Found: true, Subscription: sub, Mismatch: mismatch}, nil
}

// pull fetches the freshest provider state reachable from the handle or the
// user's recorded billing identifiers.
func (r *Reconciler) pull(ctx context.Context, user *User, handle string) (*Event, error) {
	switch {
	case strings.HasPrefix(handle, "cs_"):
		return r.provider.GetCheckoutSession(ctx, handle)
	case handle != "":
		return r.provider.GetSubscription(ctx, handle)
	}

	if user.CheckoutSessionID != "" {
		ev, err := r.provider.GetCheckoutSession(ctx, user.CheckoutSessionID)
		if err == nil {
			return ev, nil
		}
		if !errors.Is(err, ErrNoProviderRecord) {
			return nil, err
		}
		// Session expired without a subscription; fall through to the
		// customer listing.
	}

	if user.ProviderCustID == "" {
		return nil, nil
	}

	events, err := r.provider.ListSubscriptions(ctx, user.ProviderCustID)
	if err != nil {
		return nil, err
	}
	return pickFreshest(events), nil
}

// pickFreshest prefers an entitled subscription, then the latest billing
// period, mirroring the projection's resolution order.
func pickFreshest(events []*Event) *Event {
	var best *Event
	for _, ev := range events {
		if best == nil {
			best = ev
			continue
		}
		switch {
		case ev.Status.Entitled() && !best.Status.Entitled():
			best = ev
		case ev.Status.Entitled() == best.Status.Entitled() && ev.PeriodStart.After(best.PeriodStart):
			best = ev
		}
	}
	return best
}
