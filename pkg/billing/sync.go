package billing

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sync applies normalized provider events to the subscription store. Both the
// webhook path and the reconciliation path feed ApplyEvent, so there is a
// single definition of what a subscription should look like after an event.
//
// ApplyEvent is idempotent: re-running it with the same event leaves the
// store unchanged, which is what makes at-least-once redelivery and
// cancellation-without-rollback safe.
type Sync struct {
	store    Store
	users    UserStore
	catalog  Catalog
	provider Provider
	proj     *Projector
	notify   Notifier
	log      *slog.Logger

	// Mutations are serialized per remote subscription id; different
	// subscriptions proceed in parallel. Lock striping keeps the map bounded.
	locks [64]sync.Mutex
}

// SyncOption configures optional Sync collaborators.
type SyncOption func(*Sync)

// WithNotifier attaches a dunning notifier fired on entry into past_due or
// canceled. Dispatch is fire-and-forget and never blocks ApplyEvent.
func WithNotifier(n Notifier) SyncOption {
	return func(s *Sync) { s.notify = n }
}

// NewSync wires the event application engine. All stores are injected;
// panics on nil required collaborators to fail fast at startup.
func NewSync(store Store, users UserStore, catalog Catalog, provider Provider, proj *Projector, log *slog.Logger, opts ...SyncOption) *Sync {
	if store == nil || users == nil || catalog == nil || provider == nil || proj == nil {
		panic("billing: Sync requires store, users, catalog, provider and projector")
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Sync{
		store:    store,
		users:    users,
		catalog:  catalog,
		provider: provider,
		proj:     proj,
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sync) lockFor(providerSubID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(providerSubID))
	return &s.locks[h.Sum32()%uint32(len(s.locks))]
}

// ApplyEvent routes a verified event into a subscription mutation and hands
// the result to the projection updater. Errors follow the taxonomy: wrapped
// ErrTransientStore and ErrProviderUnavailable mean "do not acknowledge,
// redelivery will retry"; UnknownSubjectError is fatal and must surface to an
// operator; everything else is terminal for this event.
func (s *Sync) ApplyEvent(ctx context.Context, ev *Event) error {
	switch ev.Kind {
	case EventIgnored:
		return nil

	case EventCheckoutCompleted:
		return s.applyCheckout(ctx, ev)

	case EventPaymentSucceeded, EventPaymentFailed:
		return s.applyPaymentOutcome(ctx, ev)

	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		return s.applySubscriptionState(ctx, ev)

	default:
		s.log.WarnContext(ctx, "unhandled billing event kind",
			slog.String("kind", string(ev.Kind)), slog.String("provider_event", ev.ProviderEvent))
		return nil
	}
}

// applyCheckout anchors the session on the user, then pulls the produced
// subscription from the provider and applies it through the normal path.
// Checkout payloads don't carry billing periods, so the pull is required for
// a complete record.
func (s *Sync) applyCheckout(ctx context.Context, ev *Event) error {
	user, err := s.resolveUser(ctx, ev)
	if err != nil {
		return err
	}

	if err := s.users.RecordCheckout(ctx, user.ID, ev.CheckoutSessionID, ev.CustomerID); err != nil {
		return errors.Join(ErrTransientStore, err)
	}

	if ev.SubscriptionID == "" {
		// One-time order checkout; no subscription to sync.
		return nil
	}

	full, err := s.provider.GetSubscription(ctx, ev.SubscriptionID)
	if err != nil {
		return err
	}
	if full.UserID == "" {
		full.UserID = user.ID.String()
	}
	return s.applySubscriptionState(ctx, full)
}

// applyPaymentOutcome handles invoice results, which carry only a
// subscription id. A failed renewal pushes an entitled subscription to
// past_due; a success recovers past_due back to active. The authoritative
// customer.subscription.updated event usually follows and lands on the same
// state, making this a no-op by the idempotency rule.
func (s *Sync) applyPaymentOutcome(ctx context.Context, ev *Event) error {
	lock := s.lockFor(ev.SubscriptionID)
	lock.Lock()
	defer lock.Unlock()

	sub, err := s.store.GetByProviderID(ctx, ev.SubscriptionID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			// Nothing local to transition; the subscription event that
			// creates the record carries the full state anyway.
			s.log.InfoContext(ctx, "payment event for unknown subscription, skipping",
				slog.String("provider_sub_id", ev.SubscriptionID))
			return nil
		}
		return errors.Join(ErrTransientStore, err)
	}

	// The switch itself encodes the only legal invoice-driven transitions, so
	// the general ordering guard does not apply here: recovery from past_due
	// back to active is a deliberate step backwards in rank.
	var target Status
	switch {
	case ev.Kind == EventPaymentFailed && sub.Status.Entitled():
		target = StatusPastDue
	case ev.Kind == EventPaymentSucceeded && (sub.Status == StatusPastDue || sub.Status == StatusIncomplete):
		target = StatusActive
	default:
		return nil
	}

	prev := sub.Status
	sub.Status = target
	sub.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, sub); err != nil {
		return errors.Join(ErrTransientStore, err)
	}

	s.afterMutation(ctx, sub, prev)
	return nil
}

// applySubscriptionState is the update-in-place core: overwrite status and
// billing fields from the event, never usage (except the reset rule).
func (s *Sync) applySubscriptionState(ctx context.Context, ev *Event) error {
	if ev.SubscriptionID == "" {
		return fmt.Errorf("subscription event %s carries no subscription id", ev.ProviderEvent)
	}

	lock := s.lockFor(ev.SubscriptionID)
	lock.Lock()
	defer lock.Unlock()

	sub, err := s.store.GetByProviderID(ctx, ev.SubscriptionID)
	switch {
	case err == nil:
		return s.updateExisting(ctx, sub, ev)
	case errors.Is(err, ErrSubscriptionNotFound):
		if !ev.impliesCreation() {
			s.log.InfoContext(ctx, "event for unknown subscription, skipping",
				slog.String("provider_event", ev.ProviderEvent),
				slog.String("provider_sub_id", ev.SubscriptionID))
			return nil
		}
		return s.createFromEvent(ctx, ev)
	default:
		return errors.Join(ErrTransientStore, err)
	}
}

func (s *Sync) createFromEvent(ctx context.Context, ev *Event) error {
	user, err := s.resolveUser(ctx, ev)
	if err != nil {
		return err
	}

	plan, err := s.catalog.ByPriceID(ctx, ev.PriceID)
	if err != nil {
		return fmt.Errorf("event price %q maps to no catalog plan: %w", ev.PriceID, err)
	}

	now := time.Now().UTC()
	sub := &Subscription{
		ID:                 uuid.New(),
		UserID:             user.ID,
		ProviderSubID:      ev.SubscriptionID,
		ProviderCustID:     ev.CustomerID,
		PriceID:            ev.PriceID,
		PlanID:             plan.ID,
		Tier:               plan.Tier,
		Status:             ev.Status,
		CurrentPeriodStart: ev.PeriodStart,
		CurrentPeriodEnd:   ev.PeriodEnd,
		TrialStart:         ev.TrialStart,
		TrialEnd:           ev.TrialEnd,
		CancelAtPeriodEnd:  ev.CancelAtPeriodEnd,
		CanceledAt:         ev.CanceledAt,
		CancelReason:       ev.CancelReason,
		Usage:              Usage{LastReset: now},
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.store.Create(ctx, sub); err != nil {
		if errors.Is(err, ErrSubscriptionAlreadyExists) {
			// Lost a first-delivery race; the winner's row is canonical.
			existing, getErr := s.store.GetByProviderID(ctx, ev.SubscriptionID)
			if getErr != nil {
				return errors.Join(ErrTransientStore, getErr)
			}
			return s.updateExisting(ctx, existing, ev)
		}
		return errors.Join(ErrTransientStore, err)
	}

	s.afterMutation(ctx, sub, "")
	return nil
}

func (s *Sync) updateExisting(ctx context.Context, sub *Subscription, ev *Event) error {
	// Ordering rule: stale retransmissions never regress state. Events pulled
	// straight from the provider are current truth and skip the guard, or a
	// reconciliation could never correct a local state that ranks higher than
	// the provider's.
	if !ev.Authoritative && !sub.supersedes(ev.Status, ev.PeriodStart) {
		s.log.DebugContext(ctx, "stale billing event dropped",
			slog.String("provider_sub_id", sub.ProviderSubID),
			slog.String("stored_status", string(sub.Status)),
			slog.String("event_status", string(ev.Status)))
		return nil
	}

	// Idempotency rule: exact redelivery is a no-op.
	if sub.sameState(ev.Status, ev.PeriodStart, ev.PeriodEnd, ev.CancelAtPeriodEnd, ev.PriceID) {
		return nil
	}

	now := time.Now().UTC()

	// Reset rule: usage never crosses a billing boundary.
	if !ev.PeriodStart.Equal(sub.CurrentPeriodStart) {
		sub.Usage = Usage{LastReset: now}
	}

	prev := sub.Status
	sub.Status = ev.Status
	sub.CurrentPeriodStart = ev.PeriodStart
	sub.CurrentPeriodEnd = ev.PeriodEnd
	sub.TrialStart = ev.TrialStart
	sub.TrialEnd = ev.TrialEnd
	sub.CancelAtPeriodEnd = ev.CancelAtPeriodEnd
	sub.CanceledAt = ev.CanceledAt
	if ev.CancelReason != "" {
		sub.CancelReason = ev.CancelReason
	}
	if ev.PriceID != "" && ev.PriceID != sub.PriceID {
		// Plan change (upgrade/downgrade) arrived as an update.
		if plan, err := s.catalog.ByPriceID(ctx, ev.PriceID); err == nil {
			sub.PriceID = ev.PriceID
			sub.PlanID = plan.ID
			sub.Tier = plan.Tier
		} else {
			s.log.WarnContext(ctx, "event price maps to no catalog plan, keeping stored plan",
				slog.String("price_id", ev.PriceID))
		}
	}
	sub.UpdatedAt = now

	if err := s.store.Update(ctx, sub); err != nil {
		return errors.Join(ErrTransientStore, err)
	}

	s.afterMutation(ctx, sub, prev)
	return nil
}

// afterMutation propagates a successful canonical write: projection refresh
// (async, retried, never blocks) and dunning notification on entry into a
// delinquent or terminal state.
func (s *Sync) afterMutation(ctx context.Context, sub *Subscription, prev Status) {
	s.proj.Dispatch(sub.UserID)

	if s.notify == nil || prev == sub.Status {
		return
	}
	switch sub.Status {
	case StatusPastDue:
		s.notify.PaymentFailed(sub)
	case StatusCanceled:
		s.notify.SubscriptionCanceled(sub)
	}
}

// resolveUser maps an event to a local user: the user id carried in provider
// metadata wins, then the remote customer id. Failing both on an event that
// requires a subject is the fatal UnknownSubjectError.
func (s *Sync) resolveUser(ctx context.Context, ev *Event) (*User, error) {
	if ev.UserID != "" {
		if id, err := uuid.Parse(ev.UserID); err == nil {
			user, err := s.users.Get(ctx, id)
			if err == nil {
				return user, nil
			}
			if !errors.Is(err, ErrUserNotFound) {
				return nil, errors.Join(ErrTransientStore, err)
			}
		}
	}

	if ev.CustomerID != "" {
		user, err := s.users.ByProviderCustID(ctx, ev.CustomerID)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, ErrUserNotFound) {
			return nil, errors.Join(ErrTransientStore, err)
		}
	}

	return nil, &UnknownSubjectError{CustomerID: ev.CustomerID, SubscriptionID: ev.SubscriptionID}
}
