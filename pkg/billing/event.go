package billing

import "time"

// EventKind is the normalized billing event type. Provider implementations
// map their own taxonomy onto these; internal components never branch on raw
// provider payloads.
type EventKind string

const (
	EventCheckoutCompleted   EventKind = "checkout_completed"
	EventSubscriptionCreated EventKind = "subscription_created"
	EventSubscriptionUpdated EventKind = "subscription_updated"
	EventSubscriptionDeleted EventKind = "subscription_deleted"
	EventPaymentSucceeded    EventKind = "payment_succeeded"
	EventPaymentFailed       EventKind = "payment_failed"
	EventIgnored             EventKind = "ignored" // verified but irrelevant to billing state
)

// Event is a verified, decoded provider notification. It is produced exactly
// once at the boundary (Provider.ParseWebhook) or synthesized by the
// Reconciler from a direct provider pull, and both paths feed the same
// Sync.ApplyEvent.
type Event struct {
	ID            string // provider event id, used for logging only
	Kind          EventKind
	ProviderEvent string // original provider event name
	OccurredAt    time.Time

	SubscriptionID string // remote subscription id
	CustomerID     string // remote customer id
	UserID         string // our user id, when the provider carried it (metadata/client ref)
	PriceID        string
	Status         Status

	PeriodStart       time.Time
	PeriodEnd         time.Time
	TrialStart        *time.Time
	TrialEnd          *time.Time
	CancelAtPeriodEnd bool
	CanceledAt        *time.Time
	CancelReason      string

	// CheckoutSessionID is set for checkout events so the session can be
	// recorded on the user for later pull-based repair.
	CheckoutSessionID string

	// Authoritative marks events synthesized from a direct provider pull.
	// A pull is current truth by construction, so it bypasses the stale-event
	// ordering guard that protects against webhook retransmissions.
	Authoritative bool
}

// impliesCreation reports whether this event may construct a subscription
// record that does not exist locally yet.
func (e *Event) impliesCreation() bool {
	switch e.Kind {
	case EventCheckoutCompleted, EventSubscriptionCreated, EventSubscriptionUpdated:
		return e.SubscriptionID != ""
	}
	return false
}
