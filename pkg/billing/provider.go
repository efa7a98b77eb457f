package billing

import "context"

// Provider is the narrow interface to the external payment system. It keeps
// the sync engine testable without network access and avoids vendor lock-in:
// implementations handle provider quirks (signature schemes, nested payload
// shapes) internally and emit normalized Events.
type Provider interface {
	// ParseWebhook validates the signature and decodes the payload into a
	// typed Event. Any failure is ErrVerification: the caller answers non-2xx
	// and the provider retries on its own schedule.
	ParseWebhook(payload []byte, signature string) (*Event, error)

	// GetSubscription pulls current truth for a remote subscription id and
	// normalizes it into an Event, as if a fresh update had just arrived.
	GetSubscription(ctx context.Context, subscriptionID string) (*Event, error)

	// GetCheckoutSession resolves a checkout session handle to the
	// subscription it produced. Returns ErrNoProviderRecord when the session
	// never completed into a subscription.
	GetCheckoutSession(ctx context.Context, sessionID string) (*Event, error)

	// ListSubscriptions returns normalized Events for every subscription the
	// provider holds for a remote customer, newest first.
	ListSubscriptions(ctx context.Context, customerID string) ([]*Event, error)

	// CreateCheckout opens a hosted checkout session for a plan.
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)

	// CreatePortalLink returns a pre-authenticated billing portal URL where
	// the customer manages payment methods and cancellation.
	CreatePortalLink(ctx context.Context, customerID string) (string, error)
}

// CheckoutRequest carries what the provider needs to open a checkout.
type CheckoutRequest struct {
	PriceID    string
	UserID     string // carried through metadata/client reference, round-trips in webhooks
	CustomerID string // existing remote customer id, empty on first purchase
	Email      string
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is a hosted checkout handle. SessionID is recorded on the
// user so a lost completion webhook can later be healed by the Reconciler.
type CheckoutSession struct {
	SessionID string
	URL       string
}
