package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeConfig holds configuration for the Stripe billing provider.
type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY,required"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET,required"`
	SuccessURL    string `env:"STRIPE_CHECKOUT_SUCCESS_URL,required"`
	CancelURL     string `env:"STRIPE_CHECKOUT_CANCEL_URL,required"`
}

// StripeProvider implements Provider for Stripe. The client is injected into
// the struct rather than configured through the package-global stripe.Key so
// two providers (e.g. live and test mode) can coexist in one process.
type StripeProvider struct {
	api    *client.API
	config StripeConfig
}

// NewStripeProvider creates a Stripe-backed billing provider.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe secret key is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("stripe webhook secret is required")
	}

	api := &client.API{}
	api.Init(cfg.SecretKey, nil)

	return &StripeProvider{api: api, config: cfg}, nil
}

// metadata key carrying our user id through checkout and webhooks.
const stripeUserIDKey = "user_id"

// ParseWebhook verifies the Stripe-Signature header and decodes the payload
// into a normalized Event. Verification failures are ErrVerification so the
// transport answers non-2xx and Stripe retries with backoff.
func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (*Event, error) {
	ev, err := webhook.ConstructEvent(payload, signature, p.config.WebhookSecret)
	if err != nil {
		return nil, errors.Join(ErrVerification, err)
	}

	out := &Event{
		ID:            ev.ID,
		ProviderEvent: string(ev.Type),
		OccurredAt:    time.Unix(ev.Created, 0).UTC(),
	}

	switch string(ev.Type) {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &session); err != nil {
			return nil, errors.Join(ErrVerification, fmt.Errorf("decode checkout session: %w", err))
		}
		out.Kind = EventCheckoutCompleted
		out.CheckoutSessionID = session.ID
		out.UserID = session.ClientReferenceID
		if session.Customer != nil {
			out.CustomerID = session.Customer.ID
		}
		if session.Subscription != nil {
			out.SubscriptionID = session.Subscription.ID
		}

	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted",
		"customer.subscription.paused",
		"customer.subscription.resumed":
		var sub stripe.Subscription
		if err := json.Unmarshal(ev.Data.Raw, &sub); err != nil {
			return nil, errors.Join(ErrVerification, fmt.Errorf("decode subscription: %w", err))
		}
		kind := EventSubscriptionUpdated
		switch string(ev.Type) {
		case "customer.subscription.created":
			kind = EventSubscriptionCreated
		case "customer.subscription.deleted":
			kind = EventSubscriptionDeleted
		}
		fillFromSubscription(out, kind, &sub)

	case "invoice.payment_succeeded", "invoice.payment_failed":
		subID, err := invoiceSubscriptionID(ev.Data.Raw)
		if err != nil {
			return nil, errors.Join(ErrVerification, err)
		}
		if subID == "" {
			// One-time order invoices carry no subscription; nothing to sync.
			out.Kind = EventIgnored
			break
		}
		if string(ev.Type) == "invoice.payment_succeeded" {
			out.Kind = EventPaymentSucceeded
		} else {
			out.Kind = EventPaymentFailed
		}
		out.SubscriptionID = subID

	default:
		out.Kind = EventIgnored
	}

	return out, nil
}

// GetSubscription pulls a subscription from Stripe and normalizes it into an
// update event, so reconciliation replays the exact same code path as a push.
func (p *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*Event, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := p.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, stripeFetchErr("subscription", subscriptionID, err)
	}

	out := &Event{
		ProviderEvent: "reconcile.subscription",
		OccurredAt:    time.Now().UTC(),
		Authoritative: true,
	}
	fillFromSubscription(out, EventSubscriptionUpdated, sub)
	return out, nil
}

// GetCheckoutSession resolves a checkout session to the subscription it
// produced, expanded inline to save a round trip.
func (p *StripeProvider) GetCheckoutSession(ctx context.Context, sessionID string) (*Event, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("subscription")

	session, err := p.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, stripeFetchErr("checkout session", sessionID, err)
	}
	if session.Subscription == nil {
		return nil, ErrNoProviderRecord
	}

	out := &Event{
		ProviderEvent:     "reconcile.checkout_session",
		OccurredAt:        time.Now().UTC(),
		CheckoutSessionID: session.ID,
		Authoritative:     true,
	}
	fillFromSubscription(out, EventSubscriptionUpdated, session.Subscription)
	if out.UserID == "" {
		out.UserID = session.ClientReferenceID
	}
	if out.CustomerID == "" && session.Customer != nil {
		out.CustomerID = session.Customer.ID
	}
	return out, nil
}

// ListSubscriptions returns normalized events for all of a customer's
// subscriptions, any status, newest first (Stripe's default ordering).
func (p *StripeProvider) ListSubscriptions(ctx context.Context, customerID string) ([]*Event, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	params.Context = ctx

	var events []*Event
	iter := p.api.Subscriptions.List(params)
	for iter.Next() {
		out := &Event{
			ProviderEvent: "reconcile.subscription",
			OccurredAt:    time.Now().UTC(),
			Authoritative: true,
		}
		fillFromSubscription(out, EventSubscriptionUpdated, iter.Subscription())
		events = append(events, out)
	}
	if err := iter.Err(); err != nil {
		return nil, stripeFetchErr("subscription list", customerID, err)
	}
	return events, nil
}

// CreateCheckout opens a hosted Checkout session in subscription mode. The
// user id rides along twice: as the session's client reference and as
// subscription metadata, so both checkout and subscription webhooks can
// resolve the owner without a lookup table.
func (p *StripeProvider) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if req.PriceID == "" {
		return nil, errors.New("price ID is required")
	}
	if req.UserID == "" {
		return nil, errors.New("user ID is required")
	}

	successURL := req.SuccessURL
	if successURL == "" {
		successURL = p.config.SuccessURL
	}
	cancelURL := req.CancelURL
	if cancelURL == "" {
		cancelURL = p.config.CancelURL
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(req.UserID),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{stripeUserIDKey: req.UserID},
		},
	}
	params.Context = ctx
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	} else if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}

	session, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create stripe checkout session: %w", err)
	}
	if session.URL == "" {
		return nil, errors.New("no checkout URL returned from stripe")
	}

	return &CheckoutSession{SessionID: session.ID, URL: session.URL}, nil
}

// CreatePortalLink returns a pre-authenticated billing portal URL.
func (p *StripeProvider) CreatePortalLink(ctx context.Context, customerID string) (string, error) {
	if customerID == "" {
		return "", errors.New("customer ID is required")
	}

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(p.config.SuccessURL),
	}
	params.Context = ctx

	session, err := p.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("create stripe portal session: %w", err)
	}
	return session.URL, nil
}

// fillFromSubscription normalizes a Stripe subscription object into an Event.
// Billing period fields live on the subscription item since the 2025 API.
func fillFromSubscription(out *Event, kind EventKind, sub *stripe.Subscription) {
	out.Kind = kind
	out.SubscriptionID = sub.ID
	out.Status = mapStripeStatus(sub.Status)
	out.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	out.UserID = sub.Metadata[stripeUserIDKey]

	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.CanceledAt > 0 {
		t := time.Unix(sub.CanceledAt, 0).UTC()
		out.CanceledAt = &t
	}
	if sub.CancellationDetails != nil {
		out.CancelReason = string(sub.CancellationDetails.Reason)
	}
	if sub.TrialStart > 0 {
		t := time.Unix(sub.TrialStart, 0).UTC()
		out.TrialStart = &t
	}
	if sub.TrialEnd > 0 {
		t := time.Unix(sub.TrialEnd, 0).UTC()
		out.TrialEnd = &t
	}

	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		out.PeriodStart = time.Unix(item.CurrentPeriodStart, 0).UTC()
		out.PeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
		if item.Price != nil {
			out.PriceID = item.Price.ID
		}
	}
}

// invoiceSubscriptionID digs the subscription id out of an invoice payload.
// The field moved under parent.subscription_details in newer API versions,
// so both shapes are checked explicitly.
func invoiceSubscriptionID(raw json.RawMessage) (string, error) {
	var invoice struct {
		Subscription string `json:"subscription"`
		Parent       struct {
			SubscriptionDetails struct {
				Subscription string `json:"subscription"`
			} `json:"subscription_details"`
		} `json:"parent"`
	}
	if err := json.Unmarshal(raw, &invoice); err != nil {
		return "", fmt.Errorf("decode invoice: %w", err)
	}
	if invoice.Parent.SubscriptionDetails.Subscription != "" {
		return invoice.Parent.SubscriptionDetails.Subscription, nil
	}
	return invoice.Subscription, nil
}

func mapStripeStatus(s stripe.SubscriptionStatus) Status {
	switch s {
	case stripe.SubscriptionStatusIncomplete:
		return StatusIncomplete
	case stripe.SubscriptionStatusIncompleteExpired:
		return StatusIncompleteExpired
	case stripe.SubscriptionStatusTrialing:
		return StatusTrialing
	case stripe.SubscriptionStatusActive:
		return StatusActive
	case stripe.SubscriptionStatusPastDue:
		return StatusPastDue
	case stripe.SubscriptionStatusCanceled:
		return StatusCanceled
	case stripe.SubscriptionStatusUnpaid:
		return StatusUnpaid
	case stripe.SubscriptionStatusPaused:
		return StatusPaused
	default:
		return Status(s)
	}
}

func stripeFetchErr(what, id string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == 404 {
		return errors.Join(ErrNoProviderRecord, err)
	}
	return errors.Join(ErrProviderUnavailable, fmt.Errorf("fetch %s %s: %w", what, id, err))
}
