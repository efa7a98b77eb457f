package billing

import (
	"context"

	"github.com/google/uuid"
)

// Store persists canonical subscription records. Implementations must enforce
// uniqueness on ProviderSubID: Create returns ErrSubscriptionAlreadyExists
// when a record for the same remote subscription exists, which is how
// concurrent first-delivery races collapse into a single row.
type Store interface {
	// GetByProviderID returns the record for a remote subscription id.
	// Returns ErrSubscriptionNotFound if no record exists.
	GetByProviderID(ctx context.Context, providerSubID string) (*Subscription, error)

	// ListByUser returns all subscription rows a user has accumulated,
	// newest CurrentPeriodEnd first.
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*Subscription, error)

	// Create inserts a new record. ProviderSubID uniqueness is enforced here.
	Create(ctx context.Context, sub *Subscription) error

	// Update overwrites status, billing and usage fields of an existing row.
	Update(ctx context.Context, sub *Subscription) error

	// AddUsage atomically adds delta to one usage counter of an existing row.
	// The quota path mirrors every accepted increment here so the canonical
	// record's counters track real consumption; the ledger remains the
	// enforcement source of truth.
	AddUsage(ctx context.Context, providerSubID string, res Resource, delta int64) error
}

// EntitledSubscription picks the row the projection and quota resolution use:
// status in {active, trialing} with the latest CurrentPeriodEnd. Returns nil
// when none qualifies (the caller falls back to the free tier).
func EntitledSubscription(subs []*Subscription) *Subscription {
	var best *Subscription
	for _, sub := range subs {
		if !sub.Entitled() {
			continue
		}
		if best == nil || sub.CurrentPeriodEnd.After(best.CurrentPeriodEnd) {
			best = sub
		}
	}
	return best
}
