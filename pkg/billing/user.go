package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// User is the slice of the user entity the billing engine reads and writes.
// The full user record (auth, profile, moderation flags) lives elsewhere;
// this engine owns only the denormalized subscription fields and the billing
// identifiers.
type User struct {
	ID                uuid.UUID
	Email             string
	ProviderCustID    string // remote customer id, set on first checkout
	CheckoutSessionID string // last known checkout session, reconciliation anchor
	CheckoutStartedAt *time.Time
	Projection        Projection
}

// Projection is the denormalized summary of the user's entitled subscription,
// kept so request-path code never joins against subscription rows. It is
// eventually consistent and must never grant more access than the canonical
// record: on any inconsistency the fallback is the free tier.
type Projection struct {
	Tier      Tier
	Status    Status
	PlanID    string
	PeriodEnd time.Time
	Features  []Feature

	// Version orders projection writes: computed from the canonical record's
	// UpdatedAt so retries carrying earlier state never overwrite later
	// state, regardless of arrival order.
	Version int64
}

// Entitled reports whether the projection grants paid access right now.
// Expired period ends fail toward free even if the status looks entitled.
func (p Projection) Entitled(now time.Time) bool {
	return p.Status.Entitled() && now.Before(p.PeriodEnd)
}

// UserStore is the injected collaborator owning user rows. SaveProjection
// implementations must apply the Version guard: a write with a Version lower
// than the stored one is silently dropped (last-write-wins by version, not
// by arrival time).
type UserStore interface {
	// Get returns the billing view of a user.
	Get(ctx context.Context, userID uuid.UUID) (*User, error)

	// ByProviderCustID resolves a remote customer id to a user. Returns
	// ErrUserNotFound when no user carries that customer id.
	ByProviderCustID(ctx context.Context, customerID string) (*User, error)

	// SaveProjection writes the denormalized subscription summary.
	SaveProjection(ctx context.Context, userID uuid.UUID, p Projection) error

	// RecordCheckout stamps the user's latest checkout session and remote
	// customer id so a lost completion webhook can be healed by a pull.
	RecordCheckout(ctx context.Context, userID uuid.UUID, sessionID, customerID string) error

	// StaleCheckouts returns users whose recorded checkout session is older
	// than the cutoff but whose projection still shows no entitled plan.
	// Feeds the scheduled reconciliation sweep.
	StaleCheckouts(ctx context.Context, cutoff time.Time) ([]*User, error)
}

// FreeProjection builds the fallback projection from the catalog's free plan.
func FreeProjection(plan Plan, version int64) Projection {
	return Projection{
		Tier:     plan.Tier,
		Status:   "",
		PlanID:   plan.ID,
		Features: plan.Features,
		Version:  version,
	}
}
