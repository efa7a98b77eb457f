package billing

import (
	"time"

	"github.com/google/uuid"
)

// Subscription is the canonical, provider-backed record. ProviderSubID is
// unique: a user may accumulate historical rows, but each remote subscription
// maps to exactly one local record. Rows are never hard-deleted, only
// transitioned to a terminal status.
type Subscription struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	ProviderSubID  string // remote subscription id, unique
	ProviderCustID string // remote customer id
	PriceID        string // remote price id the plan was resolved from
	PlanID         string
	Tier           Tier
	Status         Status

	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	TrialStart         *time.Time
	TrialEnd           *time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
	CancelReason       string

	Usage Usage

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Usage holds per-period consumption counters. Reset whenever
// CurrentPeriodStart changes; usage never silently crosses a billing boundary.
type Usage struct {
	Images    int64
	Models    int64
	StorageGB int64
	LastReset time.Time
}

// Get returns the counter for a resource kind.
func (u Usage) Get(res Resource) int64 {
	switch res {
	case ResourceImages:
		return u.Images
	case ResourceModels:
		return u.Models
	case ResourceStorage:
		return u.StorageGB
	}
	return 0
}

// Add returns a copy with the resource counter increased by amount.
func (u Usage) Add(res Resource, amount int64) Usage {
	switch res {
	case ResourceImages:
		u.Images += amount
	case ResourceModels:
		u.Models += amount
	case ResourceStorage:
		u.StorageGB += amount
	}
	return u
}

// Entitled reports whether this subscription currently grants paid access.
func (s *Subscription) Entitled() bool {
	return s.Status.Entitled()
}

// supersedes reports whether an incoming (status, period start) pair is newer
// than the stored one. Billing period takes precedence; within the same
// period, status may only advance through the provider's state machine rank.
// This is the guard that keeps stale retransmissions from regressing state.
func (s *Subscription) supersedes(status Status, periodStart time.Time) bool {
	switch {
	case periodStart.After(s.CurrentPeriodStart):
		return true
	case periodStart.Before(s.CurrentPeriodStart):
		return false
	default:
		// A paused subscription resumes to whatever the provider reports;
		// pause has no forward rank relative to the entitled states.
		if s.Status == StatusPaused {
			return true
		}
		return statusRank[status] >= statusRank[s.Status]
	}
}

// sameState reports whether applying (status, period, price) would be a no-op.
// Required because the provider may deliver the same event more than once. An
// empty priceID means the event carried none and cannot signal a plan change.
func (s *Subscription) sameState(status Status, periodStart, periodEnd time.Time, cancelAtPeriodEnd bool, priceID string) bool {
	return s.Status == status &&
		s.CurrentPeriodStart.Equal(periodStart) &&
		s.CurrentPeriodEnd.Equal(periodEnd) &&
		s.CancelAtPeriodEnd == cancelAtPeriodEnd &&
		(priceID == "" || s.PriceID == priceID)
}
