package quota

import (
	"time"

	"github.com/google/uuid"

	"github.com/dreamforge-ai/dreamforge/pkg/billing"
)

// Scope says which kind of subject a ledger key counts for. Paid usage is
// scoped to a subscription; free-tier users have no subscription row and are
// counted directly by user id.
type Scope string

const (
	ScopeSubscription Scope = "sub"
	ScopeUser         Scope = "user"
)

// Key identifies one subject's counters within one billing period. Period
// start is part of the key, so a rollover naturally starts from zero without
// a separate reset step.
type Key struct {
	Scope       Scope
	Subject     uuid.UUID
	PeriodStart time.Time
}

// Decision is the structured outcome of a check-and-increment. A rejection
// is an expected business outcome, not an error: the caller presents an
// upgrade prompt from the included usage and limit.
type Decision struct {
	Allowed   bool             `json:"allowed"`
	Resource  billing.Resource `json:"resource"`
	Limit     int64            `json:"limit"`     // -1 means unlimited
	Used      int64            `json:"used"`      // after the increment when allowed
	Remaining int64            `json:"remaining"` // -1 means unlimited
	PlanID    string           `json:"plan"`
	Tier      billing.Tier     `json:"tier"`
}

// UsageInfo pairs a counter with its limit for the read-only overview.
type UsageInfo struct {
	Used      int64 `json:"used"`
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`
}

// Overview is the full usage picture for the limits endpoint.
type Overview struct {
	PlanID string                         `json:"plan"`
	Tier   billing.Tier                   `json:"tier"`
	Usage  map[billing.Resource]UsageInfo `json:"usage"`
}

// monthStart is the free tier's period boundary: calendar months in UTC.
func monthStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func remaining(used, limit int64) int64 {
	if limit == billing.Unlimited {
		return billing.Unlimited
	}
	if used >= limit {
		return 0
	}
	return limit - used
}
