package billing

// Tier identifies the entitlement level a plan grants.
type Tier string

const (
	TierFree       Tier = "free"
	TierPremium    Tier = "premium"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Status mirrors the provider's subscription state machine. It is the single
// source of truth for entitlement; the user projection is derived from it.
type Status string

const (
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
	StatusTrialing          Status = "trialing"
	StatusActive            Status = "active"
	StatusPastDue           Status = "past_due"
	StatusCanceled          Status = "canceled"
	StatusUnpaid            Status = "unpaid"
	StatusPaused            Status = "paused"
)

// Entitled reports whether the status grants access to paid features.
func (s Status) Entitled() bool {
	return s == StatusActive || s == StatusTrialing
}

// Terminal reports whether the subscription can no longer return to an
// entitled state without a new checkout.
func (s Status) Terminal() bool {
	return s == StatusCanceled || s == StatusIncompleteExpired
}

// statusRank orders statuses for stale-event detection within a single
// billing period. A retransmitted event may only move the status forward
// (or sideways); see Sync.ApplyEvent.
var statusRank = map[Status]int{
	StatusIncomplete:        0,
	StatusTrialing:          1,
	StatusActive:            2,
	StatusPaused:            3,
	StatusPastDue:           4,
	StatusUnpaid:            5,
	StatusIncompleteExpired: 6,
	StatusCanceled:          7,
}

// Resource is a countable, quota-limited resource kind.
type Resource string

const (
	ResourceImages  Resource = "images"  // generated images per period
	ResourceModels  Resource = "models"  // generated 3D models per period
	ResourceStorage Resource = "storage" // stored assets, in GB
)

// Resources lists all quota-limited resource kinds.
var Resources = []Resource{ResourceImages, ResourceModels, ResourceStorage}

// Unlimited is the sentinel limit meaning no cap (-1 for SQL compatibility).
const Unlimited int64 = -1

// Feature is a plan-specific capability flag.
type Feature string

const (
	FeatureHDExport       Feature = "hd_export"
	Feature3DGeneration   Feature = "3d_generation"
	FeatureGiftLinks      Feature = "gift_links"
	FeatureBulkGeneration Feature = "bulk_generation"
	FeaturePriority       Feature = "priority_support"
	FeatureAPIAccess      Feature = "api_access"
)

// Money is an amount in the smallest currency unit (cents for USD).
type Money struct {
	Amount   int64  `yaml:"amount" json:"amount"`
	Currency string `yaml:"currency" json:"currency"`
}

// Interval is the billing frequency of a plan.
type Interval string

const (
	IntervalNone    Interval = "none" // free plans, never billed
	IntervalMonthly Interval = "monthly"
	IntervalAnnual  Interval = "annual"
)
