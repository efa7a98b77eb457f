package billing

import (
	"time"

	"github.com/dreamforge-ai/dreamforge/pkg/billing"
)

type subscriptionSummary struct {
	ID                 string         `json:"id"`
	Plan               string         `json:"plan"`
	Tier               billing.Tier   `json:"tier"`
	Status             billing.Status `json:"status"`
	CurrentPeriodStart time.Time      `json:"currentPeriodStart"`
	CurrentPeriodEnd   time.Time      `json:"currentPeriodEnd"`
	CancelAtPeriodEnd  bool           `json:"cancelAtPeriodEnd"`
}

func newSubscriptionSummary(sub *billing.Subscription) *subscriptionSummary {
	return &subscriptionSummary{
		ID:                 sub.ProviderSubID,
		Plan:               sub.PlanID,
		Tier:               sub.Tier,
		Status:             sub.Status,
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
	}
}

type planSummary struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Tier      billing.Tier      `json:"tier"`
	Price     billing.Money     `json:"price"`
	Interval  billing.Interval  `json:"interval"`
	Limits    map[string]int64  `json:"limits"`
	Features  []billing.Feature `json:"features"`
	TrialDays int               `json:"trialDays,omitempty"`
}

func newPlanSummary(plan billing.Plan) planSummary {
	limits := make(map[string]int64, len(plan.Limits))
	for res, limit := range plan.Limits {
		limits[string(res)] = limit
	}
	return planSummary{
		ID:        plan.ID,
		Name:      plan.Name,
		Tier:      plan.Tier,
		Price:     plan.Price,
		Interval:  plan.Interval,
		Limits:    limits,
		Features:  plan.Features,
		TrialDays: plan.TrialDays,
	}
}
