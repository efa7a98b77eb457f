package billing

import (
	"context"
	"errors"
	"fmt"
)

// Plan describes a catalog entry and its resource/feature constraints.
// PriceID is the provider's price identifier for paid plans, so webhook and
// reconciliation payloads can be mapped back to a plan without guessing.
type Plan struct {
	ID        string             `yaml:"id" json:"id"`
	PriceID   string             `yaml:"price_id" json:"-"`
	ProductID string             `yaml:"product_id" json:"-"`
	Name      string             `yaml:"name" json:"name"`
	Tier      Tier               `yaml:"tier" json:"tier"`
	Price     Money              `yaml:"price" json:"price"`
	Interval  Interval           `yaml:"interval" json:"interval"`
	Limits    map[Resource]int64 `yaml:"limits" json:"limits"`
	Features  []Feature          `yaml:"features" json:"features"`
	Public    bool               `yaml:"public" json:"public"`
	TrialDays int                `yaml:"trial_days" json:"trialDays,omitempty"`
}

// Limit returns the plan's cap for a resource, Unlimited when the resource
// is not listed. Plans opt into limits, not out of them.
func (p Plan) Limit(res Resource) int64 {
	if limit, ok := p.Limits[res]; ok {
		return limit
	}
	return Unlimited
}

// Catalog resolves plans by local id and by the provider's price id.
// It is an injected collaborator: the sync engine never hardcodes plans.
type Catalog interface {
	ByID(ctx context.Context, planID string) (Plan, error)
	ByPriceID(ctx context.Context, priceID string) (Plan, error)
	FreePlan(ctx context.Context) (Plan, error)
	List(ctx context.Context) ([]Plan, error)
}

// CatalogSource loads the raw plan set backing a Catalog.
type CatalogSource interface {
	Load(ctx context.Context) (map[string]Plan, error)
}

type catalog struct {
	plans   map[string]Plan
	byPrice map[string]Plan
	free    string
}

// NewCatalog loads and validates plans from src. Exactly one plan must carry
// TierFree with IntervalNone; it serves as the fallback for users without a
// subscription row.
func NewCatalog(ctx context.Context, src CatalogSource) (Catalog, error) {
	plans, err := src.Load(ctx)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}

	c := &catalog{
		plans:   make(map[string]Plan, len(plans)),
		byPrice: make(map[string]Plan, len(plans)),
	}

	for id, plan := range plans {
		if plan.ID != id {
			return nil, errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan id mismatch: map key %q != plan.ID %q", id, plan.ID))
		}
		if plan.Interval != IntervalNone && plan.PriceID == "" {
			return nil, errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("paid plan %q has no price_id", id))
		}
		if plan.TrialDays < 0 {
			return nil, errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan %q has negative trial days", id))
		}
		if plan.Tier == TierFree && plan.Interval == IntervalNone {
			if c.free != "" {
				return nil, errors.Join(ErrInvalidPlanConfiguration,
					fmt.Errorf("multiple free plans: %q and %q", c.free, id))
			}
			c.free = id
		}
		c.plans[id] = plan
		if plan.PriceID != "" {
			if _, dup := c.byPrice[plan.PriceID]; dup {
				return nil, errors.Join(ErrInvalidPlanConfiguration,
					fmt.Errorf("duplicate price_id %q", plan.PriceID))
			}
			c.byPrice[plan.PriceID] = plan
		}
	}

	if c.free == "" {
		return nil, errors.Join(ErrInvalidPlanConfiguration, errors.New("catalog has no free plan"))
	}

	return c, nil
}

func (c *catalog) ByID(_ context.Context, planID string) (Plan, error) {
	plan, ok := c.plans[planID]
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	return plan, nil
}

func (c *catalog) ByPriceID(_ context.Context, priceID string) (Plan, error) {
	plan, ok := c.byPrice[priceID]
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	return plan, nil
}

func (c *catalog) FreePlan(_ context.Context) (Plan, error) {
	return c.plans[c.free], nil
}

func (c *catalog) List(_ context.Context) ([]Plan, error) {
	out := make([]Plan, 0, len(c.plans))
	for _, plan := range c.plans {
		out = append(out, plan)
	}
	return out, nil
}
