package quota

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dreamforge-ai/dreamforge/pkg/billing"
)

// Enforcer answers "may this user consume one more unit of this resource"
// and records the consumption in the same atomic step. Paid users are
// metered against their subscription's billing period; everyone else gets
// the free plan's limits over calendar months.
type Enforcer struct {
	subs    billing.Store
	catalog billing.Catalog
	ledger  Ledger
	log     *slog.Logger
	now     func() time.Time
}

// EnforcerOption configures an Enforcer.
type EnforcerOption func(*Enforcer)

// WithClock overrides the time source, used by tests to pin period
// boundaries.
func WithClock(now func() time.Time) EnforcerOption {
	return func(e *Enforcer) { e.now = now }
}

// NewEnforcer creates a quota enforcer. Panics if any dependency is nil.
func NewEnforcer(subs billing.Store, catalog billing.Catalog, ledger Ledger, log *slog.Logger, opts ...EnforcerOption) *Enforcer {
	if subs == nil {
		panic("quota: subscription store is required")
	}
	if catalog == nil {
		panic("quota: plan catalog is required")
	}
	if ledger == nil {
		panic("quota: ledger is required")
	}
	if log == nil {
		log = slog.Default()
	}
	e := &Enforcer{
		subs:    subs,
		catalog: catalog,
		ledger:  ledger,
		log:     log,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// entitlement is the resolved metering context for one user. providerSubID
// is empty for free-tier users, who have no subscription row.
type entitlement struct {
	key           Key
	plan          billing.Plan
	providerSubID string
}

func (e *Enforcer) resolve(ctx context.Context, userID uuid.UUID) (entitlement, error) {
	subs, err := e.subs.ListByUser(ctx, userID)
	if err != nil {
		return entitlement{}, err
	}

	now := e.now()
	if sub := billing.EntitledSubscription(subs); sub != nil {
		plan, err := e.catalog.ByID(ctx, sub.PlanID)
		if err != nil {
			// Unknown plan id means a catalog rollback raced a webhook;
			// meter at free-tier limits rather than granting everything.
			e.log.WarnContext(ctx, "subscription references unknown plan, falling back to free limits",
				slog.String("user_id", userID.String()),
				slog.String("plan_id", sub.PlanID))
			return e.freeEntitlement(ctx, userID, now)
		}
		return entitlement{
			key: Key{
				Scope:       ScopeSubscription,
				Subject:     sub.ID,
				PeriodStart: sub.CurrentPeriodStart,
			},
			plan:          plan,
			providerSubID: sub.ProviderSubID,
		}, nil
	}

	return e.freeEntitlement(ctx, userID, now)
}

func (e *Enforcer) freeEntitlement(ctx context.Context, userID uuid.UUID, now time.Time) (entitlement, error) {
	plan, err := e.catalog.FreePlan(ctx)
	if err != nil {
		return entitlement{}, err
	}
	return entitlement{
		key: Key{
			Scope:       ScopeUser,
			Subject:     userID,
			PeriodStart: monthStart(now),
		},
		plan: plan,
	}, nil
}

// CheckAndIncrement consumes delta units of resource for the user if the
// active plan's limit allows it. A rejected request is reported through the
// Decision, not through the error return. delta must be at least 1: a zero
// or negative request is a caller bug, never a silent one-unit charge.
func (e *Enforcer) CheckAndIncrement(ctx context.Context, userID uuid.UUID, resource billing.Resource, delta int64) (Decision, error) {
	if delta <= 0 {
		return Decision{}, ErrInvalidIncrement
	}
	ent, err := e.resolve(ctx, userID)
	if err != nil {
		return Decision{}, err
	}

	limit := ent.plan.Limit(resource)
	used, allowed, err := e.ledger.Increment(ctx, ent.key, resource, delta, limit)
	if err != nil {
		return Decision{}, err
	}

	// Mirror accepted consumption onto the canonical row so its counters
	// track reality and the reset-on-rollover rule operates on live data.
	// Best-effort: the ledger has already committed the enforcement decision.
	if allowed && ent.providerSubID != "" {
		if err := e.subs.AddUsage(ctx, ent.providerSubID, resource, delta); err != nil {
			e.log.WarnContext(ctx, "usage write-back to subscription row failed",
				slog.String("user_id", userID.String()),
				slog.String("provider_sub_id", ent.providerSubID),
				slog.String("resource", string(resource)),
				slog.Any("error", err))
		}
	}

	return Decision{
		Allowed:   allowed,
		Resource:  resource,
		Limit:     limit,
		Used:      used,
		Remaining: remaining(used, limit),
		PlanID:    ent.plan.ID,
		Tier:      ent.plan.Tier,
	}, nil
}

// Limits reports the user's current usage against every limited resource of
// their active plan.
func (e *Enforcer) Limits(ctx context.Context, userID uuid.UUID) (Overview, error) {
	ent, err := e.resolve(ctx, userID)
	if err != nil {
		return Overview{}, err
	}

	usage, err := e.ledger.Usage(ctx, ent.key)
	if err != nil {
		return Overview{}, err
	}

	out := Overview{
		PlanID: ent.plan.ID,
		Tier:   ent.plan.Tier,
		Usage:  make(map[billing.Resource]UsageInfo, len(ent.plan.Limits)),
	}
	for res, limit := range ent.plan.Limits {
		used := usage[res]
		out.Usage[res] = UsageInfo{
			Used:      used,
			Limit:     limit,
			Remaining: remaining(used, limit),
		}
	}
	return out, nil
}
