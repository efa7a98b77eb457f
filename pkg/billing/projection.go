package billing

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Projector maintains the denormalized subscription summary on the user
// entity. Refresh recomputes the projection from canonical rows at write
// time, so a retried write always carries current truth; the Version guard
// in UserStore.SaveProjection rejects anything older than what is stored.
type Projector struct {
	store   Store
	users   UserStore
	catalog Catalog
	log     *slog.Logger

	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration

	mu       sync.Mutex
	inflight map[uuid.UUID]bool
	wg       sync.WaitGroup
}

// ProjectorOption configures retry behavior.
type ProjectorOption func(*Projector)

// WithRetry bounds async refresh attempts and the exponential delay between
// them.
func WithRetry(attempts int, base, max time.Duration) ProjectorOption {
	return func(p *Projector) {
		if attempts > 0 {
			p.maxAttempts = attempts
		}
		if base > 0 {
			p.baseDelay = base
		}
		if max > 0 {
			p.maxDelay = max
		}
	}
}

// NewProjector creates the projection updater.
func NewProjector(store Store, users UserStore, catalog Catalog, log *slog.Logger, opts ...ProjectorOption) *Projector {
	if log == nil {
		log = slog.Default()
	}
	p := &Projector{
		store:       store,
		users:       users,
		catalog:     catalog,
		log:         log,
		maxAttempts: 5,
		baseDelay:   time.Second,
		maxDelay:    30 * time.Second,
		inflight:    make(map[uuid.UUID]bool),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Refresh synchronously recomputes and writes the user's projection.
func (p *Projector) Refresh(ctx context.Context, userID uuid.UUID) error {
	subs, err := p.store.ListByUser(ctx, userID)
	if err != nil {
		return err
	}

	proj, err := p.compute(ctx, subs)
	if err != nil {
		return err
	}
	return p.users.SaveProjection(ctx, userID, proj)
}

// compute derives the projection: the entitled subscription with the latest
// period end wins; otherwise the free tier. The version is taken from the
// newest canonical UpdatedAt across all rows so stale retries lose the
// last-write-wins comparison.
func (p *Projector) compute(ctx context.Context, subs []*Subscription) (Projection, error) {
	var version int64
	for _, sub := range subs {
		if v := sub.UpdatedAt.UnixNano(); v > version {
			version = v
		}
	}
	if version == 0 {
		version = time.Now().UTC().UnixNano()
	}

	best := EntitledSubscription(subs)
	if best == nil {
		free, err := p.catalog.FreePlan(ctx)
		if err != nil {
			return Projection{}, err
		}
		return FreeProjection(free, version), nil
	}

	plan, err := p.catalog.ByID(ctx, best.PlanID)
	if err != nil {
		// Unknown plan id in a canonical row: fail toward free rather than
		// granting unresolvable paid access.
		p.log.ErrorContext(ctx, "canonical subscription references unknown plan, projecting free tier",
			slog.String("plan_id", best.PlanID), slog.String("provider_sub_id", best.ProviderSubID))
		free, ferr := p.catalog.FreePlan(ctx)
		if ferr != nil {
			return Projection{}, ferr
		}
		return FreeProjection(free, version), nil
	}

	return Projection{
		Tier:      plan.Tier,
		Status:    best.Status,
		PlanID:    plan.ID,
		PeriodEnd: best.CurrentPeriodEnd,
		Features:  plan.Features,
		Version:   version,
	}, nil
}

// Dispatch schedules an async refresh with bounded retries. The canonical
// subscription write has already committed; projection failure must never
// unwind it. Duplicate dispatches for a user collapse while one is inflight,
// since every attempt recomputes from the store anyway.
func (p *Projector) Dispatch(userID uuid.UUID) {
	p.mu.Lock()
	if p.inflight[userID] {
		p.mu.Unlock()
		return
	}
	p.inflight[userID] = true
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			p.mu.Lock()
			delete(p.inflight, userID)
			p.mu.Unlock()
		}()

		for attempt := 1; attempt <= p.maxAttempts; attempt++ {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := p.Refresh(ctx, userID)
			cancel()
			if err == nil {
				return
			}

			p.log.WarnContext(context.Background(), "projection refresh failed",
				slog.String("user_id", userID.String()),
				slog.Int("attempt", attempt),
				slog.Any("error", err))

			if attempt < p.maxAttempts {
				time.Sleep(p.backoff(attempt))
			}
		}

		p.log.ErrorContext(context.Background(), "projection refresh exhausted retries",
			slog.String("user_id", userID.String()))
	}()
}

// Wait blocks until all dispatched refreshes finish. Used in shutdown and
// tests.
func (p *Projector) Wait() {
	p.wg.Wait()
}

func (p *Projector) backoff(attempt int) time.Duration {
	d := time.Duration(float64(p.baseDelay) * math.Pow(2, float64(attempt-1)))
	if d > p.maxDelay {
		d = p.maxDelay
	}
	return d
}
