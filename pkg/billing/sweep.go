package billing

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically heals users who paid but never got a usable webhook:
// anyone with a recorded checkout session older than the grace window whose
// projection still shows no entitled plan gets a reconciliation pass.
type Sweeper struct {
	reconciler *Reconciler
	users      UserStore
	log        *slog.Logger

	interval time.Duration
	grace    time.Duration
}

// NewSweeper creates the scheduled reconciliation sweep. The grace window
// keeps it from racing webhooks that are merely slow.
func NewSweeper(reconciler *Reconciler, users UserStore, interval, grace time.Duration, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if grace <= 0 {
		grace = 10 * time.Minute
	}
	return &Sweeper{reconciler: reconciler, users: users, log: log, interval: interval, grace: grace}
}

// Run blocks, sweeping on every tick until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.grace)
	users, err := s.users.StaleCheckouts(ctx, cutoff)
	if err != nil {
		s.log.ErrorContext(ctx, "stale checkout scan failed", slog.Any("error", err))
		return
	}

	for _, user := range users {
		runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		outcome, err := s.reconciler.Reconcile(runCtx, user.ID, "")
		cancel()

		switch {
		case err != nil:
			s.log.ErrorContext(ctx, "sweep reconciliation failed",
				slog.String("user_id", user.ID.String()), slog.Any("error", err))
		case !outcome.Found:
			s.log.InfoContext(ctx, "sweep found no provider subscription",
				slog.String("user_id", user.ID.String()),
				slog.String("checkout_session", user.CheckoutSessionID))
		default:
			s.log.InfoContext(ctx, "sweep healed subscription",
				slog.String("user_id", user.ID.String()),
				slog.String("provider_sub_id", outcome.Subscription.ProviderSubID),
				slog.String("status", string(outcome.Subscription.Status)))
		}
	}
}
