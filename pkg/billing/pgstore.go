package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dreamforge-ai/dreamforge/pkg/pg"
)

// PgStore is the durable Store backed by the subscriptions table. Usage
// counters live in the same row, so the reset rule and the counters commit
// together.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore returns a Postgres-backed subscription store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const subscriptionColumns = `
	id, user_id, provider_sub_id, provider_cust_id, price_id, plan_id, tier, status,
	current_period_start, current_period_end, trial_start, trial_end,
	cancel_at_period_end, canceled_at, cancel_reason,
	usage_images, usage_models, usage_storage_gb, usage_last_reset,
	created_at, updated_at`

func scanSubscription(row interface{ Scan(dest ...any) error }) (*Subscription, error) {
	var sub Subscription
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.ProviderSubID, &sub.ProviderCustID, &sub.PriceID,
		&sub.PlanID, &sub.Tier, &sub.Status,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.TrialStart, &sub.TrialEnd,
		&sub.CancelAtPeriodEnd, &sub.CanceledAt, &sub.CancelReason,
		&sub.Usage.Images, &sub.Usage.Models, &sub.Usage.StorageGB, &sub.Usage.LastReset,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *PgStore) GetByProviderID(ctx context.Context, providerSubID string) (*Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE provider_sub_id = $1`,
		providerSubID)

	sub, err := scanSubscription(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}

func (s *PgStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE user_id = $1 ORDER BY current_period_end DESC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *PgStore) Create(ctx context.Context, sub *Subscription) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (
			id, user_id, provider_sub_id, provider_cust_id, price_id, plan_id, tier, status,
			current_period_start, current_period_end, trial_start, trial_end,
			cancel_at_period_end, canceled_at, cancel_reason,
			usage_images, usage_models, usage_storage_gb, usage_last_reset,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		sub.ID, sub.UserID, sub.ProviderSubID, sub.ProviderCustID, sub.PriceID,
		sub.PlanID, sub.Tier, sub.Status,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.TrialStart, sub.TrialEnd,
		sub.CancelAtPeriodEnd, sub.CanceledAt, sub.CancelReason,
		sub.Usage.Images, sub.Usage.Models, sub.Usage.StorageGB, sub.Usage.LastReset,
		sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return ErrSubscriptionAlreadyExists
		}
		return err
	}
	return nil
}

func (s *PgStore) Update(ctx context.Context, sub *Subscription) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions SET
			provider_cust_id = $2, price_id = $3, plan_id = $4, tier = $5, status = $6,
			current_period_start = $7, current_period_end = $8, trial_start = $9, trial_end = $10,
			cancel_at_period_end = $11, canceled_at = $12, cancel_reason = $13,
			usage_images = $14, usage_models = $15, usage_storage_gb = $16, usage_last_reset = $17,
			updated_at = $18
		WHERE provider_sub_id = $1`,
		sub.ProviderSubID,
		sub.ProviderCustID, sub.PriceID, sub.PlanID, sub.Tier, sub.Status,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.TrialStart, sub.TrialEnd,
		sub.CancelAtPeriodEnd, sub.CanceledAt, sub.CancelReason,
		sub.Usage.Images, sub.Usage.Models, sub.Usage.StorageGB, sub.Usage.LastReset,
		sub.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func usageColumn(res Resource) (string, bool) {
	switch res {
	case ResourceImages:
		return "usage_images", true
	case ResourceModels:
		return "usage_models", true
	case ResourceStorage:
		return "usage_storage_gb", true
	}
	return "", false
}

func (s *PgStore) AddUsage(ctx context.Context, providerSubID string, res Resource, delta int64) error {
	col, ok := usageColumn(res)
	if !ok {
		return fmt.Errorf("no usage counter for resource %q", res)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE subscriptions SET `+col+` = `+col+` + $2 WHERE provider_sub_id = $1`,
		providerSubID, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

var _ Store = (*PgStore)(nil)

// PgUserStore owns the billing slice of the users table, including the
// denormalized projection columns.
type PgUserStore struct {
	pool *pgxpool.Pool
}

// NewPgUserStore returns a Postgres-backed user store.
func NewPgUserStore(pool *pgxpool.Pool) *PgUserStore {
	return &PgUserStore{pool: pool}
}

const userColumns = `
	id, email, provider_cust_id, checkout_session_id, checkout_started_at,
	proj_tier, proj_status, proj_plan_id, proj_period_end, proj_features, proj_version`

func scanUser(row interface{ Scan(dest ...any) error }) (*User, error) {
	var (
		user      User
		status    *string
		periodEnd *time.Time
		features  []string
	)
	err := row.Scan(
		&user.ID, &user.Email, &user.ProviderCustID,
		&user.CheckoutSessionID, &user.CheckoutStartedAt,
		&user.Projection.Tier, &status, &user.Projection.PlanID,
		&periodEnd, &features, &user.Projection.Version,
	)
	if err != nil {
		return nil, err
	}
	if status != nil {
		user.Projection.Status = Status(*status)
	}
	if periodEnd != nil {
		user.Projection.PeriodEnd = *periodEnd
	}
	for _, f := range features {
		user.Projection.Features = append(user.Projection.Features, Feature(f))
	}
	return &user, nil
}

func (s *PgUserStore) Get(ctx context.Context, userID uuid.UUID) (*User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	user, err := scanUser(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (s *PgUserStore) ByProviderCustID(ctx context.Context, customerID string) (*User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE provider_cust_id = $1`, customerID)
	user, err := scanUser(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (s *PgUserStore) SaveProjection(ctx context.Context, userID uuid.UUID, p Projection) error {
	features := make([]string, 0, len(p.Features))
	for _, f := range p.Features {
		features = append(features, string(f))
	}

	// Version guard in the WHERE clause: older writes match no row and drop
	// out silently, which is the required last-write-wins behavior.
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET
			proj_tier = $2, proj_status = $3, proj_plan_id = $4,
			proj_period_end = $5, proj_features = $6, proj_version = $7
		WHERE id = $1 AND proj_version <= $7`,
		userID, p.Tier, string(p.Status), p.PlanID, p.PeriodEnd, features, p.Version,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either the user vanished or a newer projection won; only the
		// former is an error.
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrUserNotFound
		}
	}
	return nil
}

func (s *PgUserStore) RecordCheckout(ctx context.Context, userID uuid.UUID, sessionID, customerID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET
			checkout_session_id = COALESCE(NULLIF($2, ''), checkout_session_id),
			checkout_started_at = CASE WHEN $2 <> '' THEN now() ELSE checkout_started_at END,
			provider_cust_id = COALESCE(NULLIF($3, ''), provider_cust_id)
		WHERE id = $1`,
		userID, sessionID, customerID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *PgUserStore) StaleCheckouts(ctx context.Context, cutoff time.Time) ([]*User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE checkout_session_id <> ''
		  AND checkout_started_at <= $1
		  AND (proj_status IS NULL OR proj_status NOT IN ('active', 'trialing') OR proj_period_end < now())`,
		cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, user)
	}
	return out, rows.Err()
}

var (
	_ UserStore = (*PgUserStore)(nil)
	_ UserStore = (*MemUserStore)(nil)
	_ Store     = (*MemStore)(nil)
)
