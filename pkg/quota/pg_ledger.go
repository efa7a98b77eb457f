package quota

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dreamforge-ai/dreamforge/pkg/billing"
	"github.com/dreamforge-ai/dreamforge/pkg/pg"
)

// PgLedger stores counters in the usage_ledgers table. The check and the
// increment are a single conditional upsert, so concurrent requests against
// the same subject never push a counter past its limit.
type PgLedger struct {
	db *pgxpool.Pool
}

// NewPgLedger creates a Postgres-backed ledger. Panics if db is nil.
func NewPgLedger(db *pgxpool.Pool) *PgLedger {
	if db == nil {
		panic("quota: database pool is required")
	}
	return &PgLedger{db: db}
}

const incrementQuery = `
	INSERT INTO usage_ledgers (scope, subject_id, period_start, resource, used)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (scope, subject_id, period_start, resource)
	DO UPDATE SET used = usage_ledgers.used + EXCLUDED.used, updated_at = now()
	WHERE $6::bigint < 0 OR usage_ledgers.used + EXCLUDED.used <= $6::bigint
	RETURNING used`

const readUsedQuery = `
	SELECT COALESCE(
		(SELECT used FROM usage_ledgers
		 WHERE scope = $1 AND subject_id = $2 AND period_start = $3 AND resource = $4),
		0)`

func (l *PgLedger) Increment(ctx context.Context, key Key, resource billing.Resource, delta, limit int64) (int64, bool, error) {
	// The insert branch starts from zero, so a delta over the limit can
	// never be applied regardless of existing state.
	if limit != billing.Unlimited && delta > limit {
		used, err := l.currentUsed(ctx, key, resource)
		if err != nil {
			return 0, false, err
		}
		return used, false, nil
	}

	var used int64
	err := l.db.QueryRow(ctx, incrementQuery,
		string(key.Scope), key.Subject, key.PeriodStart.UTC(), string(resource), delta, limit,
	).Scan(&used)
	if err == nil {
		return used, true, nil
	}
	if !pg.IsNotFoundError(err) {
		return 0, false, errors.Join(ErrFailedToCount, err)
	}

	// Upsert guard rejected the increment; report the untouched counter.
	used, rerr := l.currentUsed(ctx, key, resource)
	if rerr != nil {
		return 0, false, rerr
	}
	return used, false, nil
}

func (l *PgLedger) Usage(ctx context.Context, key Key) (map[billing.Resource]int64, error) {
	rows, err := l.db.Query(ctx, `
		SELECT resource, used FROM usage_ledgers
		WHERE scope = $1 AND subject_id = $2 AND period_start = $3`,
		string(key.Scope), key.Subject, key.PeriodStart.UTC())
	if err != nil {
		return nil, errors.Join(ErrFailedToReadUsage, err)
	}
	defer rows.Close()

	out := make(map[billing.Resource]int64)
	for rows.Next() {
		var res string
		var used int64
		if err := rows.Scan(&res, &used); err != nil {
			return nil, errors.Join(ErrFailedToReadUsage, err)
		}
		out[billing.Resource(res)] = used
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(ErrFailedToReadUsage, err)
	}
	return out, nil
}

func (l *PgLedger) currentUsed(ctx context.Context, key Key, resource billing.Resource) (int64, error) {
	var used int64
	err := l.db.QueryRow(ctx, readUsedQuery,
		string(key.Scope), key.Subject, key.PeriodStart.UTC(), string(resource),
	).Scan(&used)
	if err != nil {
		return 0, errors.Join(ErrFailedToReadUsage, err)
	}
	return used, nil
}
