package quota

import (
	"context"

	"github.com/dreamforge-ai/dreamforge/pkg/billing"
)

// Ledger stores per-period usage counters. Increment must be atomic with the
// limit check: under concurrent calls against the same key the number of
// successful increments never exceeds the limit.
type Ledger interface {
	// Increment adds delta to the counter for (key, resource) iff the new
	// total would not exceed limit. It returns the counter value after the
	// call and whether the increment was applied. A limit of
	// billing.Unlimited always applies.
	Increment(ctx context.Context, key Key, resource billing.Resource, delta, limit int64) (used int64, allowed bool, err error)

	// Usage reports the current counters for a key. Resources with no
	// recorded usage are absent from the map.
	Usage(ctx context.Context, key Key) (map[billing.Resource]int64, error)
}
