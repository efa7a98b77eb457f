package quota

import (
	"context"
	"fmt"
	"sync"

	"github.com/dreamforge-ai/dreamforge/pkg/billing"
)

// MemoryLedger keeps counters in process memory. Suitable for tests and
// single-instance deployments; counters do not survive restarts.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]map[billing.Resource]int64
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]map[billing.Resource]int64)}
}

func (l *MemoryLedger) Increment(_ context.Context, key Key, resource billing.Resource, delta, limit int64) (int64, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := ledgerKey(key)
	counters := l.entries[k]
	if counters == nil {
		counters = make(map[billing.Resource]int64)
		l.entries[k] = counters
	}

	used := counters[resource]
	if limit != billing.Unlimited && used+delta > limit {
		return used, false, nil
	}
	used += delta
	counters[resource] = used
	return used, true, nil
}

func (l *MemoryLedger) Usage(_ context.Context, key Key) (map[billing.Resource]int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	counters := l.entries[ledgerKey(key)]
	out := make(map[billing.Resource]int64, len(counters))
	for res, n := range counters {
		out[res] = n
	}
	return out, nil
}

func ledgerKey(key Key) string {
	return fmt.Sprintf("%s:%s:%d", key.Scope, key.Subject, key.PeriodStart.UTC().Unix())
}
