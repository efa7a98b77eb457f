package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dreamforge-ai/dreamforge/pkg/billing"
)

// incrScript increments a hash field only when the new total stays within
// the limit. Returns {used, 1} on success and {used, 0} on rejection; the
// check and the increment are a single atomic server-side step.
var incrScript = redis.NewScript(`
local used = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
local delta = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
if limit >= 0 and used + delta > limit then
	return {used, 0}
end
used = redis.call('HINCRBY', KEYS[1], ARGV[1], delta)
if tonumber(ARGV[4]) > 0 then
	redis.call('EXPIRE', KEYS[1], ARGV[4])
end
return {used, 1}
`)

// RedisLedger stores counters in Redis hashes, one hash per subject and
// billing period. Safe for concurrent use across multiple instances.
type RedisLedger struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// RedisLedgerOption configures a RedisLedger.
type RedisLedgerOption func(*RedisLedger)

// WithRetention controls how long period hashes are kept after their last
// write. Zero disables expiry.
func WithRetention(ttl time.Duration) RedisLedgerOption {
	return func(l *RedisLedger) { l.ttl = ttl }
}

// NewRedisLedger creates a Redis-backed ledger. Panics if client is nil.
func NewRedisLedger(client redis.UniversalClient, opts ...RedisLedgerOption) *RedisLedger {
	if client == nil {
		panic("quota: redis client is required")
	}
	l := &RedisLedger{
		client: client,
		ttl:    90 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisLedger) Increment(ctx context.Context, key Key, resource billing.Resource, delta, limit int64) (int64, bool, error) {
	res, err := incrScript.Run(ctx, l.client,
		[]string{redisLedgerKey(key)},
		string(resource), delta, limit, int64(l.ttl.Seconds()),
	).Int64Slice()
	if err != nil {
		return 0, false, errors.Join(ErrFailedToCount, err)
	}
	if len(res) != 2 {
		return 0, false, errors.Join(ErrFailedToCount, fmt.Errorf("unexpected script reply: %v", res))
	}
	return res[0], res[1] == 1, nil
}

func (l *RedisLedger) Usage(ctx context.Context, key Key) (map[billing.Resource]int64, error) {
	fields, err := l.client.HGetAll(ctx, redisLedgerKey(key)).Result()
	if err != nil {
		return nil, errors.Join(ErrFailedToReadUsage, err)
	}
	out := make(map[billing.Resource]int64, len(fields))
	for field, raw := range fields {
		var n int64
		if _, err := fmt.Sscan(raw, &n); err != nil {
			continue
		}
		out[billing.Resource(field)] = n
	}
	return out, nil
}

func redisLedgerKey(key Key) string {
	return "usage:" + ledgerKey(key)
}
