package quota_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamforge-ai/dreamforge/pkg/billing"
	"github.com/dreamforge-ai/dreamforge/pkg/quota"
)

func testKey() quota.Key {
	return quota.Key{
		Scope:       quota.ScopeSubscription,
		Subject:     uuid.New(),
		PeriodStart: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestMemoryLedger_Increment(t *testing.T) {
	t.Parallel()

	t.Run("counts within limit", func(t *testing.T) {
		t.Parallel()

		ledger := quota.NewMemoryLedger()
		key := testKey()

		used, allowed, err := ledger.Increment(context.Background(), key, billing.ResourceImages, 1, 3)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, int64(1), used)

		used, allowed, err = ledger.Increment(context.Background(), key, billing.ResourceImages, 2, 3)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, int64(3), used)
	})

	t.Run("rejects past the limit without mutating", func(t *testing.T) {
		t.Parallel()

		ledger := quota.NewMemoryLedger()
		key := testKey()

		_, _, err := ledger.Increment(context.Background(), key, billing.ResourceImages, 3, 3)
		require.NoError(t, err)

		used, allowed, err := ledger.Increment(context.Background(), key, billing.ResourceImages, 1, 3)
		require.NoError(t, err)
		assert.False(t, allowed)
		assert.Equal(t, int64(3), used, "rejected increment must not change the counter")
	})

	t.Run("unlimited never rejects", func(t *testing.T) {
		t.Parallel()

		ledger := quota.NewMemoryLedger()
		key := testKey()

		for i := range 100 {
			used, allowed, err := ledger.Increment(context.Background(), key, billing.ResourceModels, 1, billing.Unlimited)
			require.NoError(t, err)
			require.True(t, allowed)
			require.Equal(t, int64(i+1), used)
		}
	})

	t.Run("resources counted independently", func(t *testing.T) {
		t.Parallel()

		ledger := quota.NewMemoryLedger()
		key := testKey()

		_, _, err := ledger.Increment(context.Background(), key, billing.ResourceImages, 2, 2)
		require.NoError(t, err)

		used, allowed, err := ledger.Increment(context.Background(), key, billing.ResourceModels, 1, 2)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, int64(1), used)
	})

	t.Run("periods counted independently", func(t *testing.T) {
		t.Parallel()

		ledger := quota.NewMemoryLedger()
		key := testKey()

		_, _, err := ledger.Increment(context.Background(), key, billing.ResourceImages, 2, 2)
		require.NoError(t, err)

		next := key
		next.PeriodStart = key.PeriodStart.AddDate(0, 1, 0)

		used, allowed, err := ledger.Increment(context.Background(), next, billing.ResourceImages, 1, 2)
		require.NoError(t, err)
		assert.True(t, allowed, "new period starts from zero")
		assert.Equal(t, int64(1), used)
	})
}

func TestMemoryLedger_ConcurrentIncrements(t *testing.T) {
	t.Parallel()

	ledger := quota.NewMemoryLedger()
	key := testKey()

	const workers = 5
	const limit = 3

	var wg sync.WaitGroup
	results := make(chan bool, workers)
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, allowed, err := ledger.Increment(context.Background(), key, billing.ResourceImages, 1, limit)
			errs <- err
			results <- allowed
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	granted := 0
	for allowed := range results {
		if allowed {
			granted++
		}
	}
	assert.Equal(t, limit, granted, "exactly limit increments may succeed")

	usage, err := ledger.Usage(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, int64(limit), usage[billing.ResourceImages])
}

func TestMemoryLedger_Usage(t *testing.T) {
	t.Parallel()

	ledger := quota.NewMemoryLedger()
	key := testKey()

	usage, err := ledger.Usage(context.Background(), key)
	require.NoError(t, err)
	assert.Empty(t, usage)

	_, _, err = ledger.Increment(context.Background(), key, billing.ResourceImages, 4, billing.Unlimited)
	require.NoError(t, err)
	_, _, err = ledger.Increment(context.Background(), key, billing.ResourceStorage, 1, billing.Unlimited)
	require.NoError(t, err)

	usage, err = ledger.Usage(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, int64(4), usage[billing.ResourceImages])
	assert.Equal(t, int64(1), usage[billing.ResourceStorage])
}
