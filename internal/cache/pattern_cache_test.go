package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esoto/expense-tracker-sub002/internal/metrics"
	"github.com/esoto/expense-tracker-sub002/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testPattern(id int64, pt model.PatternType, value string, usage int) *model.Pattern {
	return &model.Pattern{
		ID:               id,
		CategoryID:       1,
		Type:             pt,
		Value:            value,
		ConfidenceWeight: 1.0,
		UsageCount:       usage,
		Active:           true,
	}
}

func TestMemoryCacheLRUEviction(t *testing.T) {
	m := newMemoryCache(3, time.Hour, nil)

	m.set("a", 1)
	m.set("b", 2)
	m.set("c", 3)

	// Touch "a" so "b" becomes the coldest entry.
	_, ok := m.get("a")
	require.True(t, ok)

	m.set("d", 4)

	_, ok = m.get("b")
	assert.False(t, ok, "b should have been evicted")
	for _, key := range []string{"a", "c", "d"} {
		_, ok = m.get(key)
		assert.True(t, ok, "%s should remain", key)
	}
	assert.Equal(t, 3, m.len())
}

func TestMemoryCacheTTLExpiry(t *testing.T) {
	clock := newFakeClock()
	m := newMemoryCache(10, time.Minute, clock.Now)

	m.set("a", 1)
	_, ok := m.get("a")
	require.True(t, ok)

	clock.Advance(61 * time.Second)
	_, ok = m.get("a")
	assert.False(t, ok, "expired entry should miss")
	assert.Equal(t, 0, m.len(), "expired entry should be removed on access")
}

func TestMemoryCacheSetRefreshesTTL(t *testing.T) {
	clock := newFakeClock()
	m := newMemoryCache(10, time.Minute, clock.Now)

	m.set("a", 1)
	clock.Advance(45 * time.Second)
	m.set("a", 2)
	clock.Advance(45 * time.Second)

	v, ok := m.get("a")
	require.True(t, ok, "rewrite should reset the expiry window")
	assert.Equal(t, 2, v)
}

func TestMemoryCacheDeletePrefix(t *testing.T) {
	m := newMemoryCache(10, time.Hour, nil)
	m.set("cat:pattern:1", 1)
	m.set("cat:pattern:2", 2)
	m.set("cat:patterns:active", 3)
	m.set("cat:pref:merchant:starbucks", 4)

	removed := m.deletePrefix("cat:pattern")
	assert.Equal(t, 3, removed)
	_, ok := m.get("cat:pref:merchant:starbucks")
	assert.True(t, ok)
}

func TestGetPatternCachesInMemory(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	store.addPattern(testPattern(1, model.PatternTypeMerchant, "starbucks", 10))
	c := NewWithConfig(store, Config{Collector: metrics.NewCollector()})

	p, err := c.GetPattern(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "starbucks", p.Value)

	p, err = c.GetPattern(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, p)

	patternCalls, _, _, _, _ := store.calls()
	assert.Equal(t, 1, patternCalls, "second lookup should hit memory")
}

func TestGetPatternMissingReturnsNil(t *testing.T) {
	ctx := context.Background()
	c := NewWithConfig(newMockStore(), Config{Collector: metrics.NewCollector()})

	p, err := c.GetPattern(ctx, 99)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestGetPatternStoreErrorPropagates(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	store.setError(errors.New("db down"))
	c := NewWithConfig(store, Config{Collector: metrics.NewCollector()})

	_, err := c.GetPattern(ctx, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch pattern 1")
}

func TestDistributedTierServesAfterMemoryLoss(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	store.addPattern(testPattern(1, model.PatternTypeMerchant, "starbucks", 10))
	dist := newFakeDistributed()
	c := NewWithConfig(store, Config{Distributed: dist, Collector: metrics.NewCollector()})

	_, err := c.GetPattern(ctx, 1)
	require.NoError(t, err)

	// Simulate a restart: the in-process tier is gone, the shared tier is not.
	c.memory.purge()

	p, err := c.GetPattern(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "starbucks", p.Value)

	patternCalls, _, _, _, _ := store.calls()
	assert.Equal(t, 1, patternCalls, "distributed hit should not reach the store")
}

func TestDistributedFailureDegradesGracefully(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	store.addPattern(testPattern(1, model.PatternTypeMerchant, "starbucks", 10))
	dist := newFakeDistributed()
	dist.setError(errors.New("connection refused"))
	c := NewWithConfig(store, Config{Distributed: dist, Collector: metrics.NewCollector()})

	p, err := c.GetPattern(ctx, 1)
	require.NoError(t, err, "distributed failure must not surface")
	require.NotNil(t, p)

	m := c.Metrics()
	assert.False(t, m.DistributedAvailable)
}

func TestGetUserPreference(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	store.addPreference(&model.UserCategoryPreference{
		ID:               1,
		CategoryID:       3,
		ContextType:      model.PreferenceContextMerchant,
		ContextValue:     "starbucks",
		PreferenceWeight: 2.0,
	})
	c := NewWithConfig(store, Config{Collector: metrics.NewCollector()})

	// Lookup text is trimmed and lowercased before it reaches any tier.
	pref, err := c.GetUserPreference(ctx, "  STARBUCKS  ")
	require.NoError(t, err)
	require.NotNil(t, pref)
	assert.Equal(t, int64(3), pref.CategoryID)

	pref, err = c.GetUserPreference(ctx, "starbucks")
	require.NoError(t, err)
	require.NotNil(t, pref)
	_, _, _, _, prefCalls := store.calls()
	assert.Equal(t, 1, prefCalls)
}

func TestGetUserPreferenceBlankSkipsStore(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	c := NewWithConfig(store, Config{Collector: metrics.NewCollector()})

	pref, err := c.GetUserPreference(ctx, "   ")
	require.NoError(t, err)
	assert.Nil(t, pref)

	_, _, _, _, prefCalls := store.calls()
	assert.Equal(t, 0, prefCalls)
}

func TestGetPatternsForExpenseUnionsTypes(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	store.addPattern(testPattern(1, model.PatternTypeMerchant, "starbucks", 10))
	store.addPattern(testPattern(2, model.PatternTypeKeyword, "coffee", 5))
	store.addPattern(testPattern(3, model.PatternTypeDescription, "latte", 2))
	store.addPattern(testPattern(4, model.PatternTypeAmountRange, "1-20", 8))
	inactive := testPattern(5, model.PatternTypeMerchant, "old shop", 1)
	inactive.Active = false
	store.addPattern(inactive)

	c := NewWithConfig(store, Config{Collector: metrics.NewCollector()})
	expense := &model.Expense{ID: 1, MerchantName: "Starbucks #123"}

	patterns, err := c.GetPatternsForExpense(ctx, expense)
	require.NoError(t, err)

	ids := make([]int64, 0, len(patterns))
	for _, p := range patterns {
		ids = append(ids, p.ID)
	}
	assert.ElementsMatch(t, []int64{1, 2, 3}, ids, "text pattern types only, active only")

	// The three type listings are now cached; a second call stays local.
	_, err = c.GetPatternsForExpense(ctx, expense)
	require.NoError(t, err)
	_, queryCalls, _, _, _ := store.calls()
	assert.Equal(t, 3, queryCalls)
}

func TestGetPatternsForExpenseNoText(t *testing.T) {
	ctx := context.Background()
	c := NewWithConfig(newMockStore(), Config{Collector: metrics.NewCollector()})

	patterns, err := c.GetPatternsForExpense(ctx, &model.Expense{ID: 1})
	require.NoError(t, err)
	assert.Empty(t, patterns)
}

func TestInvalidatePattern(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	p := testPattern(1, model.PatternTypeMerchant, "starbucks", 10)
	store.addPattern(p)
	dist := newFakeDistributed()
	c := NewWithConfig(store, Config{Distributed: dist, Collector: metrics.NewCollector()})

	_, err := c.GetPattern(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, c.Invalidate(ctx, p))

	_, err = c.GetPattern(ctx, 1)
	require.NoError(t, err)
	patternCalls, _, _, _, _ := store.calls()
	assert.Equal(t, 2, patternCalls, "invalidated entry should refetch from the store")
}

func TestInvalidateUnsupportedType(t *testing.T) {
	c := NewWithConfig(newMockStore(), Config{Collector: metrics.NewCollector()})
	err := c.Invalidate(context.Background(), "not an entity")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported entity type")
}

func TestInvalidateAllScopesToNamespace(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	store.addPattern(testPattern(1, model.PatternTypeMerchant, "starbucks", 10))
	dist := newFakeDistributed()
	// A neighbor's key in the shared tier must survive our invalidation.
	require.NoError(t, dist.Set(ctx, "sessions:abc", []byte("x"), time.Hour))
	c := NewWithConfig(store, Config{Distributed: dist, Collector: metrics.NewCollector()})

	_, err := c.GetPattern(ctx, 1)
	require.NoError(t, err)

	c.InvalidateAll(ctx)

	assert.Equal(t, 0, c.memory.len())
	_, ok, err := dist.Get(ctx, "cat:pattern:1")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = dist.Get(ctx, "sessions:abc")
	require.NoError(t, err)
	assert.True(t, ok, "unrelated keys must not be flushed")
}

func TestWarmLoadsTopPatterns(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	store.addPattern(testPattern(1, model.PatternTypeMerchant, "starbucks", 100))
	store.addPattern(testPattern(2, model.PatternTypeMerchant, "netflix", 50))
	store.addPattern(testPattern(3, model.PatternTypeMerchant, "corner store", 1))
	store.addComposite(&model.CompositePattern{
		ID:         7,
		CategoryID: 1,
		Name:       "morning coffee",
		Operator:   model.OperatorAnd,
		Components: []*model.Pattern{testPattern(1, model.PatternTypeMerchant, "starbucks", 100)},
		Confidence: 0.9,
		Active:     true,
	})
	c := NewWithConfig(store, Config{Collector: metrics.NewCollector(), WarmCount: 2})

	loaded, err := c.Warm(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded, "two hot patterns plus one composite")

	// Warmed entries serve without store round-trips.
	_, err = c.GetPattern(ctx, 1)
	require.NoError(t, err)
	_, err = c.GetCompositePattern(ctx, 7)
	require.NoError(t, err)
	patternCalls, _, _, _, _ := store.calls()
	assert.Equal(t, 0, patternCalls)

	// The coldest pattern was not warmed.
	_, err = c.GetPattern(ctx, 3)
	require.NoError(t, err)
	patternCalls, _, _, _, _ = store.calls()
	assert.Equal(t, 1, patternCalls)
}

func TestPreloadForExpensesDeduplicatesMerchants(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	store.addPattern(testPattern(1, model.PatternTypeMerchant, "starbucks", 10))
	c := NewWithConfig(store, Config{Collector: metrics.NewCollector()})

	expenses := []*model.Expense{
		{ID: 1, MerchantName: "Starbucks"},
		{ID: 2, MerchantName: "STARBUCKS"},
		{ID: 3, MerchantName: "Netflix"},
		{ID: 4, MerchantName: "  starbucks "},
		nil,
	}
	require.NoError(t, c.PreloadForExpenses(ctx, expenses))

	_, _, activeCalls, _, prefCalls := store.calls()
	assert.Equal(t, 2, prefCalls, "one preference lookup per distinct merchant")
	assert.Equal(t, 1, activeCalls, "one bulk pattern load for the whole batch")
}

func TestConcurrentMissesShareOneFetch(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	store.addPattern(testPattern(1, model.PatternTypeMerchant, "starbucks", 10))
	store.setDelay(10 * time.Millisecond)
	c := NewWithConfig(store, Config{Collector: metrics.NewCollector()})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := c.GetPattern(ctx, 1)
			assert.NoError(t, err)
			assert.NotNil(t, p)
		}()
	}
	wg.Wait()

	// Early arrivals share the in-flight fetch; stragglers hit memory.
	patternCalls, _, _, _, _ := store.calls()
	assert.Equal(t, 1, patternCalls)
}

func TestMetricsCountsHitsAndMisses(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	store.addPattern(testPattern(1, model.PatternTypeMerchant, "starbucks", 10))
	c := NewWithConfig(store, Config{Collector: metrics.NewCollector()})

	_, err := c.GetPattern(ctx, 1) // store
	require.NoError(t, err)
	_, err = c.GetPattern(ctx, 1) // memory
	require.NoError(t, err)
	_, err = c.GetPattern(ctx, 1) // memory
	require.NoError(t, err)

	m := c.Metrics()
	assert.Equal(t, int64(2), m.Hits[tierMemory])
	assert.Equal(t, int64(0), m.Hits[tierDistributed])
	assert.Equal(t, int64(1), m.Misses)
	assert.InDelta(t, 2.0/3.0, m.HitRate, 1e-9)
	assert.Equal(t, 1, m.MemoryEntries)
	assert.False(t, m.DistributedAvailable)
	assert.Contains(t, m.Operations, "cache.get_pattern")
}
