package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Observe(t *testing.T) {
	c := NewCollector()

	for i := 1; i <= 100; i++ {
		c.Observe("match", time.Duration(i)*time.Millisecond)
	}

	stats, ok := c.OperationStats("match")
	require.True(t, ok)
	assert.Equal(t, int64(100), stats.Count)
	assert.InDelta(t, 50.5, stats.AvgMs, 0.01)
	assert.InDelta(t, 1.0, stats.MinMs, 0.01)
	assert.InDelta(t, 100.0, stats.MaxMs, 0.01)
	assert.InDelta(t, 95.0, stats.P95Ms, 1.0)
	assert.InDelta(t, 99.0, stats.P99Ms, 1.0)
}

func TestCollector_UnknownOperation(t *testing.T) {
	c := NewCollector()
	_, ok := c.OperationStats("never-recorded")
	assert.False(t, ok)
}

func TestCollector_CacheCounters(t *testing.T) {
	c := NewCollector()

	c.CacheHit("memory")
	c.CacheHit("memory")
	c.CacheHit("distributed")
	c.CacheMiss("memory")

	snap := c.Snapshot()
	assert.Equal(t, int64(3), snap.CacheHits)
	assert.Equal(t, int64(1), snap.CacheMisses)
	assert.InDelta(t, 0.75, snap.CacheHitRate, 0.001)
}

func TestCollector_Results(t *testing.T) {
	c := NewCollector()

	c.Result("pattern")
	c.Result("pattern")
	c.Result("user_preference")

	snap := c.Snapshot()
	assert.Equal(t, int64(2), snap.Results["pattern"])
	assert.Equal(t, int64(1), snap.Results["user_preference"])
}

func TestCollector_WindowEviction(t *testing.T) {
	c := NewCollector()

	// Overflow the ring with slow samples, then refill with fast ones.
	// Percentiles should reflect only the recent window while count and
	// max keep the full history.
	for i := 0; i < windowSize; i++ {
		c.Observe("op", 500*time.Millisecond)
	}
	for i := 0; i < windowSize; i++ {
		c.Observe("op", 1*time.Millisecond)
	}

	stats, ok := c.OperationStats("op")
	require.True(t, ok)
	assert.Equal(t, int64(2*windowSize), stats.Count)
	assert.InDelta(t, 500.0, stats.MaxMs, 0.01)
	assert.InDelta(t, 1.0, stats.P99Ms, 0.01)
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.Observe("op", time.Millisecond)
	c.CacheHit("memory")
	c.Result("pattern")
	c.Time("op")()

	snap := c.Snapshot()
	assert.Nil(t, snap.Operations)

	_, ok := c.OperationStats("op")
	assert.False(t, ok)
}

func TestCollector_IndependentRegistries(t *testing.T) {
	// Two collectors must not collide on metric registration.
	a := NewCollector()
	b := NewCollector()
	a.Observe("op", time.Millisecond)
	b.Observe("op", time.Millisecond)

	statsA, okA := a.OperationStats("op")
	require.True(t, okA)
	assert.Equal(t, int64(1), statsA.Count)
}
