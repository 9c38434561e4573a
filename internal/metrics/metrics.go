// Package metrics collects operation timings and counters for the
// categorization pipeline. A single Collector is shared by the matcher,
// calculator, cache, and engine; each component prefixes its operation names.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// windowSize bounds the per-operation sample ring used for percentiles.
const windowSize = 512

// OperationStats summarizes one operation's recent timings.
type OperationStats struct {
	Count int64   `json:"count"`
	AvgMs float64 `json:"avg_ms"`
	MinMs float64 `json:"min_ms"`
	MaxMs float64 `json:"max_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
}

// Snapshot is a point-in-time view of everything the collector has seen.
type Snapshot struct {
	Operations   map[string]OperationStats `json:"operations"`
	Results      map[string]int64          `json:"results"`
	CacheHits    int64                     `json:"cache_hits"`
	CacheMisses  int64                     `json:"cache_misses"`
	CacheHitRate float64                   `json:"cache_hit_rate"`
}

// window keeps a bounded ring of samples plus running aggregates. Percentiles
// come from the ring (recent behavior); count/min/max/avg cover all time.
type window struct {
	samples []float64
	count   int64
	totalMs float64
	minMs   float64
	maxMs   float64
	next    int
	full    bool
}

func (w *window) observe(ms float64) {
	if len(w.samples) == 0 {
		w.samples = make([]float64, windowSize)
	}
	w.samples[w.next] = ms
	w.next = (w.next + 1) % windowSize
	if w.next == 0 {
		w.full = true
	}

	w.count++
	w.totalMs += ms
	if w.count == 1 || ms < w.minMs {
		w.minMs = ms
	}
	if ms > w.maxMs {
		w.maxMs = ms
	}
}

func (w *window) stats() OperationStats {
	s := OperationStats{
		Count: w.count,
		MinMs: w.minMs,
		MaxMs: w.maxMs,
	}
	if w.count > 0 {
		s.AvgMs = w.totalMs / float64(w.count)
	}

	n := w.next
	if w.full {
		n = windowSize
	}
	if n == 0 {
		return s
	}
	sorted := make([]float64, n)
	copy(sorted, w.samples[:n])
	sort.Float64s(sorted)
	s.P95Ms = percentile(sorted, 0.95)
	s.P99Ms = percentile(sorted, 0.99)
	return s
}

// percentile reads the p-th percentile from an ascending-sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p*float64(len(sorted))+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Collector accumulates timings and counters. It owns a private Prometheus
// registry so multiple collectors can coexist in one process (and in tests)
// without duplicate-collector panics.
type Collector struct {
	Registry *prometheus.Registry

	opDuration  *prometheus.HistogramVec
	cacheOps    *prometheus.CounterVec
	resultsVec  *prometheus.CounterVec
	windows     map[string]*window
	resultCount map[string]int64
	mu          sync.Mutex
}

// NewCollector builds a collector with its own registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		Registry:    reg,
		windows:     make(map[string]*window),
		resultCount: make(map[string]int64),

		opDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "categorize_operation_duration_seconds",
				Help:    "Duration of categorization operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		cacheOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "categorize_cache_requests_total",
				Help: "Cache lookups by tier and outcome.",
			},
			[]string{"tier", "outcome"},
		),
		resultsVec: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "categorize_results_total",
				Help: "Categorization outcomes by method.",
			},
			[]string{"method"},
		),
	}
}

// Observe records one completed operation.
func (c *Collector) Observe(op string, d time.Duration) {
	if c == nil {
		return
	}
	ms := float64(d) / float64(time.Millisecond)

	c.mu.Lock()
	w, ok := c.windows[op]
	if !ok {
		w = &window{}
		c.windows[op] = w
	}
	w.observe(ms)
	c.mu.Unlock()

	c.opDuration.WithLabelValues(op).Observe(d.Seconds())
}

// Time starts a timer for op; call the returned func when the operation ends.
func (c *Collector) Time(op string) func() {
	if c == nil {
		return func() {}
	}
	start := time.Now()
	return func() { c.Observe(op, time.Since(start)) }
}

// CacheHit counts a hit in the named tier.
func (c *Collector) CacheHit(tier string) {
	if c == nil {
		return
	}
	c.cacheOps.WithLabelValues(tier, "hit").Inc()
}

// CacheMiss counts a miss in the named tier.
func (c *Collector) CacheMiss(tier string) {
	if c == nil {
		return
	}
	c.cacheOps.WithLabelValues(tier, "miss").Inc()
}

// Result counts a categorization outcome by method.
func (c *Collector) Result(method string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.resultCount[method]++
	c.mu.Unlock()
	c.resultsVec.WithLabelValues(method).Inc()
}

// OperationStats returns stats for one operation.
func (c *Collector) OperationStats(op string) (OperationStats, bool) {
	if c == nil {
		return OperationStats{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.windows[op]
	if !ok {
		return OperationStats{}, false
	}
	return w.stats(), true
}

// Snapshot returns the full collector state. Cache totals are read back from
// the Prometheus counters so the scrape view and the snapshot never diverge.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	ops := make(map[string]OperationStats, len(c.windows))
	for name, w := range c.windows {
		ops[name] = w.stats()
	}
	results := make(map[string]int64, len(c.resultCount))
	for method, n := range c.resultCount {
		results[method] = n
	}
	c.mu.Unlock()

	hits, misses := c.cacheTotals()

	snap := Snapshot{
		Operations:  ops,
		Results:     results,
		CacheHits:   hits,
		CacheMisses: misses,
	}
	if hits+misses > 0 {
		snap.CacheHitRate = float64(hits) / float64(hits+misses)
	}
	return snap
}

// cacheTotals reads hit and miss counts back from the registry, summed
// across all tiers.
func (c *Collector) cacheTotals() (hits, misses int64) {
	families, err := c.Registry.Gather()
	if err != nil {
		return 0, 0
	}
	for _, mf := range families {
		if mf.GetName() != "categorize_cache_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			v := int64(m.GetCounter().GetValue())
			switch labelValue(m, "outcome") {
			case "hit":
				hits += v
			case "miss":
				misses += v
			}
		}
	}
	return hits, misses
}

// TierCacheStats returns hit and miss counts keyed by tier, read back from
// the registry. Components that share a collector use this to report only
// their own tiers.
func (c *Collector) TierCacheStats() (hits, misses map[string]int64) {
	hits = make(map[string]int64)
	misses = make(map[string]int64)
	if c == nil {
		return hits, misses
	}
	families, err := c.Registry.Gather()
	if err != nil {
		return hits, misses
	}
	for _, mf := range families {
		if mf.GetName() != "categorize_cache_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			v := int64(m.GetCounter().GetValue())
			switch labelValue(m, "outcome") {
			case "hit":
				hits[labelValue(m, "tier")] += v
			case "miss":
				misses[labelValue(m, "tier")] += v
			}
		}
	}
	return hits, misses
}

// labelValue pulls one label's value out of a gathered metric.
func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}
