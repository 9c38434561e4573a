package confidence

import (
	"hash/fnv"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/esoto/expense-tracker-sub002/internal/metrics"
	"github.com/esoto/expense-tracker-sub002/internal/model"
)

// Thresholds for factor applicability.
const (
	minUsageForHistory  = 5
	provenUsageCount    = 100
	minAmountSamples    = 5
	directMatchFallback = 0.7
	sigmoidSteepness    = 8.0
)

// DefaultWeights returns the base factor weights. They are renormalized over
// whichever factors apply to a given pattern, so the applied weights always
// sum to 1.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		FactorTextMatch:         0.40,
		FactorHistoricalSuccess: 0.30,
		FactorAmountSimilarity:  0.15,
		FactorUsageFrequency:    0.10,
		FactorTemporalPattern:   0.05,
	}
}

// Config controls calculator behavior.
type Config struct {
	Collector    *metrics.Collector
	Logger       *slog.Logger
	Weights      map[string]float64
	CacheSize    int
	DisableCache bool
}

// DefaultConfig returns the standard calculator configuration.
func DefaultConfig() Config {
	return Config{
		Weights:   DefaultWeights(),
		CacheSize: 1000,
	}
}

// Calculator computes confidence scores. Safe for concurrent use.
type Calculator struct {
	collector *metrics.Collector
	logger    *slog.Logger
	memo      map[uint64]Score
	cfg       Config
	mu        sync.RWMutex
}

// New creates a calculator with DefaultConfig.
func New() *Calculator {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a calculator with explicit configuration.
func NewWithConfig(cfg Config) *Calculator {
	if len(cfg.Weights) == 0 {
		cfg.Weights = DefaultWeights()
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1000
	}
	collector := cfg.Collector
	if collector == nil {
		collector = metrics.NewCollector()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Calculator{
		cfg:       cfg,
		collector: collector,
		logger:    logger,
		memo:      make(map[uint64]Score),
	}
}

// Calculate scores one expense/pattern pairing. matchScore carries the fuzzy
// match result when one exists; nil falls back to the pattern's direct check.
// Invalid input produces an invalid Score, never an error or panic.
func (c *Calculator) Calculate(expense *model.Expense, pattern *model.Pattern, matchScore *float64) Score {
	defer c.collector.Time("calculate")()

	if expense == nil {
		c.logger.Debug("confidence calculation skipped", "reason", "nil expense")
		return invalidScore(0, patternID(pattern), "expense is required")
	}
	if pattern == nil {
		c.logger.Debug("confidence calculation skipped", "reason", "nil pattern", "expense_id", expense.ID)
		return invalidScore(expense.ID, 0, "pattern is required")
	}

	var key uint64
	if !c.cfg.DisableCache {
		key = c.memoKey(expense, pattern, matchScore)
		c.mu.RLock()
		cached, ok := c.memo[key]
		c.mu.RUnlock()
		if ok {
			c.collector.CacheHit("memo")
			return cached
		}
		c.collector.CacheMiss("memo")
	}

	factors := c.collectFactors(expense, pattern, matchScore)

	raw := 0.0
	for _, f := range factors {
		raw += f.Contribution
	}
	normalized := sharpen(raw)

	score := Score{
		ExpenseID:            expense.ID,
		PatternID:            pattern.ID,
		Factors:              factors,
		RawScore:             raw,
		Confidence:           clamp01(normalized),
		NormalizationApplied: math.Abs(normalized-raw) > 0.01,
	}

	if !c.cfg.DisableCache {
		c.mu.Lock()
		if len(c.memo) >= c.cfg.CacheSize {
			c.memo = make(map[uint64]Score)
		}
		c.memo[key] = score
		c.mu.Unlock()
	}
	return score
}

// CalculateBatch scores the expense against each pattern, sorted by
// descending confidence. matchScores is keyed by pattern id; missing entries
// fall back to the direct-check rule.
func (c *Calculator) CalculateBatch(expense *model.Expense, patterns []*model.Pattern, matchScores map[int64]float64) []Score {
	defer c.collector.Time("calculate_batch")()

	scores := make([]Score, 0, len(patterns))
	for _, p := range patterns {
		var ms *float64
		if p != nil {
			if v, ok := matchScores[p.ID]; ok {
				ms = &v
			}
		}
		scores = append(scores, c.Calculate(expense, p, ms))
	}
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Confidence > scores[j].Confidence
	})
	return scores
}

// ClearCache discards memoized scores.
func (c *Calculator) ClearCache() {
	c.mu.Lock()
	c.memo = make(map[uint64]Score)
	c.mu.Unlock()
}

// Metrics returns calculation counts, cache hits, and duration percentiles.
func (c *Calculator) Metrics() metrics.Snapshot {
	return c.collector.Snapshot()
}

// collectFactors computes every applicable factor with renormalized weights.
func (c *Calculator) collectFactors(expense *model.Expense, pattern *model.Pattern, matchScore *float64) []Factor {
	type rawFactor struct {
		name  string
		value float64
	}
	raws := make([]rawFactor, 0, 5)

	raws = append(raws, rawFactor{FactorTextMatch, c.textMatch(expense, pattern, matchScore)})

	if v, ok := historicalSuccess(pattern); ok {
		raws = append(raws, rawFactor{FactorHistoricalSuccess, v})
	}
	if v, ok := usageFrequency(pattern); ok {
		raws = append(raws, rawFactor{FactorUsageFrequency, v})
	}
	if v, ok := amountSimilarity(expense, pattern); ok {
		raws = append(raws, rawFactor{FactorAmountSimilarity, v})
	}
	if v, ok := temporalFit(expense, pattern); ok {
		raws = append(raws, rawFactor{FactorTemporalPattern, v})
	}

	weightSum := 0.0
	for _, rf := range raws {
		weightSum += c.cfg.Weights[rf.name]
	}

	factors := make([]Factor, 0, len(raws))
	for _, rf := range raws {
		weight := 0.0
		if weightSum > 0 {
			weight = c.cfg.Weights[rf.name] / weightSum
		}
		factors = append(factors, Factor{
			Name:         rf.name,
			Value:        rf.value,
			Weight:       weight,
			Contribution: rf.value * weight,
		})
	}
	return factors
}

// textMatch clamps a supplied match score, or falls back to a fixed default
// when the pattern still matches the expense directly.
func (c *Calculator) textMatch(expense *model.Expense, pattern *model.Pattern, matchScore *float64) float64 {
	if matchScore != nil {
		return clamp01(*matchScore)
	}
	if pattern.MatchesExpense(expense) {
		return directMatchFallback
	}
	return 0.0
}

// historicalSuccess applies once a pattern has real usage history; heavily
// proven patterns earn a small boost.
func historicalSuccess(p *model.Pattern) (float64, bool) {
	if p.UsageCount < minUsageForHistory {
		return 0, false
	}
	rate := p.SuccessRate
	if rate == 0 && p.SuccessCount > 0 {
		rate = float64(p.SuccessCount) / float64(p.UsageCount)
	}
	if p.UsageCount >= provenUsageCount {
		rate = math.Min(1.0, rate*1.05)
	}
	return clamp01(rate), true
}

// usageFrequency scales usage logarithmically: 1 use ~0.10, 10 ~0.35,
// 100 ~0.67, 1000 and beyond 1.0.
func usageFrequency(p *model.Pattern) (float64, bool) {
	if p.UsageCount <= 0 {
		return 0, false
	}
	v := math.Log10(float64(p.UsageCount)+1) / 3.0
	return clamp01(v), true
}

// amountDecay anchors the z-score decay curve; values between anchors are
// interpolated linearly.
var amountDecay = []struct{ z, sim float64 }{
	{0, 1.0},
	{1, 0.95},
	{2, 0.5},
	{3, 0.15},
	{5, 0.0},
}

// amountSimilarity compares the expense amount to the pattern's learned
// amount distribution via z-score.
func amountSimilarity(e *model.Expense, p *model.Pattern) (float64, bool) {
	stats := p.Metadata.Amount
	if stats == nil || stats.Count < minAmountSamples {
		return 0, false
	}

	amount := e.Amount.InexactFloat64()
	if stats.StdDev == 0 {
		if math.Abs(amount-stats.Mean) < 1e-9 {
			return 1.0, true
		}
		return 0.0, true
	}

	z := math.Abs(amount-stats.Mean) / stats.StdDev
	return zToSimilarity(z), true
}

func zToSimilarity(z float64) float64 {
	last := amountDecay[len(amountDecay)-1]
	if z >= last.z {
		return last.sim
	}
	for i := 1; i < len(amountDecay); i++ {
		lo, hi := amountDecay[i-1], amountDecay[i]
		if z <= hi.z {
			t := (z - lo.z) / (hi.z - lo.z)
			return lo.sim + t*(hi.sim-lo.sim)
		}
	}
	return last.sim
}

// temporalFit is binary for time patterns; other pattern types derive fit
// from learned hour/day distributions when present.
func temporalFit(e *model.Expense, p *model.Pattern) (float64, bool) {
	if p.Type == model.PatternTypeTime {
		if model.TimeBucket(e.TransactionDate) == p.Value {
			return 1.0, true
		}
		return 0.0, true
	}

	stats := p.Metadata.Temporal
	if stats == nil {
		return 0, false
	}
	if len(stats.HourDistribution) > 0 {
		return distributionFit(stats.HourDistribution, e.TransactionDate.Hour()), true
	}
	if len(stats.DayDistribution) > 0 {
		return distributionFit(stats.DayDistribution, int(e.TransactionDate.Weekday())), true
	}
	return 0, false
}

// distributionFit normalizes the observed frequency of a slot against the
// busiest slot.
func distributionFit(dist map[int]int, slot int) float64 {
	peak := 0
	for _, n := range dist {
		if n > peak {
			peak = n
		}
	}
	if peak == 0 {
		return 0
	}
	return float64(dist[slot]) / float64(peak)
}

// sharpen pushes raw scores away from the 0.5 decision boundary with a
// sigmoid rescaled to preserve the [0,1] endpoints.
func sharpen(raw float64) float64 {
	sig := func(x float64) float64 {
		return 1.0 / (1.0 + math.Exp(-sigmoidSteepness*(x-0.5)))
	}
	lo, hi := sig(0), sig(1)
	return (sig(raw) - lo) / (hi - lo)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func patternID(p *model.Pattern) int64 {
	if p == nil {
		return 0
	}
	return p.ID
}

// memoKey fingerprints the (expense, pattern, match score) triple, including
// the pattern's update stamp so refreshed statistics miss stale entries.
func (c *Calculator) memoKey(e *model.Expense, p *model.Pattern, matchScore *float64) uint64 {
	h := fnv.New64a()
	write := func(s string) {
		_, _ = h.Write([]byte(s))
		_, _ = h.Write([]byte{0})
	}

	write(strconv.FormatInt(e.ID, 10))
	write(e.Amount.String())
	write(strconv.FormatInt(e.TransactionDate.Unix(), 10))
	write(strconv.FormatInt(p.ID, 10))
	write(strconv.FormatInt(p.UpdatedAt.UnixNano(), 10))
	if matchScore != nil {
		write(strconv.FormatFloat(*matchScore, 'g', -1, 64))
	} else {
		write("none")
	}
	return h.Sum64()
}
