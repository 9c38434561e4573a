package match

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/esoto/expense-tracker-sub002/internal/metrics"
	"github.com/esoto/expense-tracker-sub002/internal/model"
)

// Config controls matcher behavior.
type Config struct {
	Collector     *metrics.Collector
	Logger        *slog.Logger
	Algorithms    []Algorithm
	MinScore      float64
	CacheSize     int
	NormalizeText bool
}

// DefaultConfig returns the standard matcher configuration: Jaro-Winkler
// only, normalization on, memoization bounded at 1000 entries.
func DefaultConfig() Config {
	return Config{
		Algorithms:    []Algorithm{AlgorithmJaroWinkler},
		NormalizeText: true,
		CacheSize:     1000,
	}
}

// Options are per-call overrides for a single match operation.
type Options struct {
	NormalizeText *bool
	MaxResults    int
	MinConfidence float64
}

// Matcher ranks candidates against queries, memoizing repeated computations.
// Safe for concurrent use.
type Matcher struct {
	collector *metrics.Collector
	logger    *slog.Logger
	memo      map[uint64]MatchResult
	cfg       Config
	mu        sync.RWMutex
}

// New creates a matcher with DefaultConfig.
func New() *Matcher {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a matcher with explicit configuration.
func NewWithConfig(cfg Config) *Matcher {
	if len(cfg.Algorithms) == 0 {
		cfg.Algorithms = []Algorithm{AlgorithmJaroWinkler}
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
	return &Matcher{
		cfg:       cfg,
		collector: collector,
		logger:    logger,
		memo:      make(map[uint64]MatchResult),
	}
}

// Match ranks candidates against the query. An empty query or candidate list
// yields an empty, unsuccessful result rather than an error.
func (m *Matcher) Match(query string, candidates []Candidate, opts *Options) MatchResult {
	defer m.collector.Time("match")()
	return m.match(query, candidates, opts)
}

// MatchPattern ranks patterns against the query, then re-ranks by each
// pattern's effective confidence so proven patterns outrank lucky text
// matches.
func (m *Matcher) MatchPattern(query string, patterns []*model.Pattern) MatchResult {
	defer m.collector.Time("match_pattern")()

	candidates := make([]Candidate, 0, len(patterns))
	for _, p := range patterns {
		candidates = append(candidates, PatternCandidate(p))
	}

	result := m.match(query, candidates, nil)
	adjusted := cloneMatches(result.Matches)
	for i := range adjusted {
		if p := adjusted[i].Pattern; p != nil {
			adjusted[i].AdjustedScore = adjusted[i].Score * p.EffectiveConfidence()
		}
	}
	sortMatches(adjusted)

	result.Matches = adjusted
	result.Success = len(adjusted) > 0
	return result
}

// MatchMerchant ranks canonical merchants against the query, breaking
// near-ties in favor of frequently used merchants.
func (m *Matcher) MatchMerchant(query string, merchants []*Merchant) MatchResult {
	defer m.collector.Time("match_merchant")()

	candidates := make([]Candidate, 0, len(merchants))
	for _, mc := range merchants {
		candidates = append(candidates, MerchantCandidate(mc))
	}

	result := m.match(query, candidates, nil)
	boosted := cloneMatches(result.Matches)
	for i := range boosted {
		usage := 0
		if boosted[i].Merchant != nil {
			usage = boosted[i].Merchant.UsageCount
		}
		adj := boosted[i].Score + popularityBoost(usage)
		if adj > 1.0 {
			adj = 1.0
		}
		boosted[i].AdjustedScore = adj
	}
	sort.SliceStable(boosted, func(i, j int) bool {
		if boosted[i].AdjustedScore != boosted[j].AdjustedScore {
			return boosted[i].AdjustedScore > boosted[j].AdjustedScore
		}
		ui, uj := merchantUsage(boosted[i]), merchantUsage(boosted[j])
		if ui != uj {
			return ui > uj
		}
		return boosted[i].Text < boosted[j].Text
	})

	result.Matches = boosted
	result.Success = len(boosted) > 0
	return result
}

// BatchMatch applies Match to each query against the same candidate set;
// output order follows query order.
func (m *Matcher) BatchMatch(queries []string, candidates []Candidate) []MatchResult {
	defer m.collector.Time("batch_match")()

	results := make([]MatchResult, len(queries))
	for i, q := range queries {
		results[i] = m.match(q, candidates, nil)
	}
	return results
}

// CalculateSimilarity exposes a single algorithm computation.
func (m *Matcher) CalculateSimilarity(a, b string, alg Algorithm) (float64, error) {
	if !ValidAlgorithm(alg) {
		return 0, fmt.Errorf("unknown similarity algorithm %q", alg)
	}
	defer m.collector.Time("calculate_similarity")()
	return Similarity(a, b, alg), nil
}

// ClearCache discards all memoized match computations.
func (m *Matcher) ClearCache() {
	m.mu.Lock()
	m.memo = make(map[uint64]MatchResult)
	m.mu.Unlock()
}

// Metrics returns operation timings and memoization hit counts.
func (m *Matcher) Metrics() metrics.Snapshot {
	return m.collector.Snapshot()
}

func (m *Matcher) match(query string, candidates []Candidate, opts *Options) MatchResult {
	normalize := m.cfg.NormalizeText
	minScore := m.cfg.MinScore
	maxResults := 0
	if opts != nil {
		if opts.NormalizeText != nil {
			normalize = *opts.NormalizeText
		}
		if opts.MinConfidence > 0 {
			minScore = opts.MinConfidence
		}
		maxResults = opts.MaxResults
	}

	q := query
	if normalize {
		q = Normalize(query)
	}
	if q == "" || len(candidates) == 0 {
		return emptyResult(query, m.cfg.Algorithms)
	}

	key := m.memoKey(q, candidates, normalize, minScore, maxResults)
	m.mu.RLock()
	cached, ok := m.memo[key]
	m.mu.RUnlock()
	if ok {
		m.collector.CacheHit("memo")
		return cached
	}
	m.collector.CacheMiss("memo")

	entries := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		text, ok := c.Text()
		if !ok {
			m.logger.Debug("skipping candidate without extractable text", "kind", c.Kind)
			continue
		}
		compare := text
		if normalize {
			compare = Normalize(text)
			if compare == "" {
				continue
			}
		}

		scores := make(map[Algorithm]float64, len(m.cfg.Algorithms))
		for _, alg := range m.cfg.Algorithms {
			scores[alg] = Similarity(q, compare, alg)
		}
		score := combineScores(scores)

		entries = append(entries, Match{
			CandidateID:   c.ID(),
			Text:          text,
			Scores:        scores,
			Score:         score,
			AdjustedScore: score,
			Pattern:       c.Pattern,
			Merchant:      c.Merchant,
		})
	}
	sortMatches(entries)

	result := MatchResult{
		Query:      query,
		Matches:    entries,
		Algorithms: m.cfg.Algorithms,
		Success:    len(entries) > 0,
	}
	if minScore > 0 {
		result = result.Filter(minScore)
	}
	if maxResults > 0 {
		result = result.Top(maxResults)
	}

	m.mu.Lock()
	if len(m.memo) >= m.cfg.CacheSize {
		// Full flush on overflow; invalidation correctness comes from
		// ClearCache, this bound only limits memory.
		m.memo = make(map[uint64]MatchResult)
	}
	m.memo[key] = result
	m.mu.Unlock()

	return result
}

// memoKey fingerprints a full match computation: query, options, algorithm
// set, and every candidate's identity and text.
func (m *Matcher) memoKey(query string, candidates []Candidate, normalize bool, minScore float64, maxResults int) uint64 {
	h := fnv.New64a()
	write := func(s string) {
		_, _ = h.Write([]byte(s))
		_, _ = h.Write([]byte{0})
	}

	write(query)
	write(strconv.FormatBool(normalize))
	write(strconv.FormatFloat(minScore, 'g', -1, 64))
	write(strconv.Itoa(maxResults))
	for _, alg := range m.cfg.Algorithms {
		write(string(alg))
	}
	for _, c := range candidates {
		write(c.ID())
		text, _ := c.Text()
		write(text)
	}
	return h.Sum64()
}

func cloneMatches(matches []Match) []Match {
	return append([]Match(nil), matches...)
}

func merchantUsage(m Match) int {
	if m.Merchant == nil {
		return 0
	}
	return m.Merchant.UsageCount
}

// popularityBoost converts usage volume into a small additive rank boost,
// log-scaled and capped so it only separates near-equal similarity scores.
func popularityBoost(usage int) float64 {
	if usage <= 0 {
		return 0
	}
	boost := 0.05 * math.Log10(float64(usage+1)) / 3.0
	if boost > 0.05 {
		boost = 0.05
	}
	return boost
}
