package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/esoto/expense-tracker-sub002/internal/common"
	"github.com/esoto/expense-tracker-sub002/internal/metrics"
	"github.com/esoto/expense-tracker-sub002/internal/model"
	"github.com/esoto/expense-tracker-sub002/internal/service"
)

// keyPrefix namespaces every distributed-tier key so a shared instance can
// be scanned and cleared without touching unrelated data.
const keyPrefix = "cat:"

// deleteBatchSize caps how many keys a single distributed delete carries.
const deleteBatchSize = 100

// Tier names used in cache metrics.
const (
	tierMemory      = "memory"
	tierDistributed = "distributed"
	tierStore       = "store"
)

// Config controls cache behavior.
type Config struct {
	Distributed    service.DistributedCache
	Collector      *metrics.Collector
	Logger         *slog.Logger
	Clock          func() time.Time
	MemoryTTL      time.Duration
	DistributedTTL time.Duration
	MaxEntries     int
	WarmCount      int
}

// DefaultConfig keeps the in-process TTL short since local entries are cheap
// to refresh; the distributed tier holds entries longer.
func DefaultConfig() Config {
	return Config{
		MemoryTTL:      5 * time.Minute,
		DistributedTTL: 30 * time.Minute,
		MaxEntries:     1000,
		WarmCount:      50,
	}
}

// Metrics is a point-in-time view of cache effectiveness.
type Metrics struct {
	Hits                 map[string]int64                  `json:"hits"`
	Operations           map[string]metrics.OperationStats `json:"operations"`
	Misses               int64                             `json:"misses"`
	HitRate              float64                           `json:"hit_rate"`
	MemoryEntries        int                               `json:"memory_cache_entries"`
	DistributedAvailable bool                              `json:"distributed_available"`
}

// PatternCache serves pattern, composite-pattern, and preference lookups
// through an in-process LRU tier and an optional distributed tier before
// falling back to the store. Distributed-tier failures degrade the cache to
// in-process-only operation; they are never surfaced to callers.
type PatternCache struct {
	store         service.Store
	distributed   service.DistributedCache
	memory        *memoryCache
	collector     *metrics.Collector
	logger        *slog.Logger
	flight        singleflight.Group
	distTTL       time.Duration
	warmCount     int
	distributedUp atomic.Bool
}

// New creates a cache with DefaultConfig.
func New(store service.Store) *PatternCache {
	return NewWithConfig(store, DefaultConfig())
}

// NewWithConfig creates a cache with explicit configuration.
func NewWithConfig(store service.Store, cfg Config) *PatternCache {
	def := DefaultConfig()
	if cfg.MemoryTTL <= 0 {
		cfg.MemoryTTL = def.MemoryTTL
	}
	if cfg.DistributedTTL <= 0 {
		cfg.DistributedTTL = def.DistributedTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.WarmCount <= 0 {
		cfg.WarmCount = def.WarmCount
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &PatternCache{
		store:       store,
		distributed: cfg.Distributed,
		memory:      newMemoryCache(cfg.MaxEntries, cfg.MemoryTTL, cfg.Clock),
		collector:   cfg.Collector,
		logger:      cfg.Logger,
		distTTL:     cfg.DistributedTTL,
		warmCount:   cfg.WarmCount,
	}
	c.distributedUp.Store(cfg.Distributed != nil)
	return c
}

// GetPattern returns one pattern by ID, or nil when it does not exist.
func (c *PatternCache) GetPattern(ctx context.Context, id int64) (*model.Pattern, error) {
	defer c.collector.Time("cache.get_pattern")()

	key := patternKey(id)
	if v, ok := c.memory.get(key); ok {
		c.collector.CacheHit(tierMemory)
		return v.(*model.Pattern), nil
	}

	var cached model.Pattern
	if c.distributedGet(ctx, key, &cached) {
		c.collector.CacheHit(tierDistributed)
		c.memory.set(key, &cached)
		return &cached, nil
	}

	// Concurrent misses for the same pattern share one store fetch.
	v, err, _ := c.flight.Do(key, func() (any, error) {
		c.collector.CacheMiss(tierStore)
		pattern, err := c.store.GetPattern(ctx, id)
		if err != nil {
			if common.IsNotFound(err) {
				return (*model.Pattern)(nil), nil
			}
			return nil, fmt.Errorf("fetch pattern %d: %w", id, err)
		}
		c.memory.set(key, pattern)
		c.distributedSet(ctx, key, pattern)
		return pattern, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Pattern), nil
}

// GetPatternsForExpense returns candidate patterns for the expense's text:
// the union of active merchant, keyword, and description patterns, deduped
// by ID. Ranking against the expense is the matcher's job.
func (c *PatternCache) GetPatternsForExpense(ctx context.Context, expense *model.Expense) ([]model.Pattern, error) {
	defer c.collector.Time("cache.get_patterns_for_expense")()

	if expense == nil || !expense.HasText() {
		return nil, nil
	}

	var out []model.Pattern
	seen := make(map[int64]bool)
	for _, pt := range []model.PatternType{model.PatternTypeMerchant, model.PatternTypeKeyword, model.PatternTypeDescription} {
		patterns, err := c.patternsByType(ctx, pt)
		if err != nil {
			return nil, err
		}
		for _, p := range patterns {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			out = append(out, p)
		}
	}
	return out, nil
}

// GetCompositePattern returns one composite pattern by ID, or nil when it
// does not exist.
func (c *PatternCache) GetCompositePattern(ctx context.Context, id int64) (*model.CompositePattern, error) {
	defer c.collector.Time("cache.get_composite_pattern")()

	key := compositeKey(id)
	if v, ok := c.memory.get(key); ok {
		c.collector.CacheHit(tierMemory)
		return v.(*model.CompositePattern), nil
	}

	var cached model.CompositePattern
	if c.distributedGet(ctx, key, &cached) {
		c.collector.CacheHit(tierDistributed)
		c.memory.set(key, &cached)
		return &cached, nil
	}

	v, err, _ := c.flight.Do(key, func() (any, error) {
		c.collector.CacheMiss(tierStore)
		composite, err := c.store.GetCompositePattern(ctx, id)
		if err != nil {
			if common.IsNotFound(err) {
				return (*model.CompositePattern)(nil), nil
			}
			return nil, fmt.Errorf("fetch composite pattern %d: %w", id, err)
		}
		c.memory.set(key, composite)
		c.distributedSet(ctx, key, composite)
		return composite, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.CompositePattern), nil
}

// GetUserPreference returns the stored preference for a merchant text, or
// nil when none exists. Blank input returns nil without touching any tier.
func (c *PatternCache) GetUserPreference(ctx context.Context, merchantText string) (*model.UserCategoryPreference, error) {
	normalized := strings.ToLower(strings.TrimSpace(merchantText))
	if normalized == "" {
		return nil, nil
	}

	defer c.collector.Time("cache.get_user_preference")()

	key := preferenceKey(normalized)
	if v, ok := c.memory.get(key); ok {
		c.collector.CacheHit(tierMemory)
		return v.(*model.UserCategoryPreference), nil
	}

	var cached model.UserCategoryPreference
	if c.distributedGet(ctx, key, &cached) {
		c.collector.CacheHit(tierDistributed)
		c.memory.set(key, &cached)
		return &cached, nil
	}

	v, err, _ := c.flight.Do(key, func() (any, error) {
		c.collector.CacheMiss(tierStore)
		pref, err := c.store.GetPreference(ctx, model.PreferenceContextMerchant, normalized)
		if err != nil {
			if common.IsNotFound(err) {
				return (*model.UserCategoryPreference)(nil), nil
			}
			return nil, fmt.Errorf("fetch preference %q: %w", normalized, err)
		}
		c.memory.set(key, pref)
		c.distributedSet(ctx, key, pref)
		return pref, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.UserCategoryPreference), nil
}

// GetActivePatterns returns all active patterns with categories eager-loaded.
func (c *PatternCache) GetActivePatterns(ctx context.Context) ([]model.Pattern, error) {
	defer c.collector.Time("cache.get_active_patterns")()

	if v, ok := c.memory.get(activePatternsKey); ok {
		c.collector.CacheHit(tierMemory)
		return v.([]model.Pattern), nil
	}

	var cached []model.Pattern
	if c.distributedGet(ctx, activePatternsKey, &cached) {
		c.collector.CacheHit(tierDistributed)
		c.memory.set(activePatternsKey, cached)
		return cached, nil
	}

	v, err, _ := c.flight.Do(activePatternsKey, func() (any, error) {
		c.collector.CacheMiss(tierStore)
		patterns, err := c.store.GetActivePatterns(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch active patterns: %w", err)
		}
		c.memory.set(activePatternsKey, patterns)
		c.distributedSet(ctx, activePatternsKey, patterns)
		return patterns, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.Pattern), nil
}

// GetActiveComposites returns all active composite patterns.
func (c *PatternCache) GetActiveComposites(ctx context.Context) ([]model.CompositePattern, error) {
	defer c.collector.Time("cache.get_active_composites")()

	if v, ok := c.memory.get(activeCompositesKey); ok {
		c.collector.CacheHit(tierMemory)
		return v.([]model.CompositePattern), nil
	}

	var cached []model.CompositePattern
	if c.distributedGet(ctx, activeCompositesKey, &cached) {
		c.collector.CacheHit(tierDistributed)
		c.memory.set(activeCompositesKey, cached)
		return cached, nil
	}

	v, err, _ := c.flight.Do(activeCompositesKey, func() (any, error) {
		c.collector.CacheMiss(tierStore)
		composites, err := c.store.GetActiveCompositePatterns(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch active composite patterns: %w", err)
		}
		c.memory.set(activeCompositesKey, composites)
		c.distributedSet(ctx, activeCompositesKey, composites)
		return composites, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.CompositePattern), nil
}

// Invalidate removes the entity's own entries plus any aggregate listings
// that could still contain it.
func (c *PatternCache) Invalidate(ctx context.Context, entity any) error {
	var keys []string
	switch v := entity.(type) {
	case *model.Pattern:
		keys = []string{patternKey(v.ID), typeKey(v.Type), activePatternsKey}
	case model.Pattern:
		keys = []string{patternKey(v.ID), typeKey(v.Type), activePatternsKey}
	case *model.CompositePattern:
		keys = []string{compositeKey(v.ID), activeCompositesKey}
	case model.CompositePattern:
		keys = []string{compositeKey(v.ID), activeCompositesKey}
	case *model.UserCategoryPreference:
		keys = []string{preferenceKey(strings.ToLower(strings.TrimSpace(v.ContextValue)))}
	case model.UserCategoryPreference:
		keys = []string{preferenceKey(strings.ToLower(strings.TrimSpace(v.ContextValue)))}
	default:
		return fmt.Errorf("invalidate: unsupported entity type %T", entity)
	}

	for _, key := range keys {
		c.memory.delete(key)
	}
	c.distributedDelete(ctx, keys...)
	return nil
}

// InvalidateCategory drops every cached pattern and aggregate listing after
// a category's patterns change. Per-pattern entries cannot be enumerated by
// category, so all of them go.
func (c *PatternCache) InvalidateCategory(ctx context.Context, categoryID int64) {
	c.memory.deletePrefix(keyPrefix + "pattern:")
	c.memory.delete(activePatternsKey)
	c.memory.delete(activeCompositesKey)
	for _, pt := range model.ValidPatternTypes() {
		c.memory.delete(typeKey(pt))
	}

	if c.distributed == nil {
		return
	}
	keys, err := c.distributed.Keys(ctx, keyPrefix+"pattern")
	if err != nil {
		c.distributedFailed("keys", err)
		return
	}
	keys = append(keys, activePatternsKey, activeCompositesKey)
	for _, pt := range model.ValidPatternTypes() {
		keys = append(keys, typeKey(pt))
	}
	c.distributedDelete(ctx, keys...)
	c.logger.Debug("cache invalidated for category", "category_id", categoryID)
}

// InvalidateAll clears the in-process tier and scan-deletes the namespaced
// keys from the distributed tier. The distributed tier is never flushed
// wholesale since it may be shared with unrelated data.
func (c *PatternCache) InvalidateAll(ctx context.Context) {
	c.memory.purge()

	if c.distributed == nil {
		return
	}
	keys, err := c.distributed.Keys(ctx, keyPrefix)
	if err != nil {
		c.distributedFailed("keys", err)
		return
	}
	c.distributedDelete(ctx, keys...)
}

// Warm loads the most-used active patterns and all active composites into
// the in-process tier so the first requests after startup avoid the store.
func (c *PatternCache) Warm(ctx context.Context) (int, error) {
	defer c.collector.Time("cache.warm")()

	patterns, err := c.store.GetPatterns(ctx, service.PatternFilter{
		ActiveOnly:   true,
		OrderByUsage: true,
		Limit:        c.warmCount,
	})
	if err != nil {
		return 0, fmt.Errorf("warm cache: %w", err)
	}
	for i := range patterns {
		p := patterns[i]
		c.memory.set(patternKey(p.ID), &p)
	}

	composites, err := c.store.GetActiveCompositePatterns(ctx)
	if err != nil {
		return len(patterns), fmt.Errorf("warm cache composites: %w", err)
	}
	for i := range composites {
		comp := composites[i]
		c.memory.set(compositeKey(comp.ID), &comp)
	}
	c.memory.set(activeCompositesKey, composites)

	loaded := len(patterns) + len(composites)
	c.logger.Info("cache warmed", "patterns", len(patterns), "composites", len(composites))
	return loaded, nil
}

// PreloadForExpenses primes the cache for a batch: one preference lookup per
// distinct merchant plus one bulk active-pattern load, instead of the same
// lookups once per expense.
func (c *PatternCache) PreloadForExpenses(ctx context.Context, expenses []*model.Expense) error {
	defer c.collector.Time("cache.preload_for_expenses")()

	seen := make(map[string]bool)
	for _, e := range expenses {
		if e == nil {
			continue
		}
		normalized := strings.ToLower(strings.TrimSpace(e.MerchantText()))
		if normalized == "" || seen[normalized] {
			continue
		}
		seen[normalized] = true
		if _, err := c.GetUserPreference(ctx, normalized); err != nil {
			return err
		}
	}

	if _, err := c.GetActivePatterns(ctx); err != nil {
		return err
	}
	return nil
}

// Metrics reports cache effectiveness. Hits are split by tier; the hit rate
// counts any-tier hits against lookups that fell through to the store.
func (c *PatternCache) Metrics() Metrics {
	hits, misses := c.collector.TierCacheStats()

	m := Metrics{
		Hits: map[string]int64{
			tierMemory:      hits[tierMemory],
			tierDistributed: hits[tierDistributed],
		},
		Misses:               misses[tierStore],
		MemoryEntries:        c.memory.len(),
		DistributedAvailable: c.distributed != nil && c.distributedUp.Load(),
		Operations:           make(map[string]metrics.OperationStats),
	}

	total := m.Hits[tierMemory] + m.Hits[tierDistributed] + m.Misses
	if total > 0 {
		m.HitRate = float64(m.Hits[tierMemory]+m.Hits[tierDistributed]) / float64(total)
	}

	snap := c.collector.Snapshot()
	for op, stats := range snap.Operations {
		if strings.HasPrefix(op, "cache.") {
			m.Operations[op] = stats
		}
	}
	return m
}

// distributedGet reads and decodes one distributed entry into dst. Errors
// mark the tier unavailable and fall through; they never propagate.
func (c *PatternCache) distributedGet(ctx context.Context, key string, dst any) bool {
	if c.distributed == nil {
		return false
	}
	data, ok, err := c.distributed.Get(ctx, key)
	if err != nil {
		c.distributedFailed("get", err)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		c.logger.Warn("distributed cache entry corrupt, dropping", "key", key, "error", err)
		_ = c.distributed.Delete(ctx, key)
		return false
	}
	c.distributedUp.Store(true)
	return true
}

func (c *PatternCache) distributedSet(ctx context.Context, key string, value any) {
	if c.distributed == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("distributed cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.distributed.Set(ctx, key, data, c.distTTL); err != nil {
		c.distributedFailed("set", err)
		return
	}
	c.distributedUp.Store(true)
}

func (c *PatternCache) distributedDelete(ctx context.Context, keys ...string) {
	if c.distributed == nil || len(keys) == 0 {
		return
	}
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		if err := c.distributed.Delete(ctx, keys[start:end]...); err != nil {
			c.distributedFailed("delete", err)
			return
		}
	}
	c.distributedUp.Store(true)
}

func (c *PatternCache) distributedFailed(op string, err error) {
	c.distributedUp.Store(false)
	c.logger.Warn("distributed cache unavailable, continuing in-process only",
		"op", op,
		"error", err)
}

func patternKey(id int64) string {
	return fmt.Sprintf("%spattern:%d", keyPrefix, id)
}

func compositeKey(id int64) string {
	return fmt.Sprintf("%scomposite:%d", keyPrefix, id)
}

func preferenceKey(normalized string) string {
	return keyPrefix + "pref:merchant:" + normalized
}

func typeKey(t model.PatternType) string {
	return keyPrefix + "patterns:type:" + string(t)
}

const (
	activePatternsKey   = keyPrefix + "patterns:active"
	activeCompositesKey = keyPrefix + "composites:active"
)

// patternsByType serves the type-scoped listings backing
// GetPatternsForExpense.
func (c *PatternCache) patternsByType(ctx context.Context, pt model.PatternType) ([]model.Pattern, error) {
	key := typeKey(pt)
	if v, ok := c.memory.get(key); ok {
		c.collector.CacheHit(tierMemory)
		return v.([]model.Pattern), nil
	}

	var cached []model.Pattern
	if c.distributedGet(ctx, key, &cached) {
		c.collector.CacheHit(tierDistributed)
		c.memory.set(key, cached)
		return cached, nil
	}

	v, err, _ := c.flight.Do(key, func() (any, error) {
		c.collector.CacheMiss(tierStore)
		patterns, err := c.store.GetPatterns(ctx, service.PatternFilter{Type: pt, ActiveOnly: true})
		if err != nil {
			return nil, fmt.Errorf("fetch %s patterns: %w", pt, err)
		}
		c.memory.set(key, patterns)
		c.distributedSet(ctx, key, patterns)
		return patterns, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.Pattern), nil
}
