// Package engine implements the categorization orchestrator, combining user
// preferences, composite rules, pattern matching, and confidence scoring
// into a single pipeline.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/esoto/expense-tracker-sub002/internal/breaker"
	"github.com/esoto/expense-tracker-sub002/internal/cache"
	"github.com/esoto/expense-tracker-sub002/internal/common"
	"github.com/esoto/expense-tracker-sub002/internal/confidence"
	"github.com/esoto/expense-tracker-sub002/internal/learning"
	"github.com/esoto/expense-tracker-sub002/internal/match"
	"github.com/esoto/expense-tracker-sub002/internal/metrics"
	"github.com/esoto/expense-tracker-sub002/internal/model"
	"github.com/esoto/expense-tracker-sub002/internal/service"
	"github.com/esoto/expense-tracker-sub002/internal/worker"
)

// Boundary messages shown to callers. Detailed causes stay in the logs,
// keyed by correlation id.
const (
	msgUnavailable  = "Service temporarily unavailable. Please try again shortly."
	msgConnection   = "Database connection error. Please try again shortly."
	msgDataMissing  = "Required data not found. The referenced records may have been deleted."
	msgTimedOut     = "Categorization timed out before completing."
	msgNotProcessed = "Expense was not processed."
)

// Config holds the engine tunables.
type Config struct {
	Logger      *slog.Logger
	Collector   *metrics.Collector
	Distributed service.DistributedCache
	Learner     service.Learner
	// MinConfidence is the floor below which a match is reported as
	// no_match instead of a category suggestion.
	MinConfidence float64
	// AutoCategorizeThreshold gates persistence: AutoUpdate writes the
	// category only at or above it.
	AutoCategorizeThreshold float64
	// ConfidenceThreshold is the matcher's minimum similarity score; text
	// matches below it are discarded before confidence scoring.
	ConfidenceThreshold     float64
	CacheTTL                time.Duration
	CircuitBreakerTimeout   time.Duration
	MaxAlternatives         int
	CacheSize               int
	BatchSize               int
	CircuitBreakerThreshold int
	Workers                 int
	QueueSize               int
	// ParallelThreshold is the batch size above which Parallel batches use
	// the worker pool. Smaller batches run sequentially.
	ParallelThreshold    int
	IncludeAlternatives  bool
	CheckUserPreferences bool
	EnableCircuitBreaker bool
}

// DefaultConfig returns the standard engine configuration.
func DefaultConfig() Config {
	return Config{
		MinConfidence:           0.5,
		AutoCategorizeThreshold: 0.8,
		ConfidenceThreshold:     0.3,
		CacheTTL:                5 * time.Minute,
		CircuitBreakerTimeout:   60 * time.Second,
		MaxAlternatives:         3,
		CacheSize:               1000,
		BatchSize:               1000,
		CircuitBreakerThreshold: 5,
		Workers:                 4,
		QueueSize:               100,
		ParallelThreshold:       10,
		CheckUserPreferences:    true,
		EnableCircuitBreaker:    true,
	}
}

// CategorizeOptions are per-call overrides. Nil pointer fields fall back to
// the engine configuration.
type CategorizeOptions struct {
	CheckUserPreferences *bool
	IncludeAlternatives  *bool
	MaxAlternatives      int
	// AutoUpdate persists the winning category when confidence clears the
	// auto-categorize threshold.
	AutoUpdate bool
}

// BatchOptions extend CategorizeOptions for batch runs.
type BatchOptions struct {
	CategorizeOptions
	// Timeout bounds the whole parallel batch; zero means no limit.
	Timeout time.Duration
	// RateLimit caps dispatch at N expenses per second when positive.
	RateLimit int
	Parallel  bool
}

// Engine orchestrates categorization. One instance is meant to be shared
// process-wide; every collaborator is safe for concurrent use.
type Engine struct {
	store      service.Store
	learner    service.Learner
	cache      *cache.PatternCache
	matcher    *match.Matcher
	calculator *confidence.Calculator
	breaker    *breaker.Breaker
	pool       *worker.Pool
	collector  *metrics.Collector
	logger     *slog.Logger
	cfg        Config
}

// New creates an engine with DefaultConfig.
func New(store service.Store) (*Engine, error) {
	return NewWithConfig(store, DefaultConfig())
}

// NewWithConfig assembles the engine and its collaborators. All components
// share one collector and logger so metrics and logs correlate.
func NewWithConfig(store service.Store, cfg Config) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("engine: %w: store is required", common.ErrMissingConfig)
	}

	def := DefaultConfig()
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = def.MinConfidence
	}
	if cfg.AutoCategorizeThreshold <= 0 {
		cfg.AutoCategorizeThreshold = def.AutoCategorizeThreshold
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = def.ConfidenceThreshold
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.CircuitBreakerTimeout <= 0 {
		cfg.CircuitBreakerTimeout = def.CircuitBreakerTimeout
	}
	if cfg.MaxAlternatives <= 0 {
		cfg.MaxAlternatives = def.MaxAlternatives
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.CircuitBreakerThreshold <= 0 {
		cfg.CircuitBreakerThreshold = def.CircuitBreakerThreshold
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.ParallelThreshold <= 0 {
		cfg.ParallelThreshold = def.ParallelThreshold
	}
	if cfg.MinConfidence > 1 || cfg.AutoCategorizeThreshold > 1 || cfg.ConfidenceThreshold > 1 {
		return nil, fmt.Errorf("engine: %w: thresholds must be within [0,1]", common.ErrInvalidConfig)
	}

	collector := cfg.Collector
	if collector == nil {
		collector = metrics.NewCollector()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	patternCache := cache.NewWithConfig(store, cache.Config{
		Distributed: cfg.Distributed,
		Collector:   collector,
		Logger:      logger,
		MemoryTTL:   cfg.CacheTTL,
		MaxEntries:  cfg.CacheSize,
	})
	matcher := match.NewWithConfig(match.Config{
		Collector:     collector,
		Logger:        logger,
		MinScore:      cfg.ConfidenceThreshold,
		CacheSize:     cfg.CacheSize,
		NormalizeText: true,
	})
	calculator := confidence.NewWithConfig(confidence.Config{
		Collector: collector,
		Logger:    logger,
		CacheSize: cfg.CacheSize,
	})
	pool := worker.NewWithConfig(worker.Config{
		Logger:    logger,
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
	})

	var br *breaker.Breaker
	if cfg.EnableCircuitBreaker {
		br = breaker.NewWithConfig("pattern-store", breaker.Config{
			Logger:           logger,
			FailureThreshold: cfg.CircuitBreakerThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
		})
	}

	learner := cfg.Learner
	if learner == nil {
		learner = learning.New(store, logger)
	}

	return &Engine{
		store:      store,
		learner:    learner,
		cache:      patternCache,
		matcher:    matcher,
		calculator: calculator,
		breaker:    br,
		pool:       pool,
		collector:  collector,
		logger:     logger,
		cfg:        cfg,
	}, nil
}

// Cache exposes the pattern cache for warm-up and invalidation tooling.
func (e *Engine) Cache() *cache.PatternCache {
	return e.cache
}

// Categorize runs the full pipeline for one expense. It always returns a
// terminal result; failures are carried in the result's Method and Error
// fields rather than raised to the caller.
func (e *Engine) Categorize(ctx context.Context, expense *model.Expense, opts *CategorizeOptions) *model.CategorizationResult {
	defer e.collector.Time("categorize")()
	start := time.Now()

	result := e.categorize(ctx, expense, opts)
	result.Duration = time.Since(start)
	result.ProcessedAt = time.Now()
	e.collector.Result(string(result.Method))
	return result
}

func (e *Engine) categorize(ctx context.Context, expense *model.Expense, opts *CategorizeOptions) *model.CategorizationResult {
	if expense == nil {
		return errorResult(0, common.NewUserError("Expense is required.", common.ErrNoExpense))
	}
	if !expense.Persisted() {
		return errorResult(expense.ID, common.NewUserError("Expense must be saved before categorization.", common.ErrNoExpense))
	}
	if !expense.HasText() {
		return errorResult(expense.ID, common.NewUserError("Expense has no merchant or description text.", common.ErrNoText))
	}

	// Explicit user decisions outrank everything else.
	if e.checkPreferences(opts) {
		pref, err := e.cache.GetUserPreference(ctx, expense.MerchantText())
		if err != nil {
			return e.failure(ctx, expense.ID, "preference lookup", err)
		}
		if pref != nil {
			return e.preferenceResult(ctx, expense, pref)
		}
	}

	var (
		composites []model.CompositePattern
		patterns   []model.Pattern
	)
	fetch := func() error {
		var ferr error
		if composites, ferr = e.cache.GetActiveComposites(ctx); ferr != nil {
			return ferr
		}
		patterns, ferr = e.cache.GetPatternsForExpense(ctx, expense)
		return ferr
	}
	var err error
	if e.breaker != nil {
		err = e.breaker.Call(fetch)
		if errors.Is(err, breaker.ErrOpen) {
			e.logger.Warn("categorization short-circuited, circuit open", "expense_id", expense.ID)
			return errorResult(expense.ID, common.NewUserError(msgUnavailable, err))
		}
	} else {
		err = fetch()
	}
	if err != nil {
		return e.failure(ctx, expense.ID, "pattern fetch", err)
	}

	// Deterministic composite rules outrank similarity scoring.
	if result := e.bestComposite(ctx, expense, composites); result != nil {
		return result
	}

	if len(patterns) == 0 {
		return noMatchResult(expense.ID)
	}

	refs := make([]*model.Pattern, len(patterns))
	for i := range patterns {
		refs[i] = &patterns[i]
	}
	matched := e.matcher.MatchPattern(expense.Text(), refs)
	if !matched.Success || len(matched.Matches) == 0 {
		return noMatchResult(expense.ID)
	}

	best := matched.Matches[0]
	if best.Pattern == nil {
		return noMatchResult(expense.ID)
	}
	bestScore := e.calculator.Calculate(expense, best.Pattern, &best.Score)
	if !bestScore.Valid() {
		return e.failure(ctx, expense.ID, "confidence calculation", errors.New(bestScore.Err))
	}

	alternatives := e.collectAlternatives(expense, matched.Matches, best.Pattern.CategoryID, opts)

	if bestScore.Confidence < e.cfg.MinConfidence {
		result := noMatchResult(expense.ID)
		result.Alternatives = alternatives
		return result
	}

	if opts != nil && opts.AutoUpdate && bestScore.Confidence >= e.cfg.AutoCategorizeThreshold {
		if uerr := e.persistCategorization(ctx, expense.ID, best.Pattern.CategoryID, bestScore.Confidence); uerr != nil {
			return e.failure(ctx, expense.ID, "categorization persist", uerr)
		}
	}

	categoryID := best.Pattern.CategoryID
	return &model.CategorizationResult{
		ExpenseID:           expense.ID,
		CategoryID:          &categoryID,
		CategoryName:        e.categoryName(ctx, best.Pattern),
		Confidence:          bestScore.Confidence,
		ConfidenceBreakdown: contributionsByFactor(bestScore),
		Method:              methodFor(expense, best.Pattern),
		PatternsUsed:        evidenceKeys(matched.Matches, categoryID),
		Alternatives:        alternatives,
	}
}

// persistCategorization writes the winning category back to the store,
// retrying briefly on transient contention. Permanent failures stop the
// retry loop immediately.
func (e *Engine) persistCategorization(ctx context.Context, expenseID, categoryID int64, conf float64) error {
	return common.WithRetry(ctx, func() error {
		err := e.store.UpdateExpenseCategorization(ctx, expenseID, categoryID, conf)
		if err != nil && !common.IsTransient(err) {
			return &common.RetryableError{Err: err, Retryable: false}
		}
		return err
	}, service.RetryOptions{
		MaxAttempts:  3,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
	})
}

// contributionsByFactor flattens a score's derivation into the result's
// factor-to-contribution map.
func contributionsByFactor(score confidence.Score) map[string]float64 {
	if len(score.Factors) == 0 {
		return nil
	}
	out := make(map[string]float64, len(score.Factors))
	for _, f := range score.Factors {
		out[f.Name] = f.Contribution
	}
	return out
}

// BatchCategorize processes up to the configured batch cap at once,
// preloading cache data for the whole batch first. Output order follows
// input order and every accepted expense gets exactly one result.
func (e *Engine) BatchCategorize(ctx context.Context, expenses []*model.Expense, opts *BatchOptions) []*model.CategorizationResult {
	defer e.collector.Time("batch_categorize")()

	if len(expenses) == 0 {
		return nil
	}
	if len(expenses) > e.cfg.BatchSize {
		e.logger.Warn("batch exceeds cap, excess dropped",
			"submitted", len(expenses),
			"cap", e.cfg.BatchSize)
		expenses = expenses[:e.cfg.BatchSize]
	}

	// Per-item failure logs inherit the batch id through the context.
	ctx = common.WithLogger(ctx, common.LoggerFromContext(ctx).With("batch_id", uuid.New().String()))

	if err := e.cache.PreloadForExpenses(ctx, expenses); err != nil {
		e.logger.Warn("batch preload failed, falling back to per-item fetches", "error", err)
	}

	var catOpts *CategorizeOptions
	if opts != nil {
		catOpts = &opts.CategorizeOptions
	}

	if opts != nil && opts.Parallel && len(expenses) > e.cfg.ParallelThreshold {
		if results, ok := e.parallelBatch(ctx, expenses, opts, catOpts); ok {
			return results
		}
	}

	results := make([]*model.CategorizationResult, len(expenses))
	for i, expense := range expenses {
		if ctx.Err() != nil {
			for j := i; j < len(expenses); j++ {
				results[j] = errorResult(expenseID(expenses[j]), common.NewUserError(msgNotProcessed, ctx.Err()))
			}
			break
		}
		results[i] = e.Categorize(ctx, expense, catOpts)
	}
	return results
}

// parallelBatch fans the batch out over the worker pool. A false return
// means the pool rejected the batch and the caller should run it inline.
func (e *Engine) parallelBatch(ctx context.Context, expenses []*model.Expense, opts *BatchOptions, catOpts *CategorizeOptions) ([]*model.CategorizationResult, bool) {
	work := func(ctx context.Context, expense *model.Expense) (*model.CategorizationResult, error) {
		return e.Categorize(ctx, expense, catOpts), nil
	}

	var (
		raw []worker.Result[*model.CategorizationResult]
		err error
	)
	if opts.RateLimit > 0 {
		raw, err = worker.ProcessWithRateLimit(ctx, e.pool, expenses, opts.RateLimit, work)
	} else {
		raw, err = worker.ProcessBatch(ctx, e.pool, expenses, opts.Timeout, work)
	}
	if err != nil {
		e.logger.Warn("parallel batch unavailable, processing sequentially", "error", err)
		return nil, false
	}

	results := make([]*model.CategorizationResult, len(expenses))
	for i, r := range raw {
		switch {
		case r.Err == nil && r.Value != nil:
			results[i] = r.Value
		case errors.Is(r.Err, worker.ErrTimedOut):
			results[i] = errorResult(expenseID(expenses[i]), common.NewUserError(msgTimedOut, r.Err))
		default:
			results[i] = errorResult(expenseID(expenses[i]), common.NewUserError(msgNotProcessed, r.Err))
		}
	}
	return results, true
}

// Summarize folds batch results into aggregate stats. NeedsReview counts
// results that produced a suggestion below the auto-categorize threshold,
// plus no-match results a person has to look at.
func (e *Engine) Summarize(results []*model.CategorizationResult, elapsed time.Duration) service.BatchStats {
	stats := service.BatchStats{
		Duration: elapsed,
		Total:    len(results),
	}
	for _, r := range results {
		switch {
		case r == nil || r.Method == model.MethodError:
			stats.Failed++
		case !r.Categorized():
			stats.NeedsReview++
		case r.Confidence >= e.cfg.AutoCategorizeThreshold:
			stats.Categorized++
		default:
			stats.Categorized++
			stats.NeedsReview++
		}
		if r != nil && r.CacheHit {
			stats.CacheHits++
		}
	}
	return stats
}

// Metrics aggregates every component's view of the pipeline.
func (e *Engine) Metrics() map[string]any {
	out := map[string]any{
		"pipeline":   e.collector.Snapshot(),
		"cache":      e.cache.Metrics(),
		"matcher":    e.matcher.Metrics(),
		"calculator": e.calculator.Metrics(),
		"processor":  e.pool.Status(),
	}
	if e.breaker != nil {
		out["circuit_breaker"] = map[string]any{
			"state":             string(e.breaker.State()),
			"failure_count":     e.breaker.FailureCount(),
			"last_failure_time": e.breaker.LastFailureTime(),
		}
	} else {
		out["circuit_breaker"] = map[string]any{}
	}
	return out
}

// Healthy reports whether the engine can serve requests: the pool accepts
// work and the breaker, when present, is not open.
func (e *Engine) Healthy() bool {
	if !e.pool.Healthy() {
		return false
	}
	if e.breaker != nil && e.breaker.State() == breaker.StateOpen {
		return false
	}
	return true
}

// Reset clears cached patterns, match and confidence memoization, and
// breaker state. The worker pool keeps running.
func (e *Engine) Reset(ctx context.Context) {
	e.cache.InvalidateAll(ctx)
	e.matcher.ClearCache()
	e.calculator.ClearCache()
	if e.breaker != nil {
		e.breaker.Reset()
	}
	e.logger.Info("engine state reset")
}

// Shutdown drains the worker pool, waiting up to timeout for in-flight
// work. Zero means wait indefinitely.
func (e *Engine) Shutdown(timeout time.Duration) error {
	return e.pool.Shutdown(timeout)
}

func (e *Engine) checkPreferences(opts *CategorizeOptions) bool {
	if opts != nil && opts.CheckUserPreferences != nil {
		return *opts.CheckUserPreferences
	}
	return e.cfg.CheckUserPreferences
}

func (e *Engine) preferenceResult(ctx context.Context, expense *model.Expense, pref *model.UserCategoryPreference) *model.CategorizationResult {
	categoryID := pref.CategoryID
	return &model.CategorizationResult{
		ExpenseID:    expense.ID,
		CategoryID:   &categoryID,
		CategoryName: e.categoryNameByID(ctx, categoryID),
		Confidence:   pref.Confidence(),
		Method:       model.MethodUserPreference,
		CacheHit:     true,
	}
}

// bestComposite returns a result for the highest-confidence active
// composite whose rule holds for the expense, or nil when none apply.
func (e *Engine) bestComposite(ctx context.Context, expense *model.Expense, composites []model.CompositePattern) *model.CategorizationResult {
	var winner *model.CompositePattern
	for i := range composites {
		comp := &composites[i]
		if !comp.Evaluate(expense) {
			continue
		}
		if winner == nil || comp.Confidence > winner.Confidence {
			winner = comp
		}
	}
	if winner == nil {
		return nil
	}

	keys := make([]string, 0, len(winner.Components))
	for _, component := range winner.Components {
		if component != nil {
			keys = append(keys, component.Key())
		}
	}
	categoryID := winner.CategoryID
	return &model.CategorizationResult{
		ExpenseID:    expense.ID,
		CategoryID:   &categoryID,
		CategoryName: e.categoryNameByID(ctx, categoryID),
		Confidence:   winner.Confidence,
		Method:       model.MethodComposite,
		PatternsUsed: keys,
	}
}

func (e *Engine) collectAlternatives(expense *model.Expense, matches []match.Match, winningCategory int64, opts *CategorizeOptions) []model.Alternative {
	include := e.cfg.IncludeAlternatives
	if opts != nil && opts.IncludeAlternatives != nil {
		include = *opts.IncludeAlternatives
	}
	if !include {
		return nil
	}
	limit := e.cfg.MaxAlternatives
	if opts != nil && opts.MaxAlternatives > 0 {
		limit = opts.MaxAlternatives
	}

	var alternatives []model.Alternative
	seen := map[int64]bool{winningCategory: true}
	for i := 1; i < len(matches) && len(alternatives) < limit; i++ {
		p := matches[i].Pattern
		if p == nil || seen[p.CategoryID] {
			continue
		}
		seen[p.CategoryID] = true
		score := e.calculator.Calculate(expense, p, &matches[i].Score)
		if !score.Valid() {
			continue
		}
		name := ""
		if p.Category != nil {
			name = p.Category.Name
		}
		alternatives = append(alternatives, model.Alternative{
			CategoryName: name,
			CategoryID:   p.CategoryID,
			Confidence:   score.Confidence,
		})
	}
	return alternatives
}

func (e *Engine) categoryName(ctx context.Context, p *model.Pattern) string {
	if p.Category != nil {
		return p.Category.Name
	}
	return e.categoryNameByID(ctx, p.CategoryID)
}

// categoryNameByID resolves a display name best-effort. A failed lookup
// degrades to an empty name rather than failing the categorization.
func (e *Engine) categoryNameByID(ctx context.Context, categoryID int64) string {
	cat, err := e.store.GetCategoryByID(ctx, categoryID)
	if err != nil || cat == nil {
		e.logger.Debug("category name lookup failed", "category_id", categoryID, "error", err)
		return ""
	}
	return cat.Name
}

// failure translates an internal error into a structured error result. The
// detailed cause is logged with a correlation id; callers see only the
// boundary message.
func (e *Engine) failure(ctx context.Context, expenseID int64, stage string, err error) *model.CategorizationResult {
	correlationID := uuid.New().String()
	common.LoggerFromContext(ctx).Error("categorization failed",
		"correlation_id", correlationID,
		"expense_id", expenseID,
		"stage", stage,
		"error", err)

	var msg string
	switch {
	case common.IsNotFound(err):
		msg = msgDataMissing
	case common.IsTransient(err):
		msg = msgConnection
	default:
		msg = fmt.Sprintf("Categorization failed: %v", err)
	}
	return errorResult(expenseID, common.NewUserError(msg, err))
}

// methodFor distinguishes a direct rule hit from a similarity-driven one.
func methodFor(expense *model.Expense, p *model.Pattern) model.Method {
	if p.MatchesExpense(expense) {
		return model.MethodPattern
	}
	return model.MethodFuzzy
}

// evidenceKeys lists the keys of every matched pattern backing the winning
// category, strongest first.
func evidenceKeys(matches []match.Match, categoryID int64) []string {
	var keys []string
	for _, m := range matches {
		if m.Pattern != nil && m.Pattern.CategoryID == categoryID {
			keys = append(keys, m.Pattern.Key())
		}
	}
	return keys
}

func errorResult(expenseID int64, err error) *model.CategorizationResult {
	return &model.CategorizationResult{
		ExpenseID: expenseID,
		Method:    model.MethodError,
		Error:     err,
	}
}

func noMatchResult(expenseID int64) *model.CategorizationResult {
	return &model.CategorizationResult{
		ExpenseID: expenseID,
		Method:    model.MethodNoMatch,
	}
}

func expenseID(e *model.Expense) int64 {
	if e == nil {
		return 0
	}
	return e.ID
}
