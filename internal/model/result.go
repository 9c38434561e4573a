package model

import "time"

// Method records which mechanism produced a categorization.
type Method string

// Categorization methods, ordered roughly by trustworthiness.
const (
	MethodUserPreference Method = "user_preference"
	MethodComposite      Method = "composite"
	MethodPattern        Method = "pattern_matching"
	MethodFuzzy          Method = "fuzzy_match"
	MethodNoMatch        Method = "no_match"
	MethodError          Method = "error"
)

// Alternative is a runner-up category from a categorization attempt.
type Alternative struct {
	CategoryName string  `json:"category_name"`
	CategoryID   int64   `json:"category_id"`
	Confidence   float64 `json:"confidence"`
}

// CategorizationResult is the engine's answer for a single expense. A nil
// CategoryID means no suggestion cleared the confidence floor; Error carries
// a per-item failure in batch output without aborting the batch.
type CategorizationResult struct {
	ProcessedAt  time.Time     `json:"processed_at"`
	CategoryName string        `json:"category_name,omitempty"`
	Method       Method        `json:"method"`
	PatternsUsed []string      `json:"patterns_used,omitempty"`
	Alternatives []Alternative `json:"alternatives,omitempty"`
	// ConfidenceBreakdown maps factor names to their contribution to the
	// final confidence. Populated only when the confidence calculator ran,
	// so preference and composite results leave it nil.
	ConfidenceBreakdown map[string]float64 `json:"confidence_breakdown,omitempty"`
	Error               error              `json:"-"`
	CategoryID          *int64             `json:"category_id"`
	ExpenseID           int64              `json:"expense_id"`
	Confidence          float64            `json:"confidence"`
	Duration            time.Duration      `json:"duration_ns"`
	CacheHit            bool               `json:"cache_hit"`
}

// Categorized reports whether the result carries a usable suggestion.
func (r *CategorizationResult) Categorized() bool {
	return r.Error == nil && r.CategoryID != nil
}

// UsedPattern reports whether the named pattern key contributed to the result.
func (r *CategorizationResult) UsedPattern(key string) bool {
	for _, k := range r.PatternsUsed {
		if k == key {
			return true
		}
	}
	return false
}

// LearningResult summarizes what changed after a user correction was
// applied. Learner failures surface as Success=false with a Message rather
// than an error, so callers always get a terminal answer.
type LearningResult struct {
	PatternsUpdated     []int64 `json:"patterns_updated,omitempty"`
	Message             string  `json:"message,omitempty"`
	PatternCreated      *int64  `json:"pattern_created,omitempty"`
	WeightsStrengthened int     `json:"weights_strengthened"`
	WeightsWeakened     int     `json:"weights_weakened"`
	Success             bool    `json:"success"`
	PreferenceUpdated   bool    `json:"preference_updated"`
	CacheInvalidated    bool    `json:"cache_invalidated"`
}
