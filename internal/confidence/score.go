// Package confidence turns match scores and pattern history into calibrated
// confidence values with transparent factor breakdowns.
package confidence

import (
	"fmt"
	"sort"
	"strings"
)

// Factor names.
const (
	FactorTextMatch         = "text_match"
	FactorHistoricalSuccess = "historical_success"
	FactorUsageFrequency    = "usage_frequency"
	FactorAmountSimilarity  = "amount_similarity"
	FactorTemporalPattern   = "temporal_pattern"
)

// Level buckets a confidence value for display and thresholding.
type Level string

// Confidence levels.
const (
	LevelVeryHigh Level = "very_high"
	LevelHigh     Level = "high"
	LevelMedium   Level = "medium"
	LevelLow      Level = "low"
	LevelVeryLow  Level = "very_low"
)

// Factor is one weighted component of a confidence score. Weight is the
// renormalized weight actually applied, so across a score's factors the
// weights sum to 1.
type Factor struct {
	Name         string  `json:"name"`
	Value        float64 `json:"value"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// FactorBreakdown is the reporting view of a factor.
type FactorBreakdown struct {
	Value        float64 `json:"value"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
	Percent      float64 `json:"percent"`
}

// Score is a computed confidence with its full derivation. A Score with a
// non-empty Err is invalid and carries zero confidence.
type Score struct {
	Err                  string   `json:"error,omitempty"`
	Factors              []Factor `json:"factors"`
	PatternID            int64    `json:"pattern_id"`
	ExpenseID            int64    `json:"expense_id"`
	Confidence           float64  `json:"confidence"`
	RawScore             float64  `json:"raw_score"`
	NormalizationApplied bool     `json:"normalization_applied"`
}

// Valid reports whether the score was computed successfully.
func (s Score) Valid() bool {
	return s.Err == ""
}

// Level buckets the confidence value.
func (s Score) Level() Level {
	switch {
	case s.Confidence >= 0.95:
		return LevelVeryHigh
	case s.Confidence >= 0.85:
		return LevelHigh
	case s.Confidence >= 0.70:
		return LevelMedium
	case s.Confidence >= 0.50:
		return LevelLow
	default:
		return LevelVeryLow
	}
}

// Breakdown returns the per-factor reporting view; Percent is each factor's
// share of the summed contributions.
func (s Score) Breakdown() map[string]FactorBreakdown {
	total := 0.0
	for _, f := range s.Factors {
		total += f.Contribution
	}

	out := make(map[string]FactorBreakdown, len(s.Factors))
	for _, f := range s.Factors {
		b := FactorBreakdown{
			Value:        f.Value,
			Weight:       f.Weight,
			Contribution: f.Contribution,
		}
		if total > 0 {
			b.Percent = f.Contribution / total * 100
		}
		out[f.Name] = b
	}
	return out
}

// DominantFactor returns the factor with the highest contribution.
func (s Score) DominantFactor() (Factor, bool) {
	if len(s.Factors) == 0 {
		return Factor{}, false
	}
	best := s.Factors[0]
	for _, f := range s.Factors[1:] {
		if f.Contribution > best.Contribution {
			best = f
		}
	}
	return best, true
}

// WeakestFactor returns the factor with the lowest raw value.
func (s Score) WeakestFactor() (Factor, bool) {
	if len(s.Factors) == 0 {
		return Factor{}, false
	}
	worst := s.Factors[0]
	for _, f := range s.Factors[1:] {
		if f.Value < worst.Value {
			worst = f
		}
	}
	return worst, true
}

// Compare orders scores by confidence; positive means s outranks other.
func (s Score) Compare(other Score) int {
	switch {
	case s.Confidence > other.Confidence:
		return 1
	case s.Confidence < other.Confidence:
		return -1
	default:
		return 0
	}
}

// Explanation renders a short human-readable account of the score.
func (s Score) Explanation() string {
	if !s.Valid() {
		return fmt.Sprintf("invalid score: %s", s.Err)
	}
	if len(s.Factors) == 0 {
		return fmt.Sprintf("%s confidence (%.2f), no factors applied", s.Level(), s.Confidence)
	}

	parts := make([]string, 0, len(s.Factors))
	sorted := append([]Factor(nil), s.Factors...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Contribution > sorted[j].Contribution })
	for _, f := range sorted {
		parts = append(parts, fmt.Sprintf("%s %.2f×%.2f", f.Name, f.Value, f.Weight))
	}
	return fmt.Sprintf("%s confidence (%.2f) from %s", s.Level(), s.Confidence, strings.Join(parts, ", "))
}

// invalidScore builds the canonical failed-computation result.
func invalidScore(expenseID, patternID int64, msg string) Score {
	return Score{
		ExpenseID: expenseID,
		PatternID: patternID,
		Err:       msg,
	}
}
