package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PatternType identifies what aspect of an expense a pattern matches against.
type PatternType string

// Pattern type constants.
const (
	PatternTypeMerchant    PatternType = "merchant"
	PatternTypeKeyword     PatternType = "keyword"
	PatternTypeDescription PatternType = "description"
	PatternTypeAmountRange PatternType = "amount_range"
	PatternTypeTime        PatternType = "time"
)

// ValidPatternType reports whether t is a recognized pattern type.
func ValidPatternType(t PatternType) bool {
	switch t {
	case PatternTypeMerchant, PatternTypeKeyword, PatternTypeDescription,
		PatternTypeAmountRange, PatternTypeTime:
		return true
	}
	return false
}

// ValidPatternTypes returns all recognized pattern types.
func ValidPatternTypes() []PatternType {
	return []PatternType{
		PatternTypeMerchant,
		PatternTypeKeyword,
		PatternTypeDescription,
		PatternTypeAmountRange,
		PatternTypeTime,
	}
}

// AmountStats summarizes the amounts of expenses a pattern has matched.
// Populated by the learning subsystem; consumed by the confidence calculator.
type AmountStats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Count  int     `json:"count"`
}

// TemporalStats records when a pattern's matches historically occurred.
type TemporalStats struct {
	HourDistribution map[int]int `json:"hour_distribution,omitempty"`
	DayDistribution  map[int]int `json:"day_distribution,omitempty"`
}

// PatternMetadata is the opaque statistics bag attached to a pattern.
type PatternMetadata struct {
	Amount   *AmountStats   `json:"amount,omitempty"`
	Temporal *TemporalStats `json:"temporal,omitempty"`
}

// Pattern is a stored categorization rule: when an expense matches the
// pattern's value, the pattern's category becomes a candidate assignment.
type Pattern struct {
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Category         *Category       `json:"-"`
	Metadata         PatternMetadata `json:"metadata"`
	Type             PatternType     `json:"pattern_type"`
	Value            string          `json:"pattern_value"`
	ID               int64           `json:"id"`
	CategoryID       int64           `json:"category_id"`
	ConfidenceWeight float64         `json:"confidence_weight"`
	SuccessRate      float64         `json:"success_rate"`
	UsageCount       int             `json:"usage_count"`
	SuccessCount     int             `json:"success_count"`
	Active           bool            `json:"active"`
	UserCreated      bool            `json:"user_created"`
}

// Key returns the "type:value" identifier used in categorization results.
func (p *Pattern) Key() string {
	return fmt.Sprintf("%s:%s", p.Type, strings.ToLower(strings.TrimSpace(p.Value)))
}

// EffectiveConfidence combines the pattern's historical success rate with its
// assigned weight, damped for patterns with little usage history so that a
// handful of lucky matches cannot dominate proven patterns.
func (p *Pattern) EffectiveConfidence() float64 {
	rate := p.SuccessRate
	if rate <= 0 {
		if p.UsageCount >= minUsageForRate && p.SuccessCount == 0 {
			// Used often and never succeeded: trust the bad record.
			rate = 0.05
		} else {
			// Unproven patterns start from an even prior.
			rate = 0.5
		}
	}

	damping := float64(p.UsageCount+1) / float64(p.UsageCount+2)
	eff := rate * p.ConfidenceWeight * damping
	if eff > 1.0 {
		eff = 1.0
	}
	if eff < 0 {
		eff = 0
	}
	return eff
}

// minUsageForRate is the usage count below which a stored success rate is
// considered statistically meaningless.
const minUsageForRate = 5

// MatchesExpense performs the pattern's direct (non-fuzzy) check against an
// expense. The fuzzy matcher handles graded similarity; this answers the
// binary "does the rule apply at all" question.
func (p *Pattern) MatchesExpense(e *Expense) bool {
	if e == nil || !p.Active {
		return false
	}

	switch p.Type {
	case PatternTypeMerchant:
		return containsFold(e.MerchantText(), p.Value)
	case PatternTypeKeyword:
		return containsFold(e.MerchantText(), p.Value) || containsFold(e.Description, p.Value)
	case PatternTypeDescription:
		return containsFold(e.Description, p.Value)
	case PatternTypeAmountRange:
		low, high, ok := p.AmountRange()
		if !ok {
			return false
		}
		return e.Amount.GreaterThanOrEqual(low) && e.Amount.LessThanOrEqual(high)
	case PatternTypeTime:
		return strings.EqualFold(strings.TrimSpace(p.Value), e.TimeBucket())
	}
	return false
}

// AmountRange parses an amount_range pattern value of the form "low-high".
// Open ends are permitted: "-50" means anything up to 50, "100-" anything
// from 100 up.
func (p *Pattern) AmountRange() (low, high decimal.Decimal, ok bool) {
	if p.Type != PatternTypeAmountRange {
		return decimal.Zero, decimal.Zero, false
	}

	raw := strings.TrimSpace(p.Value)
	sep := strings.LastIndex(raw, "-")
	if sep <= 0 {
		// "-high" form, or no separator at all.
		if strings.HasPrefix(raw, "-") {
			h, err := decimal.NewFromString(raw[1:])
			if err != nil {
				return decimal.Zero, decimal.Zero, false
			}
			return decimal.New(0, 0), h, true
		}
		return decimal.Zero, decimal.Zero, false
	}

	lowStr := strings.TrimSpace(raw[:sep])
	highStr := strings.TrimSpace(raw[sep+1:])

	l, err := decimal.NewFromString(lowStr)
	if err != nil {
		return decimal.Zero, decimal.Zero, false
	}
	if highStr == "" {
		return l, decimal.New(1<<62, 0), true
	}
	h, err := decimal.NewFromString(highStr)
	if err != nil || h.LessThan(l) {
		return decimal.Zero, decimal.Zero, false
	}
	return l, h, true
}

// Validate ensures the pattern carries usable data.
func (p *Pattern) Validate() error {
	if !ValidPatternType(p.Type) {
		return fmt.Errorf("unknown pattern type %q", p.Type)
	}
	if strings.TrimSpace(p.Value) == "" {
		return fmt.Errorf("pattern value is required")
	}
	if p.CategoryID == 0 {
		return fmt.Errorf("pattern category is required")
	}
	if p.ConfidenceWeight < 0 {
		return fmt.Errorf("confidence weight must not be negative, got %.2f", p.ConfidenceWeight)
	}
	if p.SuccessRate < 0 || p.SuccessRate > 1 {
		return fmt.Errorf("success rate must be between 0 and 1, got %.2f", p.SuccessRate)
	}
	if p.Type == PatternTypeAmountRange {
		if _, _, ok := p.AmountRange(); !ok {
			return fmt.Errorf("amount_range value %q is not a valid low-high range", p.Value)
		}
	}
	return nil
}

// containsFold reports whether haystack contains needle, ignoring case.
func containsFold(haystack, needle string) bool {
	needle = strings.TrimSpace(needle)
	if needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
