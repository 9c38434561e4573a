// Package model defines the core data structures for the categorization engine.
package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Expense represents a single financial transaction to be categorized.
// The engine treats expenses as immutable values; only the auto-update path
// writes a category back, and that write is delegated to the store.
type Expense struct {
	TransactionDate    time.Time
	MerchantName       string
	MerchantNormalized string
	Description        string
	Amount             decimal.Decimal
	ID                 int64
	CategoryID         *int64
}

// Persisted reports whether the expense has been saved to the store.
func (e *Expense) Persisted() bool {
	return e.ID != 0
}

// MerchantText returns the best available merchant string, preferring the
// normalized form when present.
func (e *Expense) MerchantText() string {
	if s := strings.TrimSpace(e.MerchantNormalized); s != "" {
		return s
	}
	return strings.TrimSpace(e.MerchantName)
}

// Text returns the string the matcher should score against: merchant text
// when available, otherwise the raw description.
func (e *Expense) Text() string {
	if s := e.MerchantText(); s != "" {
		return s
	}
	return strings.TrimSpace(e.Description)
}

// HasText reports whether the expense carries any matchable text.
func (e *Expense) HasText() bool {
	return e.Text() != ""
}

// TimeBucket names the coarse time-of-day window the expense falls into.
// Time-type patterns match against these bucket names.
func (e *Expense) TimeBucket() string {
	return TimeBucket(e.TransactionDate)
}

// TimeBucket maps an instant to one of four time-of-day buckets.
func TimeBucket(t time.Time) string {
	switch hour := t.Hour(); {
	case hour >= 5 && hour < 12:
		return "morning"
	case hour >= 12 && hour < 17:
		return "afternoon"
	case hour >= 17 && hour < 22:
		return "evening"
	default:
		return "night"
	}
}
