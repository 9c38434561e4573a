package model

import (
	"fmt"
	"strings"
	"time"
)

// PreferenceContextMerchant is the context type for merchant-keyed
// user preferences, the only context the engine currently records.
const PreferenceContextMerchant = "merchant"

// UserCategoryPreference records an explicit user decision: expenses in a
// given context (normalized merchant) belong to a category. Preferences
// outrank learned patterns during categorization.
type UserCategoryPreference struct {
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	ContextType      string    `json:"context_type"`
	ContextValue     string    `json:"context_value"`
	ID               int64     `json:"id"`
	CategoryID       int64     `json:"category_id"`
	PreferenceWeight float64   `json:"preference_weight"`
	UsageCount       int       `json:"usage_count"`
}

// Confidence converts the preference's weight into a confidence score.
// Preferences are explicit user input, so they start high and saturate just
// below certainty as repeated confirmations accumulate weight.
func (u *UserCategoryPreference) Confidence() float64 {
	conf := 0.85 + 0.05*u.PreferenceWeight
	if conf > 0.99 {
		conf = 0.99
	}
	if conf < 0.85 {
		conf = 0.85
	}
	return conf
}

// Validate ensures the preference is usable for lookups.
func (u *UserCategoryPreference) Validate() error {
	if strings.TrimSpace(u.ContextType) == "" {
		return fmt.Errorf("preference context type is required")
	}
	if strings.TrimSpace(u.ContextValue) == "" {
		return fmt.Errorf("preference context value is required")
	}
	if u.CategoryID == 0 {
		return fmt.Errorf("preference category is required")
	}
	if u.PreferenceWeight < 0 {
		return fmt.Errorf("preference weight must not be negative, got %.2f", u.PreferenceWeight)
	}
	return nil
}
