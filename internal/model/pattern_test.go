package model

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestPattern_Validate(t *testing.T) {
	tests := []struct {
		name    string
		errMsg  string
		pattern Pattern
		wantErr bool
	}{
		{
			name: "valid merchant pattern",
			pattern: Pattern{
				Type:             PatternTypeMerchant,
				Value:            "starbucks",
				CategoryID:       1,
				ConfidenceWeight: 1.0,
			},
			wantErr: false,
		},
		{
			name: "valid amount range pattern",
			pattern: Pattern{
				Type:             PatternTypeAmountRange,
				Value:            "10-50",
				CategoryID:       2,
				ConfidenceWeight: 0.8,
			},
			wantErr: false,
		},
		{
			name: "unknown type",
			pattern: Pattern{
				Type:       PatternType("regex"),
				Value:      ".*",
				CategoryID: 1,
			},
			wantErr: true,
			errMsg:  `unknown pattern type "regex"`,
		},
		{
			name: "missing value",
			pattern: Pattern{
				Type:       PatternTypeKeyword,
				Value:      "   ",
				CategoryID: 1,
			},
			wantErr: true,
			errMsg:  "pattern value is required",
		},
		{
			name: "missing category",
			pattern: Pattern{
				Type:  PatternTypeMerchant,
				Value: "uber",
			},
			wantErr: true,
			errMsg:  "pattern category is required",
		},
		{
			name: "negative weight",
			pattern: Pattern{
				Type:             PatternTypeMerchant,
				Value:            "uber",
				CategoryID:       1,
				ConfidenceWeight: -0.5,
			},
			wantErr: true,
			errMsg:  "confidence weight must not be negative, got -0.50",
		},
		{
			name: "success rate above one",
			pattern: Pattern{
				Type:        PatternTypeMerchant,
				Value:       "uber",
				CategoryID:  1,
				SuccessRate: 1.5,
			},
			wantErr: true,
			errMsg:  "success rate must be between 0 and 1, got 1.50",
		},
		{
			name: "malformed amount range",
			pattern: Pattern{
				Type:       PatternTypeAmountRange,
				Value:      "fifty to sixty",
				CategoryID: 1,
			},
			wantErr: true,
			errMsg:  `amount_range value "fifty to sixty" is not a valid low-high range`,
		},
		{
			name: "inverted amount range",
			pattern: Pattern{
				Type:       PatternTypeAmountRange,
				Value:      "100-50",
				CategoryID: 1,
			},
			wantErr: true,
			errMsg:  `amount_range value "100-50" is not a valid low-high range`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.pattern.Validate()
			if tt.wantErr {
				if err == nil {
					t.Errorf("Validate() error = nil, want error containing %q", tt.errMsg)
				} else if tt.errMsg != "" && err.Error() != tt.errMsg {
					t.Errorf("Validate() error = %v, want %v", err.Error(), tt.errMsg)
				}
			} else {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
			}
		})
	}
}

func TestPattern_MatchesExpense(t *testing.T) {
	morning := time.Date(2024, 3, 12, 8, 30, 0, 0, time.UTC)
	evening := time.Date(2024, 3, 12, 19, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		pattern Pattern
		expense Expense
		want    bool
	}{
		{
			name:    "merchant substring match",
			pattern: Pattern{Type: PatternTypeMerchant, Value: "starbucks", Active: true},
			expense: Expense{MerchantName: "STARBUCKS STORE #1234"},
			want:    true,
		},
		{
			name:    "merchant prefers normalized text",
			pattern: Pattern{Type: PatternTypeMerchant, Value: "starbucks", Active: true},
			expense: Expense{MerchantName: "SQ *SB COFFEE", MerchantNormalized: "starbucks"},
			want:    true,
		},
		{
			name:    "merchant no match",
			pattern: Pattern{Type: PatternTypeMerchant, Value: "starbucks", Active: true},
			expense: Expense{MerchantName: "PEETS COFFEE"},
			want:    false,
		},
		{
			name:    "inactive pattern never matches",
			pattern: Pattern{Type: PatternTypeMerchant, Value: "starbucks", Active: false},
			expense: Expense{MerchantName: "STARBUCKS"},
			want:    false,
		},
		{
			name:    "keyword checks description too",
			pattern: Pattern{Type: PatternTypeKeyword, Value: "subscription", Active: true},
			expense: Expense{MerchantName: "NETFLIX", Description: "Monthly subscription"},
			want:    true,
		},
		{
			name:    "description match",
			pattern: Pattern{Type: PatternTypeDescription, Value: "parking", Active: true},
			expense: Expense{Description: "Airport PARKING garage"},
			want:    true,
		},
		{
			name:    "description does not look at merchant",
			pattern: Pattern{Type: PatternTypeDescription, Value: "parking", Active: true},
			expense: Expense{MerchantName: "CITY PARKING"},
			want:    false,
		},
		{
			name:    "amount in range",
			pattern: Pattern{Type: PatternTypeAmountRange, Value: "10-50", Active: true},
			expense: Expense{Amount: decimal.NewFromFloat(25.50)},
			want:    true,
		},
		{
			name:    "amount at boundary",
			pattern: Pattern{Type: PatternTypeAmountRange, Value: "10-50", Active: true},
			expense: Expense{Amount: decimal.NewFromInt(50)},
			want:    true,
		},
		{
			name:    "amount out of range",
			pattern: Pattern{Type: PatternTypeAmountRange, Value: "10-50", Active: true},
			expense: Expense{Amount: decimal.NewFromFloat(50.01)},
			want:    false,
		},
		{
			name:    "open-ended range from 100 up",
			pattern: Pattern{Type: PatternTypeAmountRange, Value: "100-", Active: true},
			expense: Expense{Amount: decimal.NewFromInt(5000)},
			want:    true,
		},
		{
			name:    "time bucket match",
			pattern: Pattern{Type: PatternTypeTime, Value: "morning", Active: true},
			expense: Expense{TransactionDate: morning},
			want:    true,
		},
		{
			name:    "time bucket mismatch",
			pattern: Pattern{Type: PatternTypeTime, Value: "morning", Active: true},
			expense: Expense{TransactionDate: evening},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.pattern.MatchesExpense(&tt.expense)
			if got != tt.want {
				t.Errorf("MatchesExpense() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPattern_EffectiveConfidence(t *testing.T) {
	tests := []struct {
		name    string
		pattern Pattern
		want    float64
	}{
		{
			name:    "unproven pattern uses even prior",
			pattern: Pattern{ConfidenceWeight: 1.0, UsageCount: 0},
			// 0.5 prior * 1.0 weight * 1/2 damping
			want: 0.25,
		},
		{
			name:    "proven pattern approaches its rate",
			pattern: Pattern{ConfidenceWeight: 1.0, SuccessRate: 0.9, UsageCount: 98, SuccessCount: 88},
			// 0.9 * 1.0 * 99/100
			want: 0.891,
		},
		{
			name:    "often used but never right",
			pattern: Pattern{ConfidenceWeight: 1.0, UsageCount: 10, SuccessCount: 0},
			// 0.05 floor * 11/12 damping
			want: 0.05 * 11.0 / 12.0,
		},
		{
			name:    "weight scales the rate",
			pattern: Pattern{ConfidenceWeight: 0.5, SuccessRate: 0.8, UsageCount: 98},
			want:    0.8 * 0.5 * 99.0 / 100.0,
		},
		{
			name:    "capped at one",
			pattern: Pattern{ConfidenceWeight: 3.0, SuccessRate: 1.0, UsageCount: 1000},
			want:    1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.pattern.EffectiveConfidence()
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("EffectiveConfidence() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPattern_Key(t *testing.T) {
	p := Pattern{Type: PatternTypeMerchant, Value: "  Starbucks  "}
	if got, want := p.Key(), "merchant:starbucks"; got != want {
		t.Errorf("Key() = %q, want %q", got, want)
	}
}

func TestPattern_AmountRange(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		wantLow  string
		wantHigh string
		wantOK   bool
	}{
		{name: "simple range", value: "10-50", wantLow: "10", wantHigh: "50", wantOK: true},
		{name: "decimal bounds", value: "9.99-19.99", wantLow: "9.99", wantHigh: "19.99", wantOK: true},
		{name: "open low end", value: "-50", wantLow: "0", wantHigh: "50", wantOK: true},
		{name: "garbage", value: "cheap", wantOK: false},
		{name: "empty", value: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Pattern{Type: PatternTypeAmountRange, Value: tt.value}
			low, high, ok := p.AmountRange()
			if ok != tt.wantOK {
				t.Fatalf("AmountRange() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if low.String() != tt.wantLow {
				t.Errorf("AmountRange() low = %s, want %s", low, tt.wantLow)
			}
			if high.String() != tt.wantHigh {
				t.Errorf("AmountRange() high = %s, want %s", high, tt.wantHigh)
			}
		})
	}
}
