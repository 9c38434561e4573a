package match

import (
	"strconv"
	"strings"

	"github.com/esoto/expense-tracker-sub002/internal/model"
)

// CandidateKind discriminates the payload shapes the matcher accepts.
type CandidateKind int

// Candidate kinds.
const (
	KindString CandidateKind = iota
	KindPattern
	KindMerchant
	KindFields
)

// Merchant is a canonical merchant entry for merchant matching; UsageCount
// feeds the popularity tie-breaker.
type Merchant struct {
	Name       string
	ID         int64
	UsageCount int
}

// Candidate is a tagged union over the inputs the matcher can rank. Exactly
// the field selected by Kind is meaningful; the constructors below keep the
// tag and payload consistent.
type Candidate struct {
	Str      string
	Fields   map[string]string
	Pattern  *model.Pattern
	Merchant *Merchant
	Kind     CandidateKind
}

// StringCandidate wraps a raw string.
func StringCandidate(s string) Candidate {
	return Candidate{Kind: KindString, Str: s}
}

// PatternCandidate wraps a stored pattern.
func PatternCandidate(p *model.Pattern) Candidate {
	return Candidate{Kind: KindPattern, Pattern: p}
}

// MerchantCandidate wraps a canonical merchant.
func MerchantCandidate(m *Merchant) Candidate {
	return Candidate{Kind: KindMerchant, Merchant: m}
}

// FieldsCandidate wraps a loose attribute bag; text is taken from the first
// populated conventional field.
func FieldsCandidate(fields map[string]string) Candidate {
	return Candidate{Kind: KindFields, Fields: fields}
}

// fieldOrder is the lookup order for attribute-bag candidates.
var fieldOrder = []string{"name", "title", "merchant", "merchant_name", "description", "value"}

// Text extracts the comparable text for scoring. ok is false when the
// candidate has no usable text; such candidates are skipped, never fatal.
func (c Candidate) Text() (string, bool) {
	switch c.Kind {
	case KindString:
		s := strings.TrimSpace(c.Str)
		return s, s != ""
	case KindPattern:
		if c.Pattern == nil {
			return "", false
		}
		s := strings.TrimSpace(c.Pattern.Value)
		return s, s != ""
	case KindMerchant:
		if c.Merchant == nil {
			return "", false
		}
		s := strings.TrimSpace(c.Merchant.Name)
		return s, s != ""
	case KindFields:
		for _, key := range fieldOrder {
			if v := strings.TrimSpace(c.Fields[key]); v != "" {
				return v, true
			}
		}
		return "", false
	}
	return "", false
}

// ID returns a stable identifier for result entries: pattern and merchant
// candidates use their row ids, the rest fall back to extracted text.
func (c Candidate) ID() string {
	switch c.Kind {
	case KindPattern:
		if c.Pattern != nil && c.Pattern.ID != 0 {
			return "pattern:" + strconv.FormatInt(c.Pattern.ID, 10)
		}
	case KindMerchant:
		if c.Merchant != nil && c.Merchant.ID != 0 {
			return "merchant:" + strconv.FormatInt(c.Merchant.ID, 10)
		}
	}
	text, _ := c.Text()
	return text
}
