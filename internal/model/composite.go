package model

import (
	"fmt"
	"strings"
	"time"
)

// CompositeOperator joins the component patterns of a composite rule.
type CompositeOperator string

// Composite operators.
const (
	OperatorAnd CompositeOperator = "AND"
	OperatorOr  CompositeOperator = "OR"
)

// CompositePattern combines several patterns under a boolean operator, for
// rules like "merchant contains uber AND amount between 10 and 60".
type CompositePattern struct {
	CreatedAt  time.Time         `json:"created_at"`
	Name       string            `json:"name"`
	Operator   CompositeOperator `json:"operator"`
	Components []*Pattern        `json:"components"`
	ID         int64             `json:"id"`
	CategoryID int64             `json:"category_id"`
	Confidence float64           `json:"confidence"`
	Active     bool              `json:"active"`
}

// Evaluate applies the composite rule to an expense. An empty component list
// never matches regardless of operator.
func (c *CompositePattern) Evaluate(e *Expense) bool {
	if !c.Active || len(c.Components) == 0 {
		return false
	}

	switch c.Operator {
	case OperatorAnd:
		for _, p := range c.Components {
			if !p.MatchesExpense(e) {
				return false
			}
		}
		return true
	case OperatorOr:
		for _, p := range c.Components {
			if p.MatchesExpense(e) {
				return true
			}
		}
		return false
	}
	return false
}

// Validate ensures the composite rule is well formed.
func (c *CompositePattern) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("composite pattern name is required")
	}
	if c.Operator != OperatorAnd && c.Operator != OperatorOr {
		return fmt.Errorf("unknown composite operator %q", c.Operator)
	}
	if c.CategoryID == 0 {
		return fmt.Errorf("composite pattern category is required")
	}
	if len(c.Components) == 0 {
		return fmt.Errorf("composite pattern needs at least one component")
	}
	for i, p := range c.Components {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("component %d: %w", i, err)
		}
	}
	return nil
}
