// Package storage provides the SQLite persistence layer for the
// categorization engine.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/esoto/expense-tracker-sub002/internal/model"
)

// Validation errors.
var (
	ErrNilContext   = errors.New("context cannot be nil")
	ErrEmptyString  = errors.New("string parameter cannot be empty")
	ErrNilParameter = errors.New("parameter cannot be nil")
	ErrInvalidID    = errors.New("id must be positive")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateID ensures an identifier is usable for lookups.
func validateID(id int64, paramName string) error {
	if id <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidID, paramName)
	}
	return nil
}

// validatePattern validates a pattern before writing it.
func validatePattern(p *model.Pattern) error {
	if p == nil {
		return fmt.Errorf("%w: pattern", ErrNilParameter)
	}
	return p.Validate()
}

// validateComposite validates a composite pattern before writing it.
func validateComposite(c *model.CompositePattern) error {
	if c == nil {
		return fmt.Errorf("%w: composite pattern", ErrNilParameter)
	}
	return c.Validate()
}

// validatePreference validates a user preference before writing it.
func validatePreference(p *model.UserCategoryPreference) error {
	if p == nil {
		return fmt.Errorf("%w: preference", ErrNilParameter)
	}
	return p.Validate()
}

// validateExpense validates an expense before writing it. Text is optional:
// textless expenses can be stored, they just cannot be categorized.
func validateExpense(e *model.Expense) error {
	if e == nil {
		return fmt.Errorf("%w: expense", ErrNilParameter)
	}
	if e.TransactionDate.IsZero() {
		return fmt.Errorf("expense transaction date is required")
	}
	return nil
}
