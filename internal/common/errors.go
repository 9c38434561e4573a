// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Common application errors.
var (
	// Database errors.
	ErrNotFound          = errors.New("not found")
	ErrDuplicateEntry    = errors.New("duplicate entry")
	ErrDatabaseCorrupted = errors.New("database corrupted")

	// Categorization errors.
	ErrNoExpense       = errors.New("no expense to categorize")
	ErrNoText          = errors.New("expense has no matchable text")
	ErrBatchTooLarge   = errors.New("batch exceeds maximum size")
	ErrMatchingFailed  = errors.New("pattern matching failed")
	ErrInvalidCategory = errors.New("invalid category")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	// Check for specific retryable errors
	if errors.Is(err, ErrRateLimit) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Check for retryable error type
	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}

// IsNotFound reports whether err means the requested row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// transientKeywords mark infrastructure failures that arrive as opaque
// strings from heterogeneous drivers, where no sentinel is available.
var transientKeywords = []string{
	"connection",
	"timeout",
	"timed out",
	"temporarily unavailable",
	"database is locked",
	"broken pipe",
	"i/o error",
}

// IsTransient reports whether err looks like a transient infrastructure
// failure: a known retryable class, or a driver error message carrying
// connection/timeout wording.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsRetryable(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range transientKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}
