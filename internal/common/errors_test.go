package common

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserErrorMessageAndUnwrap(t *testing.T) {
	inner := errors.New("sqlite: disk I/O error")
	err := NewUserError("Database connection error.", inner)

	assert.Equal(t, "Database connection error.: sqlite: disk I/O error", err.Error())
	assert.ErrorIs(t, err, inner)

	var uerr *UserError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "Database connection error.", uerr.UserMessage)
}

func TestUserErrorWithoutCause(t *testing.T) {
	err := NewUserError("Expense is required.", nil)
	assert.Equal(t, "Expense is required.", err.Error())
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(ErrNotFound))
	assert.True(t, IsNotFound(fmt.Errorf("pattern 42: %w", ErrNotFound)))
	assert.False(t, IsNotFound(errors.New("pattern 42 missing")))
	assert.False(t, IsNotFound(nil))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrRateLimit))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.True(t, IsRetryable(&RetryableError{Err: errors.New("busy"), Retryable: true}))
	assert.False(t, IsRetryable(&RetryableError{Err: errors.New("corrupt"), Retryable: false}))
	assert.False(t, IsRetryable(errors.New("busy")))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sqlite busy", errors.New("database is locked"), true},
		{"wrapped connection failure", fmt.Errorf("fetch: %w", errors.New("connection refused")), true},
		{"timeout wording", errors.New("operation timed out"), true},
		{"broken pipe", errors.New("write tcp: broken pipe"), true},
		{"deadline sentinel", context.DeadlineExceeded, true},
		{"retryable wrapper", &RetryableError{Err: errors.New("busy"), Retryable: true}, true},
		{"constraint violation", errors.New("UNIQUE constraint failed: patterns.id"), false},
		{"not found", ErrNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}
