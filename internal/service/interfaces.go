// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/esoto/expense-tracker-sub002/internal/model"
)

// PatternFilter defines filtering options for pattern queries.
type PatternFilter struct {
	Type         model.PatternType
	CategoryID   int64
	ActiveOnly   bool
	OrderByUsage bool
	Limit        int
	Offset       int
}

// ExpenseFilter defines filtering options for expense queries.
type ExpenseFilter struct {
	StartDate     *time.Time
	EndDate       *time.Time
	Uncategorized bool
	Limit         int
	Offset        int
}

// Store defines the contract for our persistence layer.
type Store interface {
	// Pattern operations
	CreatePattern(ctx context.Context, pattern *model.Pattern) error
	GetPattern(ctx context.Context, id int64) (*model.Pattern, error)
	GetActivePatterns(ctx context.Context) ([]model.Pattern, error)
	GetPatternsByCategory(ctx context.Context, categoryID int64) ([]model.Pattern, error)
	GetPatterns(ctx context.Context, filter PatternFilter) ([]model.Pattern, error)
	UpdatePattern(ctx context.Context, pattern *model.Pattern) error
	RecordPatternUsage(ctx context.Context, id int64, success bool) error
	AdjustPatternWeight(ctx context.Context, id int64, delta float64) error
	DeletePattern(ctx context.Context, id int64) error

	// Composite pattern operations
	CreateCompositePattern(ctx context.Context, composite *model.CompositePattern) error
	GetCompositePattern(ctx context.Context, id int64) (*model.CompositePattern, error)
	GetActiveCompositePatterns(ctx context.Context) ([]model.CompositePattern, error)
	DeleteCompositePattern(ctx context.Context, id int64) error

	// Category operations
	GetCategories(ctx context.Context) ([]model.Category, error)
	GetCategoryByID(ctx context.Context, id int64) (*model.Category, error)
	GetCategoryByName(ctx context.Context, name string) (*model.Category, error)
	CreateCategory(ctx context.Context, name string) (*model.Category, error)

	// User preference operations
	GetPreference(ctx context.Context, contextType, contextValue string) (*model.UserCategoryPreference, error)
	GetPreferences(ctx context.Context) ([]model.UserCategoryPreference, error)
	UpsertPreference(ctx context.Context, pref *model.UserCategoryPreference) error
	DeletePreference(ctx context.Context, id int64) error

	// Expense operations
	SaveExpense(ctx context.Context, expense *model.Expense) error
	GetExpense(ctx context.Context, id int64) (*model.Expense, error)
	GetExpenses(ctx context.Context, filter ExpenseFilter) ([]model.Expense, error)
	UpdateExpenseCategorization(ctx context.Context, expenseID, categoryID int64, confidence float64) error

	// Database management
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Tx, error)
	Close() error
}

// Tx represents a database transaction.
type Tx interface {
	Commit() error
	Rollback() error
	// Include all Store methods for use within transaction
	Store
}

// DistributedCache is an optional shared cache tier consulted after the
// in-process tier misses. Implementations must be safe for concurrent use.
type DistributedCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Ping(ctx context.Context) error
}

// Learner folds user corrections back into stored patterns and preferences.
type Learner interface {
	LearnFromCorrection(ctx context.Context, expense *model.Expense, categoryID int64, original *model.CategorizationResult) (*model.LearningResult, error)
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// BatchStats shows the results of a batch categorization run.
type BatchStats struct {
	Duration    time.Duration
	Total       int
	Categorized int
	NeedsReview int
	Failed      int
	CacheHits   int
}
