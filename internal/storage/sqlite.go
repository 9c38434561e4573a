package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/esoto/expense-tracker-sub002/internal/model"
	"github.com/esoto/expense-tracker-sub002/internal/service"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// dbtx is the querying surface shared by *sql.DB and *sql.Tx, so each query
// is implemented once and serves both the direct and transactional paths.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStorage implements service.Store on a single SQLite database.
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStorage opens (creating if needed) the database at dbPath.
// Use ":memory:" for an ephemeral database.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writers anyway; a single connection avoids
	// SQLITE_BUSY churn and keeps :memory: databases coherent.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStorage{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new database transaction.
func (s *SQLiteStorage) BeginTx(ctx context.Context) (service.Tx, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &sqliteTx{
		tx:      tx,
		storage: s,
	}, nil
}

// sqliteTx wraps sql.Tx to implement service.Tx. Store methods delegate to
// the shared query implementations with the transaction as the handle.
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTx) Migrate(_ context.Context) error {
	return fmt.Errorf("migrations cannot be run within a transaction")
}

func (t *sqliteTx) BeginTx(_ context.Context) (service.Tx, error) {
	return nil, fmt.Errorf("nested transactions not supported")
}

func (t *sqliteTx) Close() error {
	return fmt.Errorf("transactions must be committed or rolled back, not closed")
}

// Pattern operations within a transaction.

func (t *sqliteTx) CreatePattern(ctx context.Context, pattern *model.Pattern) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePattern(pattern); err != nil {
		return err
	}
	return t.storage.createPattern(ctx, t.tx, pattern)
}

func (t *sqliteTx) GetPattern(ctx context.Context, id int64) (*model.Pattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateID(id, "id"); err != nil {
		return nil, err
	}
	return t.storage.getPattern(ctx, t.tx, id)
}

func (t *sqliteTx) GetActivePatterns(ctx context.Context) ([]model.Pattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getPatterns(ctx, t.tx, service.PatternFilter{ActiveOnly: true})
}

func (t *sqliteTx) GetPatternsByCategory(ctx context.Context, categoryID int64) ([]model.Pattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateID(categoryID, "categoryID"); err != nil {
		return nil, err
	}
	return t.storage.getPatterns(ctx, t.tx, service.PatternFilter{CategoryID: categoryID})
}

func (t *sqliteTx) GetPatterns(ctx context.Context, filter service.PatternFilter) ([]model.Pattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getPatterns(ctx, t.tx, filter)
}

func (t *sqliteTx) UpdatePattern(ctx context.Context, pattern *model.Pattern) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePattern(pattern); err != nil {
		return err
	}
	return t.storage.updatePattern(ctx, t.tx, pattern)
}

func (t *sqliteTx) RecordPatternUsage(ctx context.Context, id int64, success bool) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateID(id, "id"); err != nil {
		return err
	}
	return t.storage.recordPatternUsage(ctx, t.tx, id, success)
}

func (t *sqliteTx) AdjustPatternWeight(ctx context.Context, id int64, delta float64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateID(id, "id"); err != nil {
		return err
	}
	return t.storage.adjustPatternWeight(ctx, t.tx, id, delta)
}

func (t *sqliteTx) DeletePattern(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateID(id, "id"); err != nil {
		return err
	}
	return t.storage.deletePattern(ctx, t.tx, id)
}

// Composite pattern operations within a transaction.

func (t *sqliteTx) CreateCompositePattern(ctx context.Context, composite *model.CompositePattern) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateComposite(composite); err != nil {
		return err
	}
	return t.storage.createCompositePattern(ctx, t.tx, composite)
}

func (t *sqliteTx) GetCompositePattern(ctx context.Context, id int64) (*model.CompositePattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateID(id, "id"); err != nil {
		return nil, err
	}
	return t.storage.getCompositePattern(ctx, t.tx, id)
}

func (t *sqliteTx) GetActiveCompositePatterns(ctx context.Context) ([]model.CompositePattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getActiveCompositePatterns(ctx, t.tx)
}

func (t *sqliteTx) DeleteCompositePattern(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateID(id, "id"); err != nil {
		return err
	}
	return t.storage.deleteCompositePattern(ctx, t.tx, id)
}

// Category operations within a transaction.

func (t *sqliteTx) GetCategories(ctx context.Context) ([]model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getCategories(ctx, t.tx)
}

func (t *sqliteTx) GetCategoryByID(ctx context.Context, id int64) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateID(id, "id"); err != nil {
		return nil, err
	}
	return t.storage.getCategoryByID(ctx, t.tx, id)
}

func (t *sqliteTx) GetCategoryByName(ctx context.Context, name string) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}
	return t.storage.getCategoryByName(ctx, t.tx, name)
}

func (t *sqliteTx) CreateCategory(ctx context.Context, name string) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}
	return t.storage.createCategory(ctx, t.tx, name)
}

// User preference operations within a transaction.

func (t *sqliteTx) GetPreference(ctx context.Context, contextType, contextValue string) (*model.UserCategoryPreference, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(contextType, "contextType"); err != nil {
		return nil, err
	}
	if err := validateString(contextValue, "contextValue"); err != nil {
		return nil, err
	}
	return t.storage.getPreference(ctx, t.tx, contextType, contextValue)
}

func (t *sqliteTx) GetPreferences(ctx context.Context) ([]model.UserCategoryPreference, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getPreferences(ctx, t.tx)
}

func (t *sqliteTx) UpsertPreference(ctx context.Context, pref *model.UserCategoryPreference) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePreference(pref); err != nil {
		return err
	}
	return t.storage.upsertPreference(ctx, t.tx, pref)
}

func (t *sqliteTx) DeletePreference(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateID(id, "id"); err != nil {
		return err
	}
	return t.storage.deletePreference(ctx, t.tx, id)
}

// Expense operations within a transaction.

func (t *sqliteTx) SaveExpense(ctx context.Context, expense *model.Expense) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateExpense(expense); err != nil {
		return err
	}
	return t.storage.saveExpense(ctx, t.tx, expense)
}

func (t *sqliteTx) GetExpense(ctx context.Context, id int64) (*model.Expense, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateID(id, "id"); err != nil {
		return nil, err
	}
	return t.storage.getExpense(ctx, t.tx, id)
}

func (t *sqliteTx) GetExpenses(ctx context.Context, filter service.ExpenseFilter) ([]model.Expense, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getExpenses(ctx, t.tx, filter)
}

func (t *sqliteTx) UpdateExpenseCategorization(ctx context.Context, expenseID, categoryID int64, confidence float64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateID(expenseID, "expenseID"); err != nil {
		return err
	}
	if err := validateID(categoryID, "categoryID"); err != nil {
		return err
	}
	return t.storage.updateExpenseCategorization(ctx, t.tx, expenseID, categoryID, confidence)
}
