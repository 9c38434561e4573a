// Package testutil provides shared helpers for tests that need a real
// store: in-memory SQLite with migrations applied and seed data installed.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/esoto/expense-tracker-sub002/internal/model"
	"github.com/esoto/expense-tracker-sub002/internal/storage"
)

// TestDB bundles an in-memory store with the categories seeded into it.
type TestDB struct {
	Store      *storage.SQLiteStorage
	Categories map[string]int64
	t          *testing.T
}

// SetupTestDB creates a migrated in-memory database seeded with the named
// categories. Cleanup is registered automatically.
func SetupTestDB(t *testing.T, categoryNames ...string) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	categories := make(map[string]int64, len(categoryNames))
	for _, name := range categoryNames {
		cat, err := store.CreateCategory(ctx, name)
		if err != nil {
			t.Fatalf("failed to seed category %q: %v", name, err)
		}
		categories[name] = cat.ID
	}

	return &TestDB{
		Store:      store,
		Categories: categories,
		t:          t,
	}
}

// CategoryID returns the seeded category's id or fails the test.
func (db *TestDB) CategoryID(name string) int64 {
	db.t.Helper()
	id, ok := db.Categories[name]
	if !ok {
		db.t.Fatalf("category %q was not seeded", name)
	}
	return id
}

// MustCreatePattern stores a pattern or fails the test. Zero-value weight
// defaults to 1.0 and the pattern is active unless marked otherwise.
func (db *TestDB) MustCreatePattern(p model.Pattern) *model.Pattern {
	db.t.Helper()
	if p.ConfidenceWeight == 0 {
		p.ConfidenceWeight = 1.0
	}
	if err := db.Store.CreatePattern(context.Background(), &p); err != nil {
		db.t.Fatalf("failed to create pattern %s:%s: %v", p.Type, p.Value, err)
	}
	return &p
}

// MustSaveExpense stores an expense or fails the test. A zero transaction
// date defaults to a fixed daytime instant so time patterns are stable.
func (db *TestDB) MustSaveExpense(e model.Expense) *model.Expense {
	db.t.Helper()
	if e.TransactionDate.IsZero() {
		e.TransactionDate = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	}
	if e.Amount.IsZero() {
		e.Amount = decimal.NewFromFloat(10.00)
	}
	if err := db.Store.SaveExpense(context.Background(), &e); err != nil {
		db.t.Fatalf("failed to save expense %q: %v", e.MerchantName, err)
	}
	return &e
}
