package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/viper"

	"github.com/esoto/expense-tracker-sub002/internal/config"
	"github.com/esoto/expense-tracker-sub002/internal/engine"
	"github.com/esoto/expense-tracker-sub002/internal/model"
	"github.com/esoto/expense-tracker-sub002/internal/storage"
)

// getDatabase returns a migrated database connection and a cleanup function.
func getDatabase() (*storage.SQLiteStorage, func(), error) {
	dbPath := config.DatabasePath(viper.GetString("database.path"))

	db, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Run migrations
	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			slog.Error("Failed to close database", "error", err)
		}
	}

	return db, cleanup, nil
}

// getEngine builds a categorization engine on top of the given store using
// the Viper-backed configuration. Callers own the returned engine and must
// call Shutdown when done.
func getEngine(db *storage.SQLiteStorage) (*engine.Engine, error) {
	eng, err := engine.NewWithConfig(db, config.LoadEngineConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to build engine: %w", err)
	}
	return eng, nil
}

// shutdownEngine stops the engine's worker pool, logging rather than failing
// on a slow drain.
func shutdownEngine(eng *engine.Engine) {
	if err := eng.Shutdown(5 * time.Second); err != nil {
		slog.Warn("Engine shutdown did not drain cleanly", "error", err)
	}
}

// resolveCategory accepts either a numeric category ID or a category name.
func resolveCategory(ctx context.Context, db *storage.SQLiteStorage, nameOrID string) (*model.Category, error) {
	if id, err := strconv.ParseInt(nameOrID, 10, 64); err == nil {
		category, getErr := db.GetCategoryByID(ctx, id)
		if getErr != nil {
			return nil, fmt.Errorf("category %d not found", id)
		}
		return category, nil
	}

	category, err := db.GetCategoryByName(ctx, nameOrID)
	if err != nil {
		return nil, fmt.Errorf("category %q not found", nameOrID)
	}
	return category, nil
}

// printResult renders a single categorization outcome for the console.
func printResult(result *model.CategorizationResult) {
	switch result.Method {
	case model.MethodError:
		slog.Error("Categorization failed",
			"expense", result.ExpenseID,
			"error", result.Error)
	case model.MethodNoMatch:
		slog.Warn("No category cleared the confidence floor",
			"expense", result.ExpenseID)
		printAlternatives(result.Alternatives)
	default:
		slog.Info("✓ Categorized",
			"expense", result.ExpenseID,
			"category", result.CategoryName,
			"confidence", fmt.Sprintf("%.1f%%", result.Confidence*100),
			"method", string(result.Method),
			"cache_hit", result.CacheHit)
		if len(result.PatternsUsed) > 0 {
			slog.Info("  Patterns used", "patterns", result.PatternsUsed)
		}
		printAlternatives(result.Alternatives)
	}
}

func printAlternatives(alternatives []model.Alternative) {
	for _, alt := range alternatives {
		slog.Info("  Alternative",
			"category", alt.CategoryName,
			"confidence", fmt.Sprintf("%.1f%%", alt.Confidence*100))
	}
}

// truncateString shortens s for table display.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
