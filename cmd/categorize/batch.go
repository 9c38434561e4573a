package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/esoto/expense-tracker-sub002/internal/engine"
	"github.com/esoto/expense-tracker-sub002/internal/model"
	"github.com/esoto/expense-tracker-sub002/internal/service"
)

// batchChunk is how many expenses go to the engine per call, so the progress
// bar advances at a useful cadence on large backlogs.
const batchChunk = 100

func batchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Categorize all uncategorized expenses",
		Long: `Run the categorization pipeline over every stored expense that has no
category yet. With --auto-update, suggestions above the auto-categorize
threshold are written back to the database; everything else is reported
for review.`,
		RunE: runBatch,
	}

	cmd.Flags().Bool("parallel", false, "Process expenses concurrently on the worker pool")
	cmd.Flags().Int("rate-limit", 0, "Maximum expenses per second (0 = unlimited)")
	cmd.Flags().Bool("auto-update", false, "Persist categories when confidence is high enough")
	cmd.Flags().Int("limit", 0, "Maximum expenses to process (0 = all)")
	cmd.Flags().Duration("timeout", 0, "Overall deadline for the run (0 = none)")

	return cmd
}

func runBatch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	parallel, _ := cmd.Flags().GetBool("parallel")
	rateLimit, _ := cmd.Flags().GetInt("rate-limit")
	autoUpdate, _ := cmd.Flags().GetBool("auto-update")
	limit, _ := cmd.Flags().GetInt("limit")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	db, cleanup, err := getDatabase()
	if err != nil {
		return err
	}
	defer cleanup()

	eng, err := getEngine(db)
	if err != nil {
		return err
	}
	defer shutdownEngine(eng)

	stored, err := db.GetExpenses(ctx, service.ExpenseFilter{
		Uncategorized: true,
		Limit:         limit,
	})
	if err != nil {
		return fmt.Errorf("failed to load expenses: %w", err)
	}
	if len(stored) == 0 {
		slog.Info("No uncategorized expenses found")
		return nil
	}

	expenses := make([]*model.Expense, len(stored))
	for i := range stored {
		expenses[i] = &stored[i]
	}

	// Load every pattern once up front instead of per expense.
	if err := eng.Cache().PreloadForExpenses(ctx, expenses); err != nil {
		slog.Warn("Cache preload failed, continuing cold", "error", err)
	}

	slog.Info("Starting batch categorization",
		"expenses", len(expenses),
		"parallel", parallel,
		"auto_update", autoUpdate)

	opts := &engine.BatchOptions{
		CategorizeOptions: engine.CategorizeOptions{AutoUpdate: autoUpdate},
		Parallel:          parallel,
		RateLimit:         rateLimit,
		Timeout:           timeout,
	}

	bar := newBatchProgressBar(len(expenses))
	start := time.Now()

	results := make([]*model.CategorizationResult, 0, len(expenses))
	for offset := 0; offset < len(expenses); offset += batchChunk {
		end := offset + batchChunk
		if end > len(expenses) {
			end = len(expenses)
		}

		results = append(results, eng.BatchCategorize(ctx, expenses[offset:end], opts)...)
		_ = bar.Add(end - offset)

		if ctx.Err() != nil {
			slog.Warn("Batch interrupted", "processed", len(results), "remaining", len(expenses)-len(results))
			break
		}
	}

	stats := eng.Summarize(results, time.Since(start))
	printBatchStats(stats)
	printBatchFailures(results)
	return nil
}

func newBatchProgressBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]Categorizing expenses...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(os.Stderr)
		}),
	)
}

func printBatchStats(stats service.BatchStats) {
	slog.Info("✓ Batch categorization complete",
		"total", stats.Total,
		"categorized", stats.Categorized,
		"needs_review", stats.NeedsReview,
		"failed", stats.Failed,
		"cache_hits", stats.CacheHits,
		"duration", stats.Duration.Round(time.Millisecond))
}

// printBatchFailures lists individual failures after the summary, capped so a
// systemic outage does not flood the console.
func printBatchFailures(results []*model.CategorizationResult) {
	const maxShown = 10

	shown := 0
	for _, result := range results {
		if result == nil || result.Method != model.MethodError {
			continue
		}
		if shown == maxShown {
			slog.Warn("Further failures omitted")
			break
		}
		slog.Warn("Expense not categorized",
			"expense", result.ExpenseID,
			"error", result.Error)
		shown++
	}
}
