package main

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"
)

func correctCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "correct <expense-id>",
		Short: "Record the correct category for an expense",
		Long: `Record a correction for a previously categorized expense. The engine
strengthens patterns that agree with the correction, weakens the ones that
misfired, and remembers the merchant so the next categorization gets it
right immediately.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			expenseID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid expense ID: %s", args[0])
			}

			categoryArg, _ := cmd.Flags().GetString("category")
			if categoryArg == "" {
				return fmt.Errorf("--category is required")
			}

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

			expense, err := db.GetExpense(ctx, expenseID)
			if err != nil {
				return fmt.Errorf("expense %d not found", expenseID)
			}

			category, err := resolveCategory(ctx, db, categoryArg)
			if err != nil {
				return err
			}

			result := eng.LearnFromCorrection(ctx, expense, category.ID, nil)
			if !result.Success {
				return fmt.Errorf("correction not recorded: %s", result.Message)
			}

			slog.Info("✓ Correction recorded",
				"expense", expenseID,
				"category", category.Name,
				"strengthened", result.WeightsStrengthened,
				"weakened", result.WeightsWeakened,
				"preference_updated", result.PreferenceUpdated)
			if result.PatternCreated != nil {
				slog.Info("  New merchant pattern created", "pattern", *result.PatternCreated)
			}

			// Reflect the correction on the expense itself.
			if err := db.UpdateExpenseCategorization(ctx, expenseID, category.ID, 1.0); err != nil {
				return fmt.Errorf("failed to update expense category: %w", err)
			}

			return nil
		},
	}

	cmd.Flags().StringP("category", "c", "", "Correct category name or ID (required)")
	if err := cmd.MarkFlagRequired("category"); err != nil {
		slog.Error("failed to mark flag as required", "error", err)
	}

	return cmd
}
