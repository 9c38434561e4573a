package main

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/esoto/expense-tracker-sub002/internal/engine"
	"github.com/esoto/expense-tracker-sub002/internal/model"
)

func expenseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expense [id]",
		Short: "Categorize a single expense",
		Long: `Categorize one expense and print the suggested category.

With an ID argument the stored expense is re-categorized. Without one, a new
expense is recorded from --merchant and --amount before categorization, and
its ID is printed so a later "correct" can reference it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

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

			var expense *model.Expense
			if len(args) == 1 {
				id, parseErr := strconv.ParseInt(args[0], 10, 64)
				if parseErr != nil {
					return fmt.Errorf("invalid expense ID: %s", args[0])
				}
				expense, err = db.GetExpense(ctx, id)
				if err != nil {
					return fmt.Errorf("expense %d not found", id)
				}
			} else {
				expense, err = expenseFromFlags(cmd)
				if err != nil {
					return err
				}
				if err = db.SaveExpense(ctx, expense); err != nil {
					return fmt.Errorf("failed to save expense: %w", err)
				}
				slog.Info("Expense recorded", "id", expense.ID, "merchant", expense.MerchantName)
			}

			autoUpdate, _ := cmd.Flags().GetBool("auto-update")
			alternatives, _ := cmd.Flags().GetBool("alternatives")

			opts := &engine.CategorizeOptions{AutoUpdate: autoUpdate}
			if alternatives {
				opts.IncludeAlternatives = &alternatives
			}

			result := eng.Categorize(ctx, expense, opts)
			printResult(result)
			return nil
		},
	}

	cmd.Flags().StringP("merchant", "m", "", "Merchant name (required unless an ID is given)")
	cmd.Flags().StringP("description", "d", "", "Expense description")
	cmd.Flags().StringP("amount", "a", "", "Expense amount, e.g. 12.50 (required unless an ID is given)")
	cmd.Flags().String("date", "", "Transaction date as YYYY-MM-DD (default: today)")
	cmd.Flags().Bool("auto-update", false, "Persist the category when confidence is high enough")
	cmd.Flags().Bool("alternatives", false, "Include runner-up categories in the output")

	return cmd
}

// expenseFromFlags builds a new expense from command-line flags.
func expenseFromFlags(cmd *cobra.Command) (*model.Expense, error) {
	merchant, _ := cmd.Flags().GetString("merchant")
	description, _ := cmd.Flags().GetString("description")
	amountStr, _ := cmd.Flags().GetString("amount")
	dateStr, _ := cmd.Flags().GetString("date")

	if merchant == "" && description == "" {
		return nil, fmt.Errorf("--merchant or --description is required")
	}
	if amountStr == "" {
		return nil, fmt.Errorf("--amount is required")
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amountStr, err)
	}

	date := time.Now()
	if dateStr != "" {
		date, err = time.Parse("2006-01-02", dateStr)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q (expected YYYY-MM-DD)", dateStr)
		}
	}

	return &model.Expense{
		MerchantName:    merchant,
		Description:     description,
		Amount:          amount,
		TransactionDate: date,
	}, nil
}
