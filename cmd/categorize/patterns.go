package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/esoto/expense-tracker-sub002/internal/model"
	"github.com/esoto/expense-tracker-sub002/internal/service"
)

func patternsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "patterns",
		Aliases: []string{"pattern"},
		Short:   "Manage categorization patterns",
		Long: `View and manage the patterns the engine matches expenses against:
merchant names, keywords, descriptions, amount ranges, and times of day.`,
	}

	// Subcommands
	cmd.AddCommand(patternsListCmd())
	cmd.AddCommand(patternsAddCmd())
	cmd.AddCommand(patternsSeedCmd())

	return cmd
}

func patternsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List categorization patterns",
		Long:  `List stored patterns with their weights and usage statistics, most used first.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			db, cleanup, err := getDatabase()
			if err != nil {
				return err
			}
			defer cleanup()

			patternType, _ := cmd.Flags().GetString("type")
			categoryArg, _ := cmd.Flags().GetString("category")
			all, _ := cmd.Flags().GetBool("all")
			limit, _ := cmd.Flags().GetInt("limit")

			filter := service.PatternFilter{
				ActiveOnly:   !all,
				OrderByUsage: true,
				Limit:        limit,
			}
			if patternType != "" {
				pt := model.PatternType(patternType)
				if !model.ValidPatternType(pt) {
					return fmt.Errorf("invalid pattern type %q (valid: %s)", patternType, patternTypeList())
				}
				filter.Type = pt
			}
			if categoryArg != "" {
				category, resolveErr := resolveCategory(ctx, db, categoryArg)
				if resolveErr != nil {
					return resolveErr
				}
				filter.CategoryID = category.ID
			}

			patterns, err := db.GetPatterns(ctx, filter)
			if err != nil {
				return fmt.Errorf("failed to get patterns: %w", err)
			}

			if len(patterns) == 0 {
				slog.Info("No patterns found")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tTYPE\tVALUE\tCATEGORY\tWEIGHT\tUSAGE\tSUCCESS\tACTIVE")
			_, _ = fmt.Fprintln(w, "──\t────\t─────\t────────\t──────\t─────\t───────\t──────")

			for _, pattern := range patterns {
				categoryName := ""
				if pattern.Category != nil {
					categoryName = pattern.Category.Name
				}
				_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%.2f\t%d\t%.0f%%\t%t\n",
					pattern.ID,
					pattern.Type,
					truncateString(pattern.Value, 30),
					categoryName,
					pattern.ConfidenceWeight,
					pattern.UsageCount,
					pattern.SuccessRate*100,
					pattern.Active)
			}

			return w.Flush()
		},
	}

	cmd.Flags().StringP("type", "t", "", "Filter by pattern type")
	cmd.Flags().StringP("category", "c", "", "Filter by category name or ID")
	cmd.Flags().BoolP("all", "a", false, "Include inactive patterns")
	cmd.Flags().Int("limit", 0, "Maximum patterns to show (0 = all)")
	return cmd
}

func patternsAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a categorization pattern",
		Long: `Create a new pattern. Merchant, keyword, and description patterns match
expense text; amount_range patterns use "min-max" values like "10-50"; time
patterns use the buckets morning, afternoon, evening, and night.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			patternType, _ := cmd.Flags().GetString("type")
			value, _ := cmd.Flags().GetString("value")
			categoryArg, _ := cmd.Flags().GetString("category")
			weight, _ := cmd.Flags().GetFloat64("weight")

			pt := model.PatternType(patternType)
			if !model.ValidPatternType(pt) {
				return fmt.Errorf("invalid pattern type %q (valid: %s)", patternType, patternTypeList())
			}
			if value == "" {
				return fmt.Errorf("--value is required")
			}

			db, cleanup, err := getDatabase()
			if err != nil {
				return err
			}
			defer cleanup()

			category, err := resolveCategory(ctx, db, categoryArg)
			if err != nil {
				return err
			}

			pattern := &model.Pattern{
				Type:             pt,
				Value:            value,
				CategoryID:       category.ID,
				ConfidenceWeight: weight,
				Active:           true,
				UserCreated:      true,
			}
			if err := db.CreatePattern(ctx, pattern); err != nil {
				return fmt.Errorf("failed to create pattern: %w", err)
			}

			slog.Info("✓ Pattern created",
				"id", pattern.ID,
				"type", pattern.Type,
				"value", pattern.Value,
				"category", category.Name)
			return nil
		},
	}

	cmd.Flags().StringP("type", "t", "", "Pattern type (required)")
	cmd.Flags().StringP("value", "v", "", "Pattern value (required)")
	cmd.Flags().StringP("category", "c", "", "Category name or ID (required)")
	cmd.Flags().Float64P("weight", "w", 1.0, "Confidence weight")

	for _, flag := range []string{"type", "value", "category"} {
		if err := cmd.MarkFlagRequired(flag); err != nil {
			slog.Error("failed to mark flag as required", "error", err)
		}
	}

	return cmd
}

// starterPatterns is the seed rule set for a fresh database: common US
// merchants and keywords mapped to everyday spending categories.
var starterPatterns = map[string][]struct {
	Type  model.PatternType
	Value string
}{
	"Groceries": {
		{model.PatternTypeMerchant, "whole foods"},
		{model.PatternTypeMerchant, "trader joe's"},
		{model.PatternTypeMerchant, "safeway"},
		{model.PatternTypeKeyword, "grocery"},
		{model.PatternTypeKeyword, "supermarket"},
	},
	"Dining": {
		{model.PatternTypeMerchant, "starbucks"},
		{model.PatternTypeMerchant, "chipotle"},
		{model.PatternTypeMerchant, "mcdonald's"},
		{model.PatternTypeKeyword, "restaurant"},
		{model.PatternTypeKeyword, "coffee"},
	},
	"Transport": {
		{model.PatternTypeMerchant, "uber"},
		{model.PatternTypeMerchant, "lyft"},
		{model.PatternTypeMerchant, "shell"},
		{model.PatternTypeMerchant, "chevron"},
		{model.PatternTypeKeyword, "parking"},
	},
	"Entertainment": {
		{model.PatternTypeMerchant, "netflix"},
		{model.PatternTypeMerchant, "spotify"},
		{model.PatternTypeMerchant, "amc theatres"},
		{model.PatternTypeKeyword, "cinema"},
	},
	"Utilities": {
		{model.PatternTypeKeyword, "electric"},
		{model.PatternTypeKeyword, "water bill"},
		{model.PatternTypeKeyword, "internet"},
	},
	"Shopping": {
		{model.PatternTypeMerchant, "amazon"},
		{model.PatternTypeMerchant, "target"},
		{model.PatternTypeMerchant, "walmart"},
	},
}

func patternsSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Seed starter patterns",
		Long: `Create a starter set of common merchant and keyword patterns along with
their categories. Existing patterns are left untouched, so seeding is safe
to repeat.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			db, cleanup, err := getDatabase()
			if err != nil {
				return err
			}
			defer cleanup()

			existing, err := db.GetPatterns(ctx, service.PatternFilter{})
			if err != nil {
				return fmt.Errorf("failed to get existing patterns: %w", err)
			}
			seen := make(map[string]bool, len(existing))
			for _, pattern := range existing {
				seen[pattern.Key()] = true
			}

			created := 0
			for categoryName, seeds := range starterPatterns {
				category, catErr := db.CreateCategory(ctx, categoryName)
				if catErr != nil {
					return fmt.Errorf("failed to create category %q: %w", categoryName, catErr)
				}

				for _, seed := range seeds {
					key := fmt.Sprintf("%s:%s", seed.Type, strings.ToLower(seed.Value))
					if seen[key] {
						continue
					}

					pattern := &model.Pattern{
						Type:             seed.Type,
						Value:            seed.Value,
						CategoryID:       category.ID,
						ConfidenceWeight: 1.0,
						Active:           true,
					}
					if createErr := db.CreatePattern(ctx, pattern); createErr != nil {
						return fmt.Errorf("failed to create pattern %q: %w", seed.Value, createErr)
					}
					created++
				}
			}

			if created == 0 {
				slog.Info("All starter patterns already present")
			} else {
				slog.Info("✓ Starter patterns seeded", "created", created)
			}
			return nil
		},
	}
}

func patternTypeList() string {
	types := model.ValidPatternTypes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
