package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func categoriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "Manage expense categories",
		Long:  `List and add the categories expenses are sorted into.`,
	}

	cmd.AddCommand(categoriesListCmd())
	cmd.AddCommand(categoriesAddCmd())

	return cmd
}

func categoriesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all categories",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			db, cleanup, err := getDatabase()
			if err != nil {
				return err
			}
			defer cleanup()

			categories, err := db.GetCategories(ctx)
			if err != nil {
				return fmt.Errorf("failed to get categories: %w", err)
			}

			if len(categories) == 0 {
				slog.Info("No categories found. Use 'categorize patterns seed' or 'categorize categories add' to create some.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tNAME\tCREATED")
			_, _ = fmt.Fprintln(w, "──\t────\t───────")
			for _, category := range categories {
				_, _ = fmt.Fprintf(w, "%d\t%s\t%s\n",
					category.ID,
					category.Name,
					category.CreatedAt.Format("2006-01-02"))
			}
			return w.Flush()
		},
	}
}

func categoriesAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <name>",
		Short: "Add a new category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			db, cleanup, err := getDatabase()
			if err != nil {
				return err
			}
			defer cleanup()

			category, err := db.CreateCategory(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to create category: %w", err)
			}

			slog.Info("✓ Category ready", "id", category.ID, "name", category.Name)
			return nil
		},
	}
}
