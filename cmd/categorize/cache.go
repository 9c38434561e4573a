package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the pattern cache",
		Long: `Inspect and control the pattern cache that serves categorization
lookups. The in-process tier lives only as long as one command, so these
subcommands matter most when a distributed tier is configured.`,
	}

	cmd.AddCommand(cacheWarmCmd())
	cmd.AddCommand(cacheStatsCmd())
	cmd.AddCommand(cacheInvalidateCmd())

	return cmd
}

func cacheWarmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "warm",
		Short: "Preload all active patterns into the cache",
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			loaded, err := eng.Cache().Warm(ctx)
			if err != nil {
				return fmt.Errorf("failed to warm cache: %w", err)
			}

			slog.Info("✓ Cache warmed", "patterns", loaded)
			return nil
		},
	}
}

func cacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		Long:  `Warm the cache from the database, then report entry counts and tier status.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			loaded, err := eng.Cache().Warm(ctx)
			if err != nil {
				return fmt.Errorf("failed to warm cache: %w", err)
			}

			stats := eng.Cache().Metrics()
			slog.Info("Cache statistics",
				"patterns_loaded", loaded,
				"memory_entries", stats.MemoryEntries,
				"memory_hits", stats.Hits["memory"],
				"distributed_hits", stats.Hits["distributed"],
				"misses", stats.Misses,
				"hit_rate", fmt.Sprintf("%.1f%%", stats.HitRate*100),
				"distributed_available", stats.DistributedAvailable)
			return nil
		},
	}
}

func cacheInvalidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Invalidate cached patterns",
		Long: `Drop cached pattern data. With --category only that category's entries
are dropped; otherwise the whole cache is cleared.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			categoryID, _ := cmd.Flags().GetInt64("category")
			if categoryID > 0 {
				eng.Cache().InvalidateCategory(ctx, categoryID)
				slog.Info("✓ Cache invalidated", "category", categoryID)
				return nil
			}

			eng.Cache().InvalidateAll(ctx)
			slog.Info("✓ Cache invalidated")
			return nil
		},
	}

	cmd.Flags().Int64P("category", "c", 0, "Invalidate only this category's entries")
	return cmd
}
