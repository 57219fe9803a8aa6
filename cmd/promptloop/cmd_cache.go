package main

import (
	"fmt"

	"github.com/spboyer/promptloop/internal/cache"
	"github.com/spf13/cobra"
)

func newCacheCommand(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the judge result cache",
		Long: `Manage the judge result cache.

The cache stores judge scores keyed by the input, the output, the expected
output, the rubric and the requested dimensions. Entries live in memory for
one process and, when cache.badger_dir is set, on disk across runs.`,
	}

	cmd.AddCommand(newCacheClearCommand(g))

	return cmd
}

func newCacheClearCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear the judge result cache",
		Long: `Clear all cached judge results.

The next evaluation will call the judge for every entry again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			defer g.shutdown(cmd.Context()) //nolint:errcheck

			c, err := cache.FromConfig(cfg)
			if err != nil {
				return fmt.Errorf("opening judge cache: %w", err)
			}
			if c == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Judge cache is disabled")
				return nil
			}
			defer c.Close() //nolint:errcheck

			if err := c.Clear(); err != nil {
				return fmt.Errorf("clearing cache: %w", err)
			}

			where := "memory"
			if cfg.Cache.BadgerDir != "" {
				where = cfg.Path(cfg.Cache.BadgerDir)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cache cleared: %s\n", where)
			return nil
		},
	}
}
