package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the research cache",
	}
	cmd.AddCommand(newCacheStatsCmd(), newCacheCleanupCmd(), newCacheClearCmd())
	return cmd
}

func newCacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache entry counts and size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				stats := a.cache.Stats(ctx)
				fmt.Printf("entries: %d\n", stats.Total)
				fmt.Printf("expired: %d\n", stats.Expired)
				fmt.Printf("size:    %d bytes\n", stats.SizeBytes)
				return nil
			})
		},
	}
}

func newCacheCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired cache entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				removed := a.cache.Cleanup(ctx)
				fmt.Printf("removed %d expired entries\n", removed)
				return nil
			})
		},
	}
}

func newCacheClearCmd() *cobra.Command {
	var namespace string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete cache entries, optionally limited to one namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				var removed int
				if namespace != "" {
					removed = a.cache.Clear(ctx, namespace)
				} else {
					removed = a.cache.ClearAll(ctx)
				}
				fmt.Printf("removed %d entries\n", removed)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", "", "limit to one namespace (serp, reddit, articles)")
	return cmd
}
