package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Inspect batch progress",
	}
	cmd.AddCommand(newBatchStatsCmd(), newBatchPendingCmd())
	return cmd
}

func newBatchStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <batch-id>",
		Short: "Show completion statistics for a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				stats, err := a.tracker.Stats(ctx, args[0])
				if err != nil {
					return fmt.Errorf("batch stats: %w", err)
				}
				fmt.Printf("batch %s\n", args[0])
				fmt.Printf("  total:     %d\n", stats.Total)
				fmt.Printf("  completed: %d\n", stats.Completed)
				fmt.Printf("  failed:    %d\n", stats.Failed)
				fmt.Printf("  progress:  %d%%\n", stats.CompletionPercentage)
				return nil
			})
		},
	}
}

func newBatchPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending <batch-id>",
		Short: "List items in a batch that are not yet completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				records, err := a.tracker.PendingArticles(ctx, args[0])
				if err != nil {
					return fmt.Errorf("pending articles: %w", err)
				}
				if len(records) == 0 {
					fmt.Println("no pending items")
					return nil
				}
				for _, r := range records {
					line := fmt.Sprintf("%s\t%s", r.ItemID, r.Status)
					if r.Error != "" {
						line += "\t" + r.Error
					}
					fmt.Println(line)
				}
				return nil
			})
		},
	}
}

// withApp builds the app, runs fn, and tears the app down on every path.
func withApp(ctx context.Context, fn func(context.Context, *app) error) error {
	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
