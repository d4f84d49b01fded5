package main

import (
	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "articlegen",
		Short: "Batch generation pipeline for AI-written articles",
		Long: `articlegen drives batches of AI article generation: it selects topics,
creates or resumes a batch, runs cache-checked, rate-limited research calls
under a bounded-concurrency scheduler, and tracks per-article progress so an
interrupted batch can be resumed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	cmd.AddCommand(newGenerateCmd())
	cmd.AddCommand(newBatchCmd())
	cmd.AddCommand(newCacheCmd())

	return cmd
}
