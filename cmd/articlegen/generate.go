package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/draftpress/articlegen/internal/api"
	"github.com/draftpress/articlegen/internal/topics"
)

type generateOptions struct {
	count      int
	priority   string
	categories []string
	topicsCSV  string
	topicsFile string
	resumeID   string
	dryRun     bool
}

func newGenerateCmd() *cobra.Command {
	opts := generateOptions{}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a batch of articles",
		Long: `Generate articles for a set of topics. Topics come from --topics,
--topics-file, or the configured topic file, in that order of precedence.
Item failures are reported in the summary; only setup failures abort the run.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGenerate(cmd.Context(), opts)
		},
	}

	cmd.Flags().IntVar(&opts.count, "count", 0, "maximum number of articles to generate (0 = no limit)")
	cmd.Flags().StringVar(&opts.priority, "priority", "", "priority filter: single value, comma list, or range (e.g. 2-4)")
	cmd.Flags().StringSliceVar(&opts.categories, "category", nil, "category filter, repeatable")
	cmd.Flags().StringVar(&opts.topicsCSV, "topics", "", "comma-separated topic names")
	cmd.Flags().StringVar(&opts.topicsFile, "topics-file", "", "path to a topics JSON file")
	cmd.Flags().StringVar(&opts.resumeID, "resume", "", "batch ID to resume")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "use in-memory research providers, no external calls")

	return cmd
}

func runGenerate(ctx context.Context, opts generateOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, opts.dryRun)
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := loadTopics(opts, a)
	if err != nil {
		return err
	}
	if len(list) == 0 && opts.resumeID == "" {
		return fmt.Errorf("no topics selected; provide --topics, --topics-file, or topics.config_path")
	}

	if a.cfg.Server.Enabled {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           api.NewServer(a.tracker, a.cache, a.logger.Named("api")).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.logger.Warn("ops server stopped", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()
	}

	summary, err := a.orch.Run(ctx, list, opts.resumeID)
	if err != nil {
		return fmt.Errorf("run batch: %w", err)
	}

	fmt.Printf("batch %s finished\n", summary.BatchID)
	fmt.Printf("  succeeded: %d\n", summary.Succeeded)
	fmt.Printf("  failed:    %d\n", summary.Failed)
	fmt.Printf("  progress:  %d/%d (%d%%)\n",
		summary.Stats.Completed, summary.Stats.Total, summary.Stats.CompletionPercentage)
	return nil
}

// loadTopics resolves the topic list: CLI beats file beats configured path.
// When resuming, an empty list is fine; the batch manifest supplies names.
func loadTopics(opts generateOptions, a *app) ([]topics.Topic, error) {
	var (
		list []topics.Topic
		err  error
	)
	switch {
	case opts.topicsCSV != "":
		list, err = topics.LoadFromCLI(opts.topicsCSV)
	case opts.topicsFile != "":
		list, err = topics.LoadFromFile(opts.topicsFile)
	case opts.resumeID != "":
		// The batch manifest carries the frozen topic names.
		return nil, nil
	case a.cfg.Topics.ConfigPath != "":
		list, err = topics.LoadFromConfig(a.cfg.Topics.ConfigPath)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load topics: %w", err)
	}

	validation := topics.Validate(list)
	for _, inv := range validation.Invalid {
		a.logger.Warn("skipping invalid topic",
			zap.String("topic", inv.Topic.Topic),
			zap.String("reasons", strings.Join(inv.Reasons, "; ")))
	}

	filtered, err := topics.Filter(validation.Valid, topics.Options{
		Priority:   opts.priority,
		Categories: opts.categories,
		MaxCount:   opts.count,
	})
	if err != nil {
		return nil, fmt.Errorf("filter topics: %w", err)
	}
	return filtered, nil
}
