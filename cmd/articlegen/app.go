package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/draftpress/articlegen/internal/batch"
	batchfile "github.com/draftpress/articlegen/internal/batch/file"
	batchpg "github.com/draftpress/articlegen/internal/batch/postgres"
	"github.com/draftpress/articlegen/internal/cache"
	"github.com/draftpress/articlegen/internal/clock/system"
	"github.com/draftpress/articlegen/internal/config"
	"github.com/draftpress/articlegen/internal/id/uuid"
	"github.com/draftpress/articlegen/internal/logging"
	"github.com/draftpress/articlegen/internal/metrics"
	"github.com/draftpress/articlegen/internal/orchestrator"
	"github.com/draftpress/articlegen/internal/progress"
	"github.com/draftpress/articlegen/internal/progress/sinks"
	"github.com/draftpress/articlegen/internal/research"
	researchhttp "github.com/draftpress/articlegen/internal/research/httpapi"
	researchmem "github.com/draftpress/articlegen/internal/research/memory"
	"github.com/draftpress/articlegen/internal/retry"
	"github.com/draftpress/articlegen/internal/scheduler"
	"github.com/draftpress/articlegen/internal/throttle"
)

// app owns every long-lived resource of one CLI invocation. Close releases
// them on every exit path.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	clock   *system.Clock
	cache   *cache.Store
	store   batch.Store
	tracker *batch.Tracker
	hub     *progress.Hub
	orch    *orchestrator.Orchestrator
}

// newApp builds the full object graph from configuration. dryRun forces the
// in-memory research fakes regardless of configured endpoints.
func newApp(ctx context.Context, dryRun bool) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	clock := system.New()

	cacheStore, err := cache.New(cache.Config{Dir: cfg.Cache.Dir}, clock, logger.Named("cache"))
	if err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}

	store, err := newBatchStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	tracker := batch.NewTracker(store, clock, uuid.New(), logger.Named("batch"))

	hub := progress.NewHub(
		progress.Config{Logger: logger.Named("progress")},
		sinks.NewLog(logger.Named("progress")),
		sinks.NewPrometheus(),
	)

	throt := throttle.New(throttleConfig(cfg), logger.Named("throttle"))
	exec := scheduler.New(scheduler.Config{
		Concurrency: cfg.Pipeline.Concurrency,
		Logger:      logger.Named("scheduler"),
	})
	retryPolicy := retry.New(retry.Config{
		MaxAttempts: cfg.Pipeline.MaxRetries,
		BaseDelay:   cfg.RetryBase(),
		MaxDelay:    cfg.RetryMax(),
	})

	ranker, insightSource, completer := newResearchProviders(cfg, dryRun, logger)

	orch := orchestrator.New(
		exec,
		throt,
		cacheStore,
		tracker,
		ranker,
		insightSource,
		completer,
		retryPolicy,
		hub,
		clock,
		orchestrator.Config{
			SectionDelay: cfg.SectionDelay(),
			SerpTTL:      cfg.SerpTTL(),
			InsightTTL:   cfg.InsightTTL(),
			ArticleTTL:   cfg.ArticleTTL(),
		},
		logger.Named("orchestrator"),
	)

	return &app{
		cfg:     cfg,
		logger:  logger,
		clock:   clock,
		cache:   cacheStore,
		store:   store,
		tracker: tracker,
		hub:     hub,
		orch:    orch,
	}, nil
}

// Close flushes progress events and releases the store and logger.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.hub.Close(ctx); err != nil {
		a.logger.Warn("progress hub close failed", zap.Error(err))
	}
	a.store.Close()
	_ = a.logger.Sync() //nolint:errcheck
}

func newBatchStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (batch.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		store, err := batchpg.New(ctx, batchpg.Config{DSN: cfg.Store.DSN})
		if err != nil {
			return nil, fmt.Errorf("init postgres batch store: %w", err)
		}
		return store, nil
	default:
		store, err := batchfile.New(batchfile.Config{Dir: cfg.Store.Dir}, logger.Named("store"))
		if err != nil {
			return nil, fmt.Errorf("init file batch store: %w", err)
		}
		return store, nil
	}
}

func newResearchProviders(cfg config.Config, dryRun bool, logger *zap.Logger) (research.Ranker, research.InsightSource, research.Completer) {
	httpCfg := researchhttp.Config{
		APIKey:  cfg.Research.APIKey,
		Timeout: time.Duration(cfg.Research.TimeoutSeconds) * time.Second,
	}

	var (
		ranker        research.Ranker
		insightSource research.InsightSource
		completer     research.Completer
	)
	if !dryRun && cfg.Research.SerpURL != "" {
		ranker = researchhttp.NewRanker(cfg.Research.SerpURL, httpCfg)
	} else {
		logger.Info("using in-memory search ranking provider")
		ranker = researchmem.NewRanker()
	}
	if !dryRun && cfg.Research.RedditURL != "" {
		insightSource = researchhttp.NewInsightSource(cfg.Research.RedditURL, httpCfg)
	} else {
		logger.Info("using in-memory insight provider")
		insightSource = researchmem.NewInsightSource()
	}
	if !dryRun && cfg.Research.GeminiURL != "" {
		completer = researchhttp.NewCompleter(cfg.Research.GeminiURL, httpCfg)
	} else {
		logger.Info("using in-memory completion provider")
		completer = researchmem.NewCompleter()
	}
	return ranker, insightSource, completer
}

func throttleConfig(cfg config.Config) throttle.Config {
	services := make(map[string]throttle.ServiceRate, len(cfg.Throttle.Services))
	for name, r := range cfg.Throttle.Services {
		services[name] = throttle.ServiceRate{RPS: r.RPS, Burst: r.Burst}
	}
	return throttle.Config{
		DefaultRPS:   cfg.Throttle.DefaultRPS,
		DefaultBurst: cfg.Throttle.DefaultBurst,
		Services:     services,
	}
}
