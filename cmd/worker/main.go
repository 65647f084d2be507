// Package main provides the worker application entry point.
// The worker runs the scheduled content pipeline: scrape trending topics,
// generate humanized articles, and publish due drafts.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/hivewriter/content-motor/internal/adapter/repo/postgres"
	"github.com/hivewriter/content-motor/internal/adapter/scraper"
	"github.com/hivewriter/content-motor/internal/app"
	"github.com/hivewriter/content-motor/internal/config"
	"github.com/hivewriter/content-motor/internal/domain"
	"github.com/hivewriter/content-motor/internal/observability"
	"github.com/hivewriter/content-motor/internal/service/breaker"
	"github.com/hivewriter/content-motor/internal/service/keyring"
	"github.com/hivewriter/content-motor/internal/service/ratelimiter"
	"github.com/hivewriter/content-motor/internal/service/writer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", cfg.MetricsPort)
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid redis url", slog.Any("error", err))
		os.Exit(1)
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()

	catalog, err := config.LoadCatalog(cfg.ProviderCatalog)
	if err != nil {
		slog.Error("provider catalog load failed", slog.Any("error", err))
		os.Exit(1)
	}
	providers, limits, err := app.BuildProviders(cfg, catalog)
	if err != nil {
		slog.Error("provider setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	var specs []domain.Provider
	for _, p := range providers {
		specs = append(specs, p.Spec)
	}
	rot, err := keyring.New(rdb, specs)
	if err != nil {
		slog.Error("keyring setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	lim := ratelimiter.New(rdb, limits, cfg.RateLimitInitialBackoff, cfg.RateLimitMaxBackoff)
	brk := breaker.New(rdb, cfg.CircuitBreakerEnabled, cfg.CircuitBreakerFailureThreshold, cfg.CircuitBreakerRecoveryTimeout)
	brk.AddListener(func(operation string, from, to breaker.State) {
		slog.Warn("breaker state transition",
			slog.String("operation", operation),
			slog.String("from", string(from)),
			slog.String("to", string(to)))
	})

	engine, err := writer.New(providers, rot, lim, brk, writer.Options{
		BlockWordCount:          cfg.BlockWordCount,
		MinArticleLength:        cfg.MinArticleLength,
		MaxBlockRetries:         cfg.MaxBlockRetries,
		MaxArticleRegenerations: cfg.MaxArticleRegenerations,
	})
	if err != nil {
		slog.Error("writer setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	repo := postgres.NewArticleRepo(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		slog.Error("schema setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	topics := scraper.New(cfg.NewsSources, nil)
	pipeline := app.NewPipeline(topics, engine, repo, app.Options{
		SearchTerms:  cfg.SearchTerms,
		MaxTopicsPer: cfg.MaxTopicsPerRun,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sched := cron.New()
	_, err = sched.AddFunc(cfg.PipelineSchedule, func() {
		if err := pipeline.Run(runCtx); err != nil {
			slog.Error("pipeline run failed", slog.Any("error", err))
		}
		if n, err := pipeline.PublishDue(runCtx); err != nil {
			slog.Error("publishing pass failed", slog.Any("error", err))
		} else if n > 0 {
			slog.Info("publishing pass finished", slog.Int("published", n))
		}
	})
	if err != nil {
		slog.Error("invalid pipeline schedule",
			slog.String("schedule", cfg.PipelineSchedule), slog.Any("error", err))
		os.Exit(1)
	}
	sched.Start()
	slog.Info("pipeline scheduled", slog.String("schedule", cfg.PipelineSchedule))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	slog.Info("signal received, shutting down", slog.String("signal", sig.String()))

	cancel()
	<-sched.Stop().Done()
	slog.Info("worker stopped")
}
