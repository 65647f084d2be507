// Package main provides the operational API server entry point.
// It serves health probes, breaker and usage introspection, and metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/redis/go-redis/v9"

	httpserver "github.com/hivewriter/content-motor/internal/adapter/httpserver"
	"github.com/hivewriter/content-motor/internal/adapter/repo/postgres"
	"github.com/hivewriter/content-motor/internal/app"
	"github.com/hivewriter/content-motor/internal/config"
	"github.com/hivewriter/content-motor/internal/domain"
	"github.com/hivewriter/content-motor/internal/observability"
	"github.com/hivewriter/content-motor/internal/service/breaker"
	"github.com/hivewriter/content-motor/internal/service/keyring"
	"github.com/hivewriter/content-motor/internal/service/ratelimiter"
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

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
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
	var specs []domain.Provider
	for _, spec := range catalog.Providers {
		keys := cfg.ProviderKeys(spec.Name)
		if len(keys) == 0 {
			continue
		}
		creds := make([]domain.Credential, len(keys))
		for i, key := range keys {
			creds[i] = domain.Credential{Provider: spec.Name, Position: i, Secret: key}
		}
		specs = append(specs, domain.Provider{Name: spec.Name, Model: spec.Model, Endpoint: spec.Endpoint, Credentials: creds})
	}
	rot, err := keyring.New(rdb, specs)
	if err != nil {
		slog.Error("keyring setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	limits := make(map[string]map[string]int)
	for _, spec := range catalog.Providers {
		if lm := cfg.ProviderLimits(spec.Name); len(lm) > 0 {
			limits[spec.Name] = lm
		}
	}
	lim := ratelimiter.New(rdb, limits, cfg.RateLimitInitialBackoff, cfg.RateLimitMaxBackoff)
	brk := breaker.New(rdb, cfg.CircuitBreakerEnabled, cfg.CircuitBreakerFailureThreshold, cfg.CircuitBreakerRecoveryTimeout)

	dbCheck, redisCheck := app.BuildReadinessChecks(pool, redisAdapter{rdb})
	srv := httpserver.NewServer(brk, lim, rot, dbCheck, redisCheck)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}

// redisAdapter narrows *redis.Client to the readiness interface.
type redisAdapter struct{ rdb *redis.Client }

func (a redisAdapter) Ping(ctx context.Context) app.RedisPingResult { return a.rdb.Ping(ctx) }
