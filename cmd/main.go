package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/okian/spiritrace/internal/adapters/http/api"
	recordsqlite "github.com/okian/spiritrace/internal/adapters/records/sqlite"
	repository "github.com/okian/spiritrace/internal/adapters/repository"
	app "github.com/okian/spiritrace/internal/app"
	"github.com/okian/spiritrace/internal/config"
	"github.com/okian/spiritrace/pkg/logger"
	"github.com/okian/spiritrace/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	redisConnectTimeout       = 15 * time.Second
	systemMetricsInterval     = 10 * time.Second
	serviceMetricsInterval    = 5 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// The custom registry carries its own system gauges.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		_, _ = os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Error(ctx, "exiting", logger.Error(err))
		stop()
		os.Exit(1) //nolint:gocritic // deferred sync is best effort
	}
}

// run serves the API until ctx ends or the server fails.
func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	svc, err := buildService(ctx, cfg, log)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		svc.Stop()
		return fmt.Errorf("start service: %w", err)
	}
	defer svc.Stop()

	mux := http.NewServeMux()
	api.NewServer(svc,
		api.WithMaxLimit(cfg.MaxLeaderboardLimit),
		api.WithLogger(log.Named("api")),
	).Register(ctx, mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		startSystemMetricsUpdater(gctx)
		return nil
	})
	g.Go(func() error {
		startServiceMetricsUpdater(gctx, svc)
		return nil
	})
	g.Go(func() error {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(ctx, "shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error(ctx, "server shutdown failed", logger.Error(err))
		}
		return nil
	})

	err = g.Wait()
	log.Info(ctx, "server stopped")
	return err
}

// buildService wires the configured backends into the game service.
func buildService(ctx context.Context, cfg *config.Config, log logger.Logger) (*app.Service, error) {
	modes, err := cfg.GameModes()
	if err != nil {
		return nil, err
	}
	opts := []app.Option{
		app.WithLogger(log.Named("service")),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithGroupQueueSize(cfg.GroupQueueSize),
		app.WithSettlementCacheSize(cfg.SettlementCacheSize),
		app.WithMatchInterval(cfg.MatchInterval()),
		app.WithEntryCost(cfg.EntryEnergyCost),
		app.WithTolerance(cfg.ToleranceRatio, cfg.ToleranceGrowth),
		app.WithConflictRetries(cfg.ConflictRetries),
		app.WithWeeklyTTL(cfg.WeeklyTTL()),
		app.WithModes(modes...),
	}

	var store *recordsqlite.Store
	if cfg.RecordsBackend == config.BackendSQLite {
		store, err = recordsqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open records: %w", err)
		}
		opts = append(opts, app.WithRecordStore(store))
		log.Info(ctx, "using sqlite records", logger.String("path", cfg.SQLitePath))
	}

	if cfg.LeaderboardBackend == config.BackendRedis {
		client, err := connectRedis(ctx, cfg)
		if err != nil {
			if store != nil {
				_ = store.Close()
			}
			return nil, err
		}
		opts = append(opts, app.WithLeaderboard(repository.NewRedisStore(client,
			repository.WithRedisWeeklyTTL(cfg.WeeklyTTL()),
		)))
		log.Info(ctx, "using redis leaderboard", logger.String("addr", cfg.RedisAddr))
	}

	return app.New(opts...), nil
}

// connectRedis pings Redis with exponential backoff until it answers.
func connectRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})

	eb := backoff.NewExponentialBackOff()
	eb.MaxElapsedTime = redisConnectTimeout
	err := backoff.Retry(func() error {
		return client.Ping(ctx).Err()
	}, backoff.WithContext(eb, ctx))
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
	}
	return client, nil
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater refreshes queue and leaderboard gauges.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

// updateServiceMetrics pushes the group queue gauges; GetStats refreshes the rest.
func updateServiceMetrics(svc *app.Service) {
	stats := svc.GetStats()

	if pending, ok := stats["pendingGroups"].(int); ok {
		metrics.UpdateQueueSize(pending)
	}
	if capacity, ok := stats["groupQueueSize"].(int); ok {
		metrics.UpdateQueueCapacity(capacity)
		if capacity > 0 {
			if pending, ok := stats["pendingGroups"].(int); ok {
				metrics.UpdateQueueUtilization(float64(pending) / float64(capacity))
			}
		}
	}
}
