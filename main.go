package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/notblessy/cryptodash/cache"
	"github.com/notblessy/cryptodash/config"
	"github.com/notblessy/cryptodash/db"
	"github.com/notblessy/cryptodash/handlers"
	"github.com/notblessy/cryptodash/logger"
	"github.com/notblessy/cryptodash/metrics"
	"github.com/notblessy/cryptodash/models"
	"github.com/notblessy/cryptodash/services"
	"github.com/notblessy/cryptodash/store"
	"github.com/notblessy/cryptodash/workers"
)

// stores bundles the price and reference stores with their backend name.
type stores struct {
	prices  store.PriceStore
	refs    store.ReferenceStore
	health  handlers.StatsReader
	backend string
	close   func()
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run wires and starts the service and returns the process exit code.
// Deferred closes run on every path.
func run(args []string) int {
	fs := flag.NewFlagSet("cryptodash", flag.ContinueOnError)
	configPath := fs.String("config", "cryptodash.toml", "Path to TOML config file (optional)")
	fetchOnce := fs.Bool("fetch-once", false, "Run one ingestion and exit")
	clean := fs.Bool("clean", false, "With --fetch-once, delete all price data before fetching")
	useMemory := fs.Bool("memory", false, "Use in-memory storage instead of Postgres")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log := logger.New(cfg.LogLevel)

	if err := cfg.Validate(!*useMemory); err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return 1
	}
	mode, _ := models.ParseWriteMode(cfg.Ingestion.WriteMode)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStores(ctx, cfg, *useMemory, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize storage")
		return 1
	}
	defer st.close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	client := services.NewCoinGeckoClient(
		services.WithBaseURL(cfg.CoinGecko.BaseURL),
		services.WithAPIKey(cfg.CoinGecko.APIKey),
		services.WithTimeout(cfg.CoinGecko.GetTimeout()),
		services.WithRequestDelay(cfg.CoinGecko.GetRequestDelay()),
		services.WithLogger(log.Component("coingecko")),
		services.WithMetrics(m),
	)

	pipeline := services.NewIngestionPipeline(client, st.prices, st.refs, services.IngestionOptions{
		Coins:      cfg.Coins(),
		Currencies: cfg.Currencies(),
		FineDays:   cfg.Ingestion.FineDays,
		CoarseDays: cfg.Ingestion.CoarseDays,
	}, log.Component("ingestion"))
	pipeline.SetMetrics(m)

	queryCache := openCache(ctx, cfg, log)
	defer queryCache.Close()

	runner := workers.NewIngestionRunner(ctx, pipeline, queryCache, mode, log.Component("runner"))

	if *fetchOnce {
		report, err := runner.RunNow(ctx, *clean)
		if err != nil {
			log.Error().Err(err).Msg("Data fetch failed")
			return 1
		}
		log.Info().
			Int("pairs_fetched", report.PairsFetched).
			Int("pairs_failed", len(report.FailedPairs)).
			Int64("hourly_written", report.HourlyWritten).
			Int64("daily_written", report.DailyWritten).
			Msg("Data fetch completed")
		return 0
	}

	retention := workers.NewRetentionWorker(st.prices, cfg.Ingestion.FineDays, cfg.Ingestion.CoarseDays, log.Component("retention"), m)

	// WaitGroup to wait for all workers to finish
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		retention.Start(ctx, cfg.Retention.GetInterval())
	}()

	if interval := cfg.Ingestion.GetInterval(); interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runner.Start(ctx, interval)
		}()
		log.Info().Dur("interval", interval).Msg("Ingestion scheduled in-process")
	}

	health := handlers.NewHealthHandler(st.health, st.backend, log.Component("health"))
	health.SetCache(queryCache)

	e := handlers.NewRouter(handlers.RouterConfig{
		Log:     log.Component("http"),
		Prices:  handlers.NewPriceHandler(services.NewPriceService(st.prices, queryCache, cfg.Cache.GetTTL(), log.Component("prices"), m), log.Component("prices")),
		Coins:   handlers.NewCoinHandler(services.NewCoinService(st.refs, client, log.Component("coins")), log.Component("coins")),
		Cron:    handlers.NewCronHandler(cfg.CronSecret, runner, log.Component("cron")),
		Health:  health,
		Metrics: m.Handler(),
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", cfg.Port).Str("storage", st.backend).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutdown signal received, initiating graceful shutdown...")

	// Cancel context to signal workers and in-flight runs to stop
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		log.Info().Msg("HTTP server stopped successfully")
	}

	// Wait for workers to finish with timeout
	done := make(chan struct{})
	go func() {
		wg.Wait()
		runner.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("All workers stopped successfully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("Timeout waiting for workers to stop, forcing shutdown")
	}

	log.Info().Msg("Application shutdown complete")
	return 0
}

func openStores(ctx context.Context, cfg *config.Config, useMemory bool, log *logger.Logger) (*stores, error) {
	if useMemory {
		s := store.NewMemoryStore(cfg.Ingestion.BatchSize)
		log.Warn().Msg("Using in-memory storage, data is lost on exit")
		return &stores{prices: s, refs: s, health: s, backend: "memory", close: func() {}}, nil
	}

	database, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(database); err != nil {
		_ = db.Close(database)
		return nil, err
	}
	log.Info().Msg("Database initialized and migrated successfully")

	s := store.NewGormStore(database, cfg.Ingestion.BatchSize)
	return &stores{
		prices:  s,
		refs:    s,
		health:  s,
		backend: "PostgreSQL",
		close: func() {
			if err := db.Close(database); err != nil {
				log.Error().Err(err).Msg("Failed to close database")
			}
		},
	}, nil
}

// openCache connects to Redis when configured and falls back to a
// process-local cache otherwise.
func openCache(ctx context.Context, cfg *config.Config, log *logger.Logger) cache.Cache {
	if cfg.Cache.RedisAddr == "" {
		return cache.NewMemoryCache(0)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	rc, err := cache.NewRedisCache(pingCtx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
	if err != nil {
		log.Warn().Err(err).Str("addr", cfg.Cache.RedisAddr).Msg("Redis unavailable, using memory cache")
		return cache.NewMemoryCache(0)
	}
	log.Info().Str("addr", cfg.Cache.RedisAddr).Msg("Connected to Redis")
	return rc
}
