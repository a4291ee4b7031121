// Package main is the entry point for the Hindsight backtest engine. It runs
// as an HTTP service by default; the -oneshot flag instead executes a single
// backtest request from a JSON file and prints the result to stdout, which is
// what the CLI wrapper and CI regression runs use.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/hindsight/internal/cache"
	"github.com/aristath/hindsight/internal/clients/alpaca"
	"github.com/aristath/hindsight/internal/clients/mathsvc"
	"github.com/aristath/hindsight/internal/config"
	"github.com/aristath/hindsight/internal/database"
	"github.com/aristath/hindsight/internal/domain"
	"github.com/aristath/hindsight/internal/modules/backtest"
	"github.com/aristath/hindsight/internal/modules/indicators"
	"github.com/aristath/hindsight/internal/modules/marketdata"
	"github.com/aristath/hindsight/internal/scheduler"
	"github.com/aristath/hindsight/internal/server"
	"github.com/aristath/hindsight/pkg/logger"
)

// Oneshot exit codes, stable for scripting.
const (
	exitOK              = 0
	exitInvalidStrategy = 2
	exitUpstreamFailed  = 3
	exitInternal        = 4
)

func main() {
	oneshotPath := flag.String("oneshot", "", "run a single backtest from a JSON request file and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode || *oneshotPath != "",
	})

	store := openStore(cfg, log)

	var engine indicators.Engine
	if cfg.MathServiceURL != "" {
		engine = indicators.NewRemoteEngine(mathsvc.NewClient(cfg.MathServiceURL, log))
		log.Info().Str("url", cfg.MathServiceURL).Msg("Using remote indicator engine")
	} else {
		engine = indicators.NewLocalEngine()
		log.Info().Msg("Using local indicator engine")
	}

	barSource := alpaca.NewClient(cfg.MarketDataURL, cfg.MarketDataKey, cfg.MarketDataSecret, log)
	fetcher := marketdata.NewFetcher(store, barSource, log)
	computer := indicators.NewComputer(store, engine, log)
	sorts := backtest.NewSortRuntime(computer, log)
	driver := backtest.NewDriver(fetcher, computer, sorts, log)

	if *oneshotPath != "" {
		os.Exit(runOneshot(driver, *oneshotPath, log))
	}

	loc, err := time.LoadLocation(cfg.ExchangeTimezone)
	if err != nil {
		log.Warn().Err(err).Str("tz", cfg.ExchangeTimezone).Msg("Invalid exchange timezone, falling back to UTC")
		loc = time.UTC
	}

	sched := scheduler.New(loc, log)
	purgeJob := cache.NewPurgeJob(store, log)
	if cfg.PurgeEnabled {
		for _, schedule := range []string{cache.PurgeScheduleAfternoon, cache.PurgeScheduleEvening} {
			if err := sched.AddJob(schedule, purgeJob); err != nil {
				log.Error().Err(err).Str("schedule", schedule).Msg("Failed to register purge job")
			}
		}
	}
	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Log:      log,
		Port:     cfg.Port,
		DevMode:  cfg.DevMode,
		Driver:   driver,
		Store:    store,
		Sched:    sched,
		PurgeJob: purgeJob,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatal().Err(err).Msg("HTTP server failed")
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
}

// openStore opens the SQLite cache, falling back to an in-memory store so a
// broken cache file never prevents startup.
func openStore(cfg *config.Config, log zerolog.Logger) cache.Store {
	db, err := database.New(database.Config{Path: cfg.CacheDBPath(), Name: "cache"})
	if err != nil {
		log.Warn().Err(err).Msg("Cache database unavailable, using in-memory store")
		return cache.NewMemoryStore()
	}

	store, err := cache.NewSQLiteStore(db, log)
	if err != nil {
		log.Warn().Err(err).Msg("Cache schema init failed, using in-memory store")
		return cache.NewMemoryStore()
	}
	return store
}

// runOneshot executes one backtest from a request file and prints the JSON
// result to stdout.
func runOneshot(driver *backtest.Driver, path string, log zerolog.Logger) int {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to read request file")
		return exitInternal
	}

	var req backtest.Request
	if err := json.Unmarshal(data, &req); err != nil {
		log.Error().Err(err).Msg("Invalid request JSON")
		return exitInvalidStrategy
	}

	result, err := driver.Run(context.Background(), req)
	if err != nil {
		log.Error().Err(err).Msg("Backtest failed")
		switch domain.KindOf(err) {
		case domain.KindInvalidStrategy, domain.KindInsufficientWarmup:
			return exitInvalidStrategy
		case domain.KindUpstreamFetchFailed, domain.KindIndicatorComputeFailed:
			return exitUpstreamFailed
		default:
			return exitInternal
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		fmt.Fprintln(os.Stderr, "failed to encode result:", err)
		return exitInternal
	}
	return exitOK
}
