// Command ftauctiond runs the flow-trading batch auction engine as a
// daemon: it clears a market-wide batch on an aligned schedule, persists
// outcomes to Postgres, publishes lifecycle events to Kafka, and exposes a
// minimal HTTP surface for health checks and on-demand solves.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/flowtrade/engine/internal/api"
	"github.com/flowtrade/engine/internal/auction"
	"github.com/flowtrade/engine/internal/cache"
	"github.com/flowtrade/engine/internal/config"
	"github.com/flowtrade/engine/internal/events"
	"github.com/flowtrade/engine/internal/qp/interior"
	"github.com/flowtrade/engine/internal/repository"
	"github.com/flowtrade/engine/internal/scheduler"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("FTAUCTION_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Logging)

	db, err := repository.NewWithPools(cfg.Database.ReadURL, cfg.Database.WriteURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.RunMigrations(cfg.Database.MigrationsPath); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	producer := events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer producer.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	warmCache := cache.NewWarmStart(redisClient, cfg.Redis.TTL)

	solver := interior.New(interior.DefaultSettings())
	pool := scheduler.NewSolverPool()

	r := &runner{
		db:     db,
		solver: solver,
		pool:   pool,
		events: producer,
		warm:   warmCache,
		log:    log,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var from auction.DateTime
	if !cfg.Scheduler.From.IsZero() {
		from = auction.NewDateTime(cfg.Scheduler.From)
	}
	sched := &scheduler.Scheduler{From: from, Every: cfg.Scheduler.Every, Log: log.With().Str("component", "scheduler").Logger()}

	schedErrCh := make(chan error, 1)
	go func() {
		schedErrCh <- sched.Run(ctx, scheduler.BatchFunc(r.run))
	}()

	handler := api.NewHandler(log.With().Str("component", "api").Logger(), r.run)
	router := api.SetupRoutes(handler)
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{Addr: addr, Handler: router}

	go func() {
		log.Info().Str("addr", addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-schedErrCh:
		if err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("scheduler stopped unexpectedly")
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to shut down http server cleanly")
	}
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var w = os.Stdout
	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}
	return zerolog.New(w).With().Timestamp().Logger()
}
