// Package main is the entry point for the portfolio heatmap service.
// The application tracks investment portfolios, backfills historical
// closing prices from a market-data provider, and values holdings over
// configurable timeframes.
//
// The application follows clean architecture principles:
// - Domain layer is pure (no infrastructure dependencies)
// - Dependency injection via DI container
// - Repository pattern for data access
// - Service layer for business logic
// - HTTP handlers for API endpoints
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/heatmapapp/heatmap/internal/config"
	"github.com/heatmapapp/heatmap/internal/di"
	"github.com/heatmapapp/heatmap/internal/scheduler"
	"github.com/heatmapapp/heatmap/internal/server"
	"github.com/heatmapapp/heatmap/pkg/logger"
)

func main() {
	// Load configuration first to get the log level. Configuration comes
	// from environment variables (.env file supported in development).
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting heatmap service")

	// Wire all dependencies: databases, the quote provider, repositories
	// and services.
	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	srv := server.New(server.Config{
		Port:      cfg.Port,
		Log:       log,
		Config:    cfg,
		DevMode:   cfg.DevMode,
		Container: container,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Daily price update job records today's close for every catalog
	// ticker after markets close.
	sched := scheduler.New(log)
	dailyUpdate := scheduler.NewDailyPriceUpdateJob(
		container.StockRepo,
		container.PriceHistory,
		container.Provider,
		log,
	)
	if err := sched.AddJob(cfg.DailyUpdateCron, dailyUpdate); err != nil {
		log.Fatal().Err(err).Msg("Failed to register daily price update job")
	}
	sched.Start()
	defer sched.Stop()

	// Wait for shutdown signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	log.Info().Msg("Shutdown complete")
}
