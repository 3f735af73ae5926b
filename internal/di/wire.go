// Package di provides dependency injection wiring and initialization.
package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/heatmapapp/heatmap/internal/clientdata"
	"github.com/heatmapapp/heatmap/internal/clients/alphavantage"
	"github.com/heatmapapp/heatmap/internal/clients/fmp"
	"github.com/heatmapapp/heatmap/internal/config"
	"github.com/heatmapapp/heatmap/internal/domain"
	"github.com/heatmapapp/heatmap/internal/modules/populator"
	"github.com/heatmapapp/heatmap/internal/modules/portfolio"
	"github.com/heatmapapp/heatmap/internal/modules/pricehistory"
	"github.com/heatmapapp/heatmap/internal/modules/stocks"
	"github.com/heatmapapp/heatmap/internal/modules/valuation"
)

// Wire initializes all dependencies and returns a fully configured
// container. Order of operations: databases, provider, repositories,
// services.
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container, err := InitializeDatabases(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize databases: %w", err)
	}

	provider, err := newProvider(cfg, log)
	if err != nil {
		container.Close()
		return nil, err
	}
	container.Provider = provider
	log.Info().Str("provider", provider.Name()).Msg("Quote provider selected")

	container.StockRepo = stocks.NewRepository(container.PortfolioDB.Conn(), log)
	container.PortfolioRepo = portfolio.NewRepository(container.PortfolioDB.Conn(), log)
	container.PriceHistory = pricehistory.NewRepository(container.HistoryDB.Conn(), log)
	container.ClientDataCache = clientdata.NewRepository(container.ClientDataDB.Conn())

	container.StockService = stocks.NewService(container.StockRepo, container.PriceHistory, log)
	container.PortfolioService = portfolio.NewService(container.PortfolioRepo, container.StockRepo, log)
	container.Resolver = pricehistory.NewResolver(container.PriceHistory, container.ClientDataCache, log)
	container.ValuationService = valuation.NewService(
		container.PortfolioService,
		provider,
		container.Resolver,
		container.ClientDataCache,
		log,
	)
	container.Populator = populator.NewService(
		container.PriceHistory,
		container.StockRepo,
		provider,
		cfg.PopulateBatchSize,
		cfg.PopulateBatchDelay,
		cfg.PopulateRangeYears,
		log,
	)

	return container, nil
}

// newProvider picks the quote provider once at startup. Callers never
// branch on the provider flag again.
func newProvider(cfg *config.Config, log zerolog.Logger) (domain.QuoteProvider, error) {
	switch cfg.StockDataProvider {
	case config.ProviderFMP:
		return fmp.NewClient(cfg.FMPAPIKey, log), nil
	case config.ProviderAlphaVantage:
		return alphavantage.NewClient(cfg.AlphaVantageAPIKey, log), nil
	default:
		return nil, fmt.Errorf("unknown stock data provider %q", cfg.StockDataProvider)
	}
}
