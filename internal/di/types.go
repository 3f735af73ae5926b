// Package di provides dependency injection type definitions.
//
// The Container is the single source of truth for all service instances.
// It is created by Wire() and handed to the server and scheduler.
package di

import (
	"github.com/heatmapapp/heatmap/internal/clientdata"
	"github.com/heatmapapp/heatmap/internal/database"
	"github.com/heatmapapp/heatmap/internal/domain"
	"github.com/heatmapapp/heatmap/internal/modules/populator"
	"github.com/heatmapapp/heatmap/internal/modules/portfolio"
	"github.com/heatmapapp/heatmap/internal/modules/pricehistory"
	"github.com/heatmapapp/heatmap/internal/modules/stocks"
	"github.com/heatmapapp/heatmap/internal/modules/valuation"
)

// Container holds all application dependencies.
type Container struct {
	// Databases. Each is SQLite with WAL mode and profile-specific PRAGMAs.
	PortfolioDB  *database.DB // Portfolios, holdings and the stock catalog
	HistoryDB    *database.DB // Historical closing prices
	ClientDataDB *database.DB // TTL cache for quotes and resolved changes

	// Quote provider, selected once at startup from configuration.
	Provider domain.QuoteProvider

	// Repositories.
	StockRepo       *stocks.Repository
	PortfolioRepo   *portfolio.Repository
	PriceHistory    *pricehistory.Repository
	ClientDataCache *clientdata.Repository

	// Services.
	StockService     *stocks.Service
	PortfolioService *portfolio.Service
	Resolver         *pricehistory.Resolver
	ValuationService *valuation.Service
	Populator        *populator.Service
}

// Close releases all database connections.
func (c *Container) Close() {
	if c.PortfolioDB != nil {
		c.PortfolioDB.Close()
	}
	if c.HistoryDB != nil {
		c.HistoryDB.Close()
	}
	if c.ClientDataDB != nil {
		c.ClientDataDB.Close()
	}
}
