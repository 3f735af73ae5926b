// Package populator backfills historical prices from the quote provider
// into the price-history store.
package populator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/heatmapapp/heatmap/internal/domain"
	"github.com/heatmapapp/heatmap/internal/modules/pricehistory"
	"github.com/heatmapapp/heatmap/internal/modules/stocks"
)

// ErrRunInProgress is returned when a full backfill is requested while a
// previous run is still going.
var ErrRunInProgress = errors.New("populate run already in progress")

// Service orchestrates bulk historical-price ingestion. Requests to the
// provider are paced so a full-universe backfill stays under its rate
// limits.
type Service struct {
	store    *pricehistory.Repository
	catalog  *stocks.Repository
	provider domain.QuoteProvider

	batchSize  int
	rangeYears int
	limiter    *rate.Limiter
	running    sync.Mutex
	now        func() time.Time
	log        zerolog.Logger
}

// NewService creates a populator. batchDelay is the minimum spacing
// between instrument batches.
func NewService(
	store *pricehistory.Repository,
	catalog *stocks.Repository,
	provider domain.QuoteProvider,
	batchSize int,
	batchDelay time.Duration,
	rangeYears int,
	log zerolog.Logger,
) *Service {
	if batchSize <= 0 {
		batchSize = 10
	}
	if batchDelay <= 0 {
		batchDelay = time.Second
	}
	if rangeYears <= 0 {
		rangeYears = 1
	}
	return &Service{
		store:      store,
		catalog:    catalog,
		provider:   provider,
		batchSize:  batchSize,
		rangeYears: rangeYears,
		limiter:    rate.NewLimiter(rate.Every(batchDelay), 1),
		now:        domain.Today,
		log:        log.With().Str("service", "populator").Logger(),
	}
}

// PopulateHistory backfills one ticker for the [from, to] date range and
// returns the number of rows written. Dates already in the store are
// skipped, so repeated runs over the same range write nothing new.
func (s *Service) PopulateHistory(ticker string, from, to time.Time) (int, error) {
	if to.Before(from) {
		return 0, nil
	}

	points, err := s.provider.HistoricalRange(ticker, from, to)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch history for %s: %w", ticker, err)
	}
	if len(points) == 0 {
		s.log.Debug().Str("ticker", ticker).Msg("No historical data in range")
		return 0, nil
	}

	// One quote per run supplies the P/E and market-cap snapshot attached
	// to the new rows. Best-effort: rows without it are still useful.
	var peRatio *float64
	var marketCap *int64
	if quote, err := s.provider.CurrentQuote(ticker); err != nil {
		s.log.Debug().Err(err).Str("ticker", ticker).Msg("No quote snapshot for backfill")
	} else {
		peRatio = quote.PERatio
		marketCap = quote.MarketCap
	}

	entries := make([]pricehistory.Entry, 0, len(points))
	for _, p := range points {
		exists, err := s.store.Exists(ticker, p.Date)
		if err != nil {
			return 0, err
		}
		if exists {
			continue
		}
		entries = append(entries, pricehistory.Entry{
			Ticker:       ticker,
			Date:         p.Date,
			ClosingPrice: p.Close,
			PERatio:      peRatio,
			MarketCap:    marketCap,
		})
	}

	if len(entries) == 0 {
		return 0, nil
	}
	if err := s.store.BulkInsert(entries); err != nil {
		return 0, fmt.Errorf("failed to insert history for %s: %w", ticker, err)
	}

	s.log.Info().Str("ticker", ticker).Int("rows", len(entries)).Msg("Backfilled price history")
	return len(entries), nil
}

// PopulateAllHistory backfills every catalog ticker in rate-limited
// batches and returns the total rows written. Only one run may be active
// at a time. Per-ticker failures are logged and skipped; cancellation is
// honored between batches.
func (s *Service) PopulateAllHistory(ctx context.Context) (int, error) {
	if !s.running.TryLock() {
		return 0, ErrRunInProgress
	}
	defer s.running.Unlock()

	runID := uuid.New().String()
	log := s.log.With().Str("run_id", runID).Logger()

	tickers, err := s.catalog.Tickers()
	if err != nil {
		return 0, err
	}
	if len(tickers) == 0 {
		log.Warn().Msg("Stock catalog is empty, nothing to populate")
		return 0, nil
	}

	to := s.now()
	from := to.AddDate(-s.rangeYears, 0, 0)

	log.Info().
		Int("tickers", len(tickers)).
		Int("batch_size", s.batchSize).
		Str("from", domain.FormatDate(from)).
		Str("to", domain.FormatDate(to)).
		Msg("Starting full backfill")

	total := 0
	failed := 0
	for start := 0; start < len(tickers); start += s.batchSize {
		if err := s.limiter.Wait(ctx); err != nil {
			log.Warn().Int("written", total).Msg("Backfill cancelled")
			return total, err
		}

		end := start + s.batchSize
		if end > len(tickers) {
			end = len(tickers)
		}
		for _, ticker := range tickers[start:end] {
			count, err := s.PopulateHistory(ticker, from, to)
			if err != nil {
				failed++
				log.Warn().Err(err).Str("ticker", ticker).Msg("Skipping ticker in backfill")
				continue
			}
			total += count
		}
	}

	log.Info().Int("rows", total).Int("failed", failed).Msg("Full backfill finished")
	return total, nil
}

// RefreshLatestPrice fetches a live quote and upserts it as today's entry
// for the ticker.
func (s *Service) RefreshLatestPrice(ticker string) (*pricehistory.Entry, error) {
	quote, err := s.provider.CurrentQuote(ticker)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch quote for %s: %w", ticker, err)
	}

	entry, err := s.store.Put(&pricehistory.Entry{
		Ticker:       ticker,
		Date:         s.now(),
		ClosingPrice: quote.Price,
		PERatio:      quote.PERatio,
		MarketCap:    quote.MarketCap,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("ticker", ticker).Float64("price", quote.Price).Msg("Refreshed latest price")
	return entry, nil
}

// PopulateInstruments seeds the stock catalog from the provider's
// instrument universe and returns the number of instruments saved.
func (s *Service) PopulateInstruments() (int, error) {
	universe, err := s.provider.InstrumentUniverse()
	if err != nil {
		return 0, fmt.Errorf("failed to fetch instrument universe: %w", err)
	}
	if len(universe) == 0 {
		return 0, nil
	}

	entries := make([]stocks.Stock, 0, len(universe))
	for _, ref := range universe {
		entries = append(entries, stocks.Stock{Ticker: ref.Symbol, CompanyName: ref.Name})
	}
	if err := s.catalog.SaveAll(entries); err != nil {
		return 0, err
	}

	s.log.Info().Int("count", len(entries)).Msg("Seeded instrument catalog")
	return len(entries), nil
}
