package scheduler

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/heatmapapp/heatmap/internal/domain"
	"github.com/heatmapapp/heatmap/internal/modules/pricehistory"
	"github.com/heatmapapp/heatmap/internal/modules/stocks"
)

// DailyPriceUpdateJob records today's closing price for every catalog
// ticker. Tickers that already have a row for today are skipped, so the
// job is safe to re-run within the same day.
type DailyPriceUpdateJob struct {
	catalog  *stocks.Repository
	store    *pricehistory.Repository
	provider domain.QuoteProvider
	log      zerolog.Logger
}

// NewDailyPriceUpdateJob creates the daily price update job.
func NewDailyPriceUpdateJob(
	catalog *stocks.Repository,
	store *pricehistory.Repository,
	provider domain.QuoteProvider,
	log zerolog.Logger,
) *DailyPriceUpdateJob {
	return &DailyPriceUpdateJob{
		catalog:  catalog,
		store:    store,
		provider: provider,
		log:      log.With().Str("job", "daily_price_update").Logger(),
	}
}

// Name identifies the job in scheduler logs.
func (j *DailyPriceUpdateJob) Name() string { return "daily_price_update" }

// Run batch-quotes all catalog tickers missing today's row and inserts
// the results. Batch failures are logged and the remaining batches still
// run.
func (j *DailyPriceUpdateJob) Run() error {
	tickers, err := j.catalog.Tickers()
	if err != nil {
		return err
	}

	today := domain.Today()
	var pending []string
	for _, ticker := range tickers {
		exists, err := j.store.Exists(ticker, today)
		if err != nil {
			return err
		}
		if !exists {
			pending = append(pending, ticker)
		}
	}

	if len(pending) == 0 {
		j.log.Debug().Msg("All tickers already have today's price")
		return nil
	}

	j.log.Info().Int("tickers", len(pending)).Msg("Updating daily prices")

	max := j.provider.MaxBatchSize()
	inserted := 0
	for start := 0; start < len(pending); start += max {
		end := start + max
		if end > len(pending) {
			end = len(pending)
		}
		quotes, err := j.provider.BatchQuotes(pending[start:end])
		if err != nil {
			j.log.Warn().Err(err).Int("symbols", end-start).Msg("Batch quote fetch failed")
			continue
		}

		entries := make([]pricehistory.Entry, 0, len(quotes))
		for _, q := range quotes {
			entries = append(entries, pricehistory.Entry{
				Ticker:       strings.ToUpper(q.Symbol),
				Date:         today,
				ClosingPrice: q.Price,
				PERatio:      q.PERatio,
				MarketCap:    q.MarketCap,
			})
		}
		if err := j.store.BulkInsert(entries); err != nil {
			j.log.Error().Err(err).Msg("Failed to insert daily prices")
			continue
		}
		inserted += len(entries)
	}

	j.log.Info().Int("inserted", inserted).Msg("Daily price update finished")
	return nil
}
