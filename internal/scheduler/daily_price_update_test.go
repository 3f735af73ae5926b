package scheduler

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heatmapapp/heatmap/internal/domain"
	"github.com/heatmapapp/heatmap/internal/modules/pricehistory"
	"github.com/heatmapapp/heatmap/internal/modules/stocks"
)

const catalogSchema = `
CREATE TABLE stocks (
    ticker       TEXT PRIMARY KEY,
    company_name TEXT NOT NULL DEFAULT ''
);
`

const historySchema = `
CREATE TABLE price_history (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    ticker        TEXT NOT NULL,
    date          TEXT NOT NULL,
    closing_price REAL NOT NULL,
    pe_ratio      REAL,
    market_cap    INTEGER,
    UNIQUE (ticker, date)
);
`

type fakeProvider struct {
	prices     map[string]float64
	batchSize  int
	batchCalls [][]string
	failFirst  bool
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) CurrentQuote(symbol string) (*domain.Quote, error) {
	price, ok := p.prices[symbol]
	if !ok {
		return nil, domain.ErrNoData
	}
	return &domain.Quote{Symbol: symbol, Price: price}, nil
}

func (p *fakeProvider) BatchQuotes(symbols []string) ([]domain.Quote, error) {
	p.batchCalls = append(p.batchCalls, symbols)
	if p.failFirst && len(p.batchCalls) == 1 {
		return nil, domain.ErrProviderUnavailable
	}
	var quotes []domain.Quote
	for _, s := range symbols {
		if price, ok := p.prices[s]; ok {
			quotes = append(quotes, domain.Quote{Symbol: s, Price: price})
		}
	}
	return quotes, nil
}

func (p *fakeProvider) HistoricalRange(string, time.Time, time.Time) ([]domain.HistoricalPoint, error) {
	return nil, domain.ErrNoData
}

func (p *fakeProvider) InstrumentUniverse() ([]domain.InstrumentRef, error) {
	return nil, domain.ErrNoData
}

func (p *fakeProvider) MaxBatchSize() int {
	if p.batchSize > 0 {
		return p.batchSize
	}
	return 100
}

func openDB(t *testing.T, schema string) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)
	_, err = db.Exec(schema)
	require.NoError(t, err)
	return db
}

func testJob(t *testing.T, provider *fakeProvider) (*DailyPriceUpdateJob, *stocks.Repository, *pricehistory.Repository) {
	catalog := stocks.NewRepository(openDB(t, catalogSchema), zerolog.Nop())
	store := pricehistory.NewRepository(openDB(t, historySchema), zerolog.Nop())
	return NewDailyPriceUpdateJob(catalog, store, provider, zerolog.Nop()), catalog, store
}

func TestDailyUpdateInsertsTodayPrices(t *testing.T) {
	provider := &fakeProvider{prices: map[string]float64{"AAPL": 180, "MSFT": 410}}
	job, catalog, store := testJob(t, provider)

	require.NoError(t, catalog.SaveAll([]stocks.Stock{{Ticker: "AAPL"}, {Ticker: "MSFT"}}))
	require.NoError(t, job.Run())

	today := domain.Today()
	entry, err := store.Get("AAPL", today)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 180.0, entry.ClosingPrice)

	entry, err = store.Get("MSFT", today)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 410.0, entry.ClosingPrice)
}

func TestDailyUpdateSkipsExistingRows(t *testing.T) {
	provider := &fakeProvider{prices: map[string]float64{"AAPL": 999, "MSFT": 410}}
	job, catalog, store := testJob(t, provider)

	require.NoError(t, catalog.SaveAll([]stocks.Stock{{Ticker: "AAPL"}, {Ticker: "MSFT"}}))
	_, err := store.Put(&pricehistory.Entry{Ticker: "AAPL", Date: domain.Today(), ClosingPrice: 180})
	require.NoError(t, err)

	require.NoError(t, job.Run())

	// The pre-existing row is untouched and AAPL was not re-quoted.
	entry, err := store.Get("AAPL", domain.Today())
	require.NoError(t, err)
	assert.Equal(t, 180.0, entry.ClosingPrice)
	require.Len(t, provider.batchCalls, 1)
	assert.Equal(t, []string{"MSFT"}, provider.batchCalls[0])
}

func TestDailyUpdateNoPendingTickers(t *testing.T) {
	provider := &fakeProvider{}
	job, catalog, store := testJob(t, provider)

	require.NoError(t, catalog.Save(&stocks.Stock{Ticker: "AAPL"}))
	_, err := store.Put(&pricehistory.Entry{Ticker: "AAPL", Date: domain.Today(), ClosingPrice: 180})
	require.NoError(t, err)

	require.NoError(t, job.Run())
	assert.Empty(t, provider.batchCalls)
}

func TestDailyUpdateContinuesPastBatchFailure(t *testing.T) {
	provider := &fakeProvider{
		prices:    map[string]float64{"AAPL": 180, "MSFT": 410},
		batchSize: 1,
		failFirst: true,
	}
	job, catalog, store := testJob(t, provider)

	require.NoError(t, catalog.SaveAll([]stocks.Stock{{Ticker: "AAPL"}, {Ticker: "MSFT"}}))
	require.NoError(t, job.Run())

	require.Len(t, provider.batchCalls, 2)

	// First batch failed, second batch still landed.
	entry, err := store.Get("AAPL", domain.Today())
	require.NoError(t, err)
	assert.Nil(t, entry)

	entry, err = store.Get("MSFT", domain.Today())
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 410.0, entry.ClosingPrice)
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	provider := &fakeProvider{}
	job, _, _ := testJob(t, provider)

	s := New(zerolog.Nop())
	assert.Error(t, s.AddJob("not a cron expression", job))
	assert.NoError(t, s.AddJob("0 17 * * *", job))
}

func TestSchedulerRunNow(t *testing.T) {
	provider := &fakeProvider{prices: map[string]float64{"AAPL": 180}}
	job, catalog, store := testJob(t, provider)

	require.NoError(t, catalog.Save(&stocks.Stock{Ticker: "AAPL"}))

	s := New(zerolog.Nop())
	require.NoError(t, s.AddJob("0 17 * * *", job))
	require.NoError(t, s.RunNow("daily_price_update"))

	entry, err := store.Get("AAPL", domain.Today())
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 180.0, entry.ClosingPrice)

	assert.Error(t, s.RunNow("missing"), "unregistered job name")
}
