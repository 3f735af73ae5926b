package populator

import (
	"context"
	"database/sql"
	"fmt"
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

const catalogSchema = `
CREATE TABLE stocks (
    ticker       TEXT PRIMARY KEY,
    company_name TEXT NOT NULL DEFAULT ''
);
`

// fakeProvider serves canned historical points and counts calls.
type fakeProvider struct {
	history     map[string][]domain.HistoricalPoint
	failTickers map[string]bool
	rangeCalls  int
	universe    []domain.InstrumentRef
	quotePrice  float64
	quoteErr    error
}

func (f *fakeProvider) Name() string      { return "fake" }
func (f *fakeProvider) MaxBatchSize() int { return 100 }

func (f *fakeProvider) CurrentQuote(symbol string) (*domain.Quote, error) {
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	price := f.quotePrice
	if price == 0 {
		price = 100
	}
	return &domain.Quote{Symbol: symbol, Price: price}, nil
}

func (f *fakeProvider) BatchQuotes(symbols []string) ([]domain.Quote, error) {
	quotes := make([]domain.Quote, 0, len(symbols))
	for _, s := range symbols {
		q, err := f.CurrentQuote(s)
		if err != nil {
			continue
		}
		quotes = append(quotes, *q)
	}
	return quotes, nil
}

func (f *fakeProvider) HistoricalRange(symbol string, from, to time.Time) ([]domain.HistoricalPoint, error) {
	f.rangeCalls++
	if f.failTickers[symbol] {
		return nil, fmt.Errorf("%w: simulated outage", domain.ErrProviderUnavailable)
	}
	var points []domain.HistoricalPoint
	for _, p := range f.history[symbol] {
		if !p.Date.Before(from) && !p.Date.After(to) {
			points = append(points, p)
		}
	}
	return points, nil
}

func (f *fakeProvider) InstrumentUniverse() ([]domain.InstrumentRef, error) {
	return f.universe, nil
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

func date(s string) time.Time {
	d, err := domain.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func setupService(t *testing.T, provider *fakeProvider) (*Service, *pricehistory.Repository, *stocks.Repository) {
	store := pricehistory.NewRepository(openDB(t, historySchema), zerolog.Nop())
	catalog := stocks.NewRepository(openDB(t, catalogSchema), zerolog.Nop())
	svc := NewService(store, catalog, provider, 2, time.Millisecond, 1, zerolog.Nop())
	// Pin the clock so the fixtures' 2024 dates stay inside the backfill
	// range no matter when the tests run.
	svc.now = func() time.Time { return date("2024-03-15") }
	return svc, store, catalog
}

func TestPopulateHistoryWritesAndDeduplicates(t *testing.T) {
	provider := &fakeProvider{
		history: map[string][]domain.HistoricalPoint{
			"AAPL": {
				{Date: date("2024-03-01"), Close: 180},
				{Date: date("2024-03-04"), Close: 181},
			},
		},
	}
	svc, store, _ := setupService(t, provider)

	count, err := svc.PopulateHistory("AAPL", date("2024-01-01"), date("2024-03-31"))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	entry, err := store.Get("AAPL", date("2024-03-04"))
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 181.0, entry.ClosingPrice)

	// Second run over the same range writes nothing.
	count, err = svc.PopulateHistory("AAPL", date("2024-01-01"), date("2024-03-31"))
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestPopulateHistoryEmptyRange(t *testing.T) {
	provider := &fakeProvider{}
	svc, _, _ := setupService(t, provider)

	count, err := svc.PopulateHistory("AAPL", date("2024-03-31"), date("2024-01-01"))
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, provider.rangeCalls)
}

func TestPopulateAllHistoryIdempotent(t *testing.T) {
	provider := &fakeProvider{
		history: map[string][]domain.HistoricalPoint{
			"AAPL": {{Date: date("2024-03-01"), Close: 180}},
			"MSFT": {{Date: date("2024-03-01"), Close: 410}},
		},
	}
	svc, _, catalog := setupService(t, provider)
	require.NoError(t, catalog.SaveAll([]stocks.Stock{
		{Ticker: "AAPL", CompanyName: "Apple Inc."},
		{Ticker: "MSFT", CompanyName: "Microsoft Corporation"},
	}))

	total, err := svc.PopulateAllHistory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	total, err = svc.PopulateAllHistory(context.Background())
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestPopulateAllHistorySkipsFailingTickers(t *testing.T) {
	provider := &fakeProvider{
		history: map[string][]domain.HistoricalPoint{
			"AAPL": {{Date: date("2024-03-01"), Close: 180}},
			"MSFT": {{Date: date("2024-03-01"), Close: 410}},
		},
		failTickers: map[string]bool{"AAPL": true},
	}
	svc, store, catalog := setupService(t, provider)
	require.NoError(t, catalog.SaveAll([]stocks.Stock{
		{Ticker: "AAPL"},
		{Ticker: "MSFT"},
	}))

	total, err := svc.PopulateAllHistory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	entry, err := store.Get("MSFT", date("2024-03-01"))
	require.NoError(t, err)
	assert.NotNil(t, entry)
}

func TestPopulateAllHistoryHonorsCancellation(t *testing.T) {
	provider := &fakeProvider{}
	svc, _, catalog := setupService(t, provider)
	require.NoError(t, catalog.SaveAll([]stocks.Stock{{Ticker: "AAPL"}}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.PopulateAllHistory(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRefreshLatestPrice(t *testing.T) {
	provider := &fakeProvider{quotePrice: 187.5}
	svc, store, _ := setupService(t, provider)

	entry, err := svc.RefreshLatestPrice("AAPL")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 187.5, entry.ClosingPrice)
	assert.Equal(t, "2024-03-15", domain.FormatDate(entry.Date))

	// Refreshing again the same day overwrites rather than duplicating.
	provider.quotePrice = 188
	entry, err = svc.RefreshLatestPrice("AAPL")
	require.NoError(t, err)
	assert.Equal(t, 188.0, entry.ClosingPrice)

	latest, err := store.History("AAPL", 0)
	require.NoError(t, err)
	assert.Len(t, latest, 1)
}

func TestPopulateInstruments(t *testing.T) {
	provider := &fakeProvider{
		universe: []domain.InstrumentRef{
			{Symbol: "AAPL", Name: "Apple Inc."},
			{Symbol: "MSFT", Name: "Microsoft Corporation"},
		},
	}
	svc, _, catalog := setupService(t, provider)

	count, err := svc.PopulateInstruments()
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	s, err := catalog.Get("AAPL")
	require.NoError(t, err)
	assert.Equal(t, "Apple Inc.", s.CompanyName)
}
