package alphavantage

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heatmapapp/heatmap/internal/domain"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient("test-key", zerolog.Nop())
	c.baseURL = srv.URL
	return c
}

func mustDate(s string) time.Time {
	d, err := domain.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

const globalQuoteBody = `{
	"Global Quote": {
		"01. symbol": "AAPL",
		"02. open": "179.0000",
		"03. high": "181.5000",
		"04. low": "178.2000",
		"05. price": "180.2500",
		"08. previous close": "179.5000"
	}
}`

func TestCurrentQuoteParsesStringFields(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GLOBAL_QUOTE", r.URL.Query().Get("function"))
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
		assert.Equal(t, "test-key", r.URL.Query().Get("apikey"))
		w.Write([]byte(globalQuoteBody))
	})

	quote, err := c.CurrentQuote("AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", quote.Symbol)
	assert.Equal(t, 180.25, quote.Price)
	assert.Equal(t, 179.0, quote.Open)
	assert.Equal(t, 181.5, quote.High)
	assert.Equal(t, 178.2, quote.Low)
	assert.Equal(t, 179.5, quote.PreviousClose)
	assert.Nil(t, quote.PERatio, "quote endpoint carries no P/E")
	assert.Nil(t, quote.MarketCap)
}

func TestCurrentQuoteEmptyPayload(t *testing.T) {
	// Alpha Vantage answers unknown symbols with an empty Global Quote.
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Global Quote": {}}`))
	})

	_, err := c.CurrentQuote("NOPE")
	assert.ErrorIs(t, err, domain.ErrNoData)
}

func TestCurrentQuoteUnparsablePrice(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Global Quote": {"01. symbol": "AAPL", "05. price": "n/a"}}`))
	})

	_, err := c.CurrentQuote("AAPL")
	var derr *domain.DeserializationError
	assert.ErrorAs(t, err, &derr)
}

func TestBatchQuotesSkipsFailedSymbols(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") == "BAD" {
			w.Write([]byte(`{"Global Quote": {}}`))
			return
		}
		w.Write([]byte(globalQuoteBody))
	})

	quotes, err := c.BatchQuotes([]string{"AAPL", "BAD", "AAPL"})
	require.NoError(t, err)
	assert.Len(t, quotes, 2, "failed symbol skipped, not fatal")
}

func TestBatchQuotesTooLarge(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no network call expected")
	})

	symbols := make([]string, maxBatchSymbols+1)
	for i := range symbols {
		symbols[i] = "AAPL"
	}

	_, err := c.BatchQuotes(symbols)
	var berr *domain.BatchTooLargeError
	assert.ErrorAs(t, err, &berr)
}

func TestHistoricalRangeFiltersAndSorts(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "TIME_SERIES_DAILY", r.URL.Query().Get("function"))
		w.Write([]byte(`{
			"Time Series (Daily)": {
				"2024-03-01": {"4. close": "180.0"},
				"2024-03-05": {"4. close": "182.0"},
				"2024-03-04": {"4. close": "181.0"},
				"2024-02-20": {"4. close": "175.0"}
			}
		}`))
	})

	points, err := c.HistoricalRange("AAPL", mustDate("2024-03-01"), mustDate("2024-03-05"))
	require.NoError(t, err)

	require.Len(t, points, 3, "out-of-range dates filtered")
	assert.Equal(t, 182.0, points[0].Close)
	assert.Equal(t, 181.0, points[1].Close)
	assert.Equal(t, 180.0, points[2].Close)
}

func TestHistoricalRangeEmptySeries(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Time Series (Daily)": {}}`))
	})

	points, err := c.HistoricalRange("AAPL", mustDate("2024-03-01"), mustDate("2024-03-05"))
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestThrottleNoteIsAnOutageNotNoData(t *testing.T) {
	// Rate-limit replies arrive as HTTP 200 with a Note instead of data.
	// They must read as an outage so the backfill retries the symbol later.
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Note": "API call frequency is 5 calls per minute"}`))
	})

	_, err := c.HistoricalRange("AAPL", mustDate("2024-03-01"), mustDate("2024-03-05"))
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)

	_, err = c.CurrentQuote("AAPL")
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
}

func TestThrottleInformationIsAnOutage(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Information": "premium endpoint, please subscribe"}`))
	})

	_, err := c.HistoricalRange("AAPL", mustDate("2024-03-01"), mustDate("2024-03-05"))
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
}

func TestInstrumentUniverseUnsupported(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no network call expected")
	})

	_, err := c.InstrumentUniverse()
	assert.ErrorIs(t, err, domain.ErrNoData)
}

func TestServerErrorMapsToProviderUnavailable(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.CurrentQuote("AAPL")
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
}
