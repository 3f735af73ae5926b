// Package alphavantage provides the Alpha Vantage market-data client.
package alphavantage

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/heatmapapp/heatmap/internal/domain"
)

// maxBatchSymbols caps per-symbol batch loops; Alpha Vantage has no true
// batch endpoint, so the limit mirrors the FMP contract for a uniform caller.
const maxBatchSymbols = 100

// Client for alphavantage.co
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new Alpha Vantage client
func NewClient(apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: "https://www.alphavantage.co/query",
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
		log:     log.With().Str("client", "alphavantage").Logger(),
	}
}

// Name identifies the provider in logs.
func (c *Client) Name() string { return "alphavantage" }

// MaxBatchSize is the provider's batch-quote symbol limit.
func (c *Client) MaxBatchSize() int { return maxBatchSymbols }

// globalQuoteResponse mirrors the GLOBAL_QUOTE payload. All numeric fields
// arrive as strings.
type globalQuoteResponse struct {
	GlobalQuote struct {
		Symbol        string `json:"01. symbol"`
		Open          string `json:"02. open"`
		High          string `json:"03. high"`
		Low           string `json:"04. low"`
		Price         string `json:"05. price"`
		PreviousClose string `json:"08. previous close"`
	} `json:"Global Quote"`
}

// CurrentQuote fetches the live quote for one symbol. Alpha Vantage's quote
// endpoint carries no P/E or market cap, so those stay nil.
func (c *Client) CurrentQuote(symbol string) (*domain.Quote, error) {
	endpoint := fmt.Sprintf("%s?function=GLOBAL_QUOTE&symbol=%s&apikey=%s",
		c.baseURL, url.QueryEscape(symbol), c.apiKey)

	body, err := c.get(endpoint)
	if err != nil {
		return nil, err
	}

	var resp globalQuoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &domain.DeserializationError{Provider: c.Name(), Err: err}
	}

	q := resp.GlobalQuote
	if q.Symbol == "" {
		return nil, fmt.Errorf("%w: empty global quote for %s", domain.ErrNoData, symbol)
	}

	price, err := parseField(q.Price, "price")
	if err != nil {
		return nil, &domain.DeserializationError{Provider: c.Name(), Err: err}
	}
	open, err := parseField(q.Open, "open")
	if err != nil {
		return nil, &domain.DeserializationError{Provider: c.Name(), Err: err}
	}
	high, err := parseField(q.High, "high")
	if err != nil {
		return nil, &domain.DeserializationError{Provider: c.Name(), Err: err}
	}
	low, err := parseField(q.Low, "low")
	if err != nil {
		return nil, &domain.DeserializationError{Provider: c.Name(), Err: err}
	}
	previousClose, err := parseField(q.PreviousClose, "previous close")
	if err != nil {
		return nil, &domain.DeserializationError{Provider: c.Name(), Err: err}
	}

	c.log.Debug().Str("symbol", q.Symbol).Float64("price", price).Msg("Fetched quote")

	return &domain.Quote{
		Symbol:        q.Symbol,
		Price:         price,
		Open:          open,
		High:          high,
		Low:           low,
		PreviousClose: previousClose,
	}, nil
}

// BatchQuotes loops over symbols one request at a time. Best-effort: a
// failure for one symbol is logged and skipped, never aborting the rest.
func (c *Client) BatchQuotes(symbols []string) ([]domain.Quote, error) {
	if len(symbols) > maxBatchSymbols {
		return nil, &domain.BatchTooLargeError{Count: len(symbols), Max: maxBatchSymbols}
	}

	quotes := make([]domain.Quote, 0, len(symbols))
	for _, symbol := range symbols {
		quote, err := c.CurrentQuote(symbol)
		if err != nil {
			c.log.Warn().Err(err).Str("symbol", symbol).Msg("Skipping symbol in batch")
			continue
		}
		quotes = append(quotes, *quote)
	}

	if len(quotes) == 0 && len(symbols) > 0 {
		c.log.Warn().Int("requested", len(symbols)).Msg("No quotes resolved for batch")
	}

	return quotes, nil
}

// dailySeriesResponse mirrors the TIME_SERIES_DAILY payload.
type dailySeriesResponse struct {
	TimeSeries map[string]struct {
		Close string `json:"4. close"`
	} `json:"Time Series (Daily)"`
}

// HistoricalRange fetches daily closes in [from, to]. The provider returns
// its full series; out-of-range dates are filtered here.
func (c *Client) HistoricalRange(symbol string, from, to time.Time) ([]domain.HistoricalPoint, error) {
	endpoint := fmt.Sprintf("%s?function=TIME_SERIES_DAILY&symbol=%s&outputsize=full&apikey=%s",
		c.baseURL, url.QueryEscape(symbol), c.apiKey)

	body, err := c.get(endpoint)
	if err != nil {
		return nil, err
	}

	var resp dailySeriesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &domain.DeserializationError{Provider: c.Name(), Err: err}
	}

	if len(resp.TimeSeries) == 0 {
		c.log.Warn().Str("symbol", symbol).Msg("No daily series data")
		return []domain.HistoricalPoint{}, nil
	}

	points := make([]domain.HistoricalPoint, 0, len(resp.TimeSeries))
	for dateStr, day := range resp.TimeSeries {
		date, err := domain.ParseDate(dateStr)
		if err != nil {
			continue
		}
		if date.Before(from) || date.After(to) {
			continue
		}
		closePrice, err := strconv.ParseFloat(day.Close, 64)
		if err != nil || closePrice == 0 {
			continue
		}
		points = append(points, domain.HistoricalPoint{Date: date, Close: closePrice})
	}

	// Map iteration order is random; callers expect newest first.
	sort.Slice(points, func(i, j int) bool { return points[i].Date.After(points[j].Date) })

	return points, nil
}

// InstrumentUniverse is not available from Alpha Vantage.
func (c *Client) InstrumentUniverse() ([]domain.InstrumentRef, error) {
	return nil, fmt.Errorf("%w: alphavantage has no instrument universe endpoint", domain.ErrNoData)
}

func parseField(value, name string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	return f, nil
}

func (c *Client) get(endpoint string) ([]byte, error) {
	resp, err := c.client.Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", domain.ErrProviderUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}

	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, fmt.Errorf("%w: empty response body", domain.ErrNoData)
	}

	// Rate-limit replies come back as HTTP 200 with a Note or Information
	// field instead of data. Surface them as an outage so callers retry
	// later instead of recording the symbol as having no data.
	var throttle struct {
		Note        string `json:"Note"`
		Information string `json:"Information"`
	}
	if err := json.Unmarshal(body, &throttle); err == nil {
		if msg := throttle.Note; msg != "" {
			return nil, fmt.Errorf("%w: %s", domain.ErrProviderUnavailable, msg)
		} else if throttle.Information != "" {
			return nil, fmt.Errorf("%w: %s", domain.ErrProviderUnavailable, throttle.Information)
		}
	}

	return body, nil
}
