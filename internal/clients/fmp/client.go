// Package fmp provides the Financial Modeling Prep market-data client.
package fmp

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/heatmapapp/heatmap/internal/domain"
)

// maxBatchSymbols is FMP's quote endpoint limit per request.
const maxBatchSymbols = 100

// Client for financialmodelingprep.com
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new FMP client
func NewClient(apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: "https://financialmodelingprep.com/api/v3",
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
		log:     log.With().Str("client", "fmp").Logger(),
	}
}

// Name identifies the provider in logs.
func (c *Client) Name() string { return "fmp" }

// MaxBatchSize is the provider's batch-quote symbol limit.
func (c *Client) MaxBatchSize() int { return maxBatchSymbols }

// quoteResponse mirrors one element of FMP's /quote payload.
type quoteResponse struct {
	Symbol        string   `json:"symbol"`
	Price         float64  `json:"price"`
	Open          float64  `json:"open"`
	DayHigh       float64  `json:"dayHigh"`
	DayLow        float64  `json:"dayLow"`
	PreviousClose float64  `json:"previousClose"`
	PE            *float64 `json:"pe"`
	MarketCap     *int64   `json:"marketCap"`
}

func (q quoteResponse) toQuote() domain.Quote {
	return domain.Quote{
		Symbol:        q.Symbol,
		Price:         q.Price,
		Open:          q.Open,
		High:          q.DayHigh,
		Low:           q.DayLow,
		PreviousClose: q.PreviousClose,
		PERatio:       q.PE,
		MarketCap:     q.MarketCap,
	}
}

// CurrentQuote fetches the live quote for one symbol.
func (c *Client) CurrentQuote(symbol string) (*domain.Quote, error) {
	quotes, err := c.fetchQuotes(symbol)
	if err != nil {
		return nil, err
	}
	if len(quotes) == 0 {
		return nil, fmt.Errorf("%w: empty quote response for %s", domain.ErrNoData, symbol)
	}

	quote := quotes[0].toQuote()
	c.log.Debug().
		Str("symbol", quote.Symbol).
		Float64("price", quote.Price).
		Msg("Fetched quote")

	return &quote, nil
}

// BatchQuotes fetches quotes for up to 100 symbols with a single request.
// Symbols the upstream cannot resolve are simply absent from the result.
func (c *Client) BatchQuotes(symbols []string) ([]domain.Quote, error) {
	if len(symbols) == 0 {
		return []domain.Quote{}, nil
	}
	if len(symbols) > maxBatchSymbols {
		return nil, &domain.BatchTooLargeError{Count: len(symbols), Max: maxBatchSymbols}
	}

	quotes, err := c.fetchQuotes(strings.Join(symbols, ","))
	if err != nil {
		return nil, err
	}

	result := make([]domain.Quote, 0, len(quotes))
	for _, q := range quotes {
		result = append(result, q.toQuote())
	}

	if len(result) < len(symbols) {
		c.log.Warn().
			Int("requested", len(symbols)).
			Int("resolved", len(result)).
			Msg("Some symbols missing from batch quote response")
	}

	return result, nil
}

func (c *Client) fetchQuotes(symbolList string) ([]quoteResponse, error) {
	endpoint := fmt.Sprintf("%s/quote/%s?apikey=%s", c.baseURL, url.PathEscape(symbolList), c.apiKey)

	body, err := c.get(endpoint)
	if err != nil {
		return nil, err
	}

	var quotes []quoteResponse
	if err := json.Unmarshal(body, &quotes); err != nil {
		return nil, &domain.DeserializationError{Provider: c.Name(), Err: err}
	}

	return quotes, nil
}

// historicalResponse mirrors FMP's /historical-price-full payload.
type historicalResponse struct {
	Symbol     string `json:"symbol"`
	Historical []struct {
		Date  string  `json:"date"`
		Close float64 `json:"close"`
	} `json:"historical"`
}

// HistoricalRange fetches daily closes in [from, to]. Returns an empty slice
// (not an error) when the provider has no data for the range. Zero-close and
// out-of-range points are dropped.
func (c *Client) HistoricalRange(symbol string, from, to time.Time) ([]domain.HistoricalPoint, error) {
	endpoint := fmt.Sprintf("%s/historical-price-full/%s?from=%s&to=%s&apikey=%s",
		c.baseURL, url.PathEscape(symbol), domain.FormatDate(from), domain.FormatDate(to), c.apiKey)

	body, err := c.get(endpoint)
	if err != nil {
		return nil, err
	}

	// FMP reports range errors inside an otherwise-200 payload.
	var probe struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &probe); err == nil && probe.Error != "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderUnavailable, probe.Error)
	}

	var resp historicalResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &domain.DeserializationError{Provider: c.Name(), Err: err}
	}

	if len(resp.Historical) == 0 {
		c.log.Warn().Str("symbol", symbol).Msg("No historical data in range")
		return []domain.HistoricalPoint{}, nil
	}

	points := make([]domain.HistoricalPoint, 0, len(resp.Historical))
	for _, h := range resp.Historical {
		if h.Date == "" || h.Close == 0 {
			continue
		}
		date, err := domain.ParseDate(h.Date)
		if err != nil {
			continue
		}
		if date.Before(from) || date.After(to) {
			continue
		}
		points = append(points, domain.HistoricalPoint{Date: date, Close: h.Close})
	}

	return points, nil
}

// constituentResponse mirrors one element of FMP's /sp500_constituent payload.
type constituentResponse struct {
	Symbol    string `json:"symbol"`
	Name      string `json:"name"`
	Sector    string `json:"sector"`
	MarketCap *int64 `json:"marketCap"`
}

// InstrumentUniverse lists the S&P 500 constituents as the seedable catalog.
func (c *Client) InstrumentUniverse() ([]domain.InstrumentRef, error) {
	endpoint := fmt.Sprintf("%s/sp500_constituent?apikey=%s", c.baseURL, c.apiKey)

	body, err := c.get(endpoint)
	if err != nil {
		return nil, err
	}

	var constituents []constituentResponse
	if err := json.Unmarshal(body, &constituents); err != nil {
		return nil, &domain.DeserializationError{Provider: c.Name(), Err: err}
	}

	if len(constituents) == 0 {
		return nil, fmt.Errorf("%w: empty constituent list", domain.ErrNoData)
	}

	refs := make([]domain.InstrumentRef, 0, len(constituents))
	for _, cr := range constituents {
		refs = append(refs, domain.InstrumentRef{
			Symbol:    cr.Symbol,
			Name:      cr.Name,
			Sector:    cr.Sector,
			MarketCap: cr.MarketCap,
		})
	}

	c.log.Info().Int("count", len(refs)).Msg("Fetched instrument universe")
	return refs, nil
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

	return body, nil
}
