// Package valuation computes per-holding and portfolio-level returns.
package valuation

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/heatmapapp/heatmap/internal/clientdata"
	"github.com/heatmapapp/heatmap/internal/domain"
	"github.com/heatmapapp/heatmap/internal/modules/portfolio"
	"github.com/heatmapapp/heatmap/internal/modules/pricehistory"
)

// HoldingValuation is the computed state of one position at request time.
type HoldingValuation struct {
	HoldingID       int64      `json:"holdingId"`
	Ticker          string     `json:"ticker"`
	Shares          float64    `json:"shares"`
	PurchasePrice   *float64   `json:"purchasePrice"`
	CurrentPrice    float64    `json:"currentPrice"`
	CurrentValue    float64    `json:"currentValue"`
	InitialValue    float64    `json:"initialValue"`
	GainLoss        *float64   `json:"gainLoss"`
	PercentReturn   *float64   `json:"percentReturn"`
	TimeframeChange float64    `json:"timeframeChangePct"`
	AnchorDate      *time.Time `json:"anchorDate,omitempty"`
	UsedFallback    bool       `json:"usedFallback,omitempty"`
	Closed          bool       `json:"closed"`
}

// Result is the full valuation of a portfolio. Built fresh on every
// request, never persisted.
type Result struct {
	PortfolioID        int64              `json:"portfolioId"`
	Timeframe          string             `json:"timeframe"`
	Holdings           []HoldingValuation `json:"holdings"`
	TotalCurrentValue  float64            `json:"totalCurrentValue"`
	TotalInitialValue  float64            `json:"totalInitialValue"`
	TotalDollarReturn  float64            `json:"totalDollarReturn"`
	TotalPercentReturn *float64           `json:"totalPercentReturn"`
}

// Service is the valuation engine.
type Service struct {
	portfolios *portfolio.Service
	provider   domain.QuoteProvider
	resolver   *pricehistory.Resolver
	cache      *clientdata.Repository
	log        zerolog.Logger
}

// NewService creates a valuation service.
func NewService(
	portfolios *portfolio.Service,
	provider domain.QuoteProvider,
	resolver *pricehistory.Resolver,
	cache *clientdata.Repository,
	log zerolog.Logger,
) *Service {
	return &Service{
		portfolios: portfolios,
		provider:   provider,
		resolver:   resolver,
		cache:      cache,
		log:        log.With().Str("service", "valuation").Logger(),
	}
}

// ResolveValuation values every position in the portfolio against the
// given timeframe. Current quotes come from one batched provider call;
// anchor prices come from the resolver. A provider outage degrades to
// purchase-price valuations rather than failing the request.
func (s *Service) ResolveValuation(portfolioID int64, timeframe string) (*Result, error) {
	timeframe = pricehistory.NormalizeTimeframe(timeframe)

	holdings, err := s.portfolios.Holdings(portfolioID)
	if err != nil {
		return nil, err
	}

	prices := s.currentPrices(holdings)

	result := &Result{
		PortfolioID: portfolioID,
		Timeframe:   timeframe,
		Holdings:    make([]HoldingValuation, 0, len(holdings)),
	}

	for i := range holdings {
		h := &holdings[i]
		var hv HoldingValuation
		if h.IsClosed() {
			hv = s.valueClosed(h)
		} else {
			hv = s.valueOpen(h, timeframe, prices)
		}
		result.Holdings = append(result.Holdings, hv)
		result.TotalCurrentValue += hv.CurrentValue
		result.TotalInitialValue += hv.InitialValue
	}

	result.TotalDollarReturn = result.TotalCurrentValue - result.TotalInitialValue
	if result.TotalInitialValue > 0 {
		pct := result.TotalDollarReturn / result.TotalInitialValue * 100
		result.TotalPercentReturn = &pct
	}

	return result, nil
}

// valueOpen computes the live metrics for an open position.
func (s *Service) valueOpen(h *portfolio.Holding, timeframe string, prices map[string]float64) HoldingValuation {
	hv := HoldingValuation{
		HoldingID:     h.ID,
		Ticker:        h.Ticker,
		Shares:        h.Shares,
		PurchasePrice: h.PurchasePrice,
	}

	if h.IsCash() {
		hv.CurrentPrice = 1
		hv.CurrentValue = h.Shares
		hv.InitialValue = h.Shares
		zero := 0.0
		hv.GainLoss = &zero
		hv.PercentReturn = &zero
		return hv
	}

	currentPrice, ok := prices[h.Ticker]
	if !ok {
		if h.PurchasePrice != nil {
			currentPrice = *h.PurchasePrice
		} else {
			currentPrice = 0
		}
	}

	hv.CurrentPrice = currentPrice
	hv.CurrentValue = h.CurrentValue(currentPrice)
	if h.PurchasePrice != nil {
		hv.InitialValue = h.Shares * *h.PurchasePrice
	}
	hv.GainLoss = h.GainLoss(currentPrice)
	hv.PercentReturn = h.PercentageReturn(currentPrice)
	hv.TimeframeChange = s.timeframeChange(h, timeframe, currentPrice, &hv)

	return hv
}

// valueClosed computes the realized metrics for a sold position. The sale
// value stands in for current value so realized gains flow into the
// portfolio totals.
func (s *Service) valueClosed(h *portfolio.Holding) HoldingValuation {
	hv := HoldingValuation{
		HoldingID:     h.ID,
		Ticker:        h.Ticker,
		Shares:        h.Shares,
		PurchasePrice: h.PurchasePrice,
		Closed:        true,
	}

	if h.SellingPrice != nil {
		hv.CurrentPrice = *h.SellingPrice
		hv.CurrentValue = h.Shares * *h.SellingPrice
	}
	if h.PurchasePrice != nil {
		hv.InitialValue = h.Shares * *h.PurchasePrice
		hv.GainLoss = h.RealizedGain()
		if *h.PurchasePrice != 0 && hv.GainLoss != nil {
			pct := *hv.GainLoss / (*h.PurchasePrice * h.Shares) * 100
			hv.PercentReturn = &pct
		}
	}

	return hv
}

// timeframeChange resolves the anchor price and computes the percentage
// move, memoized per (ticker, timeframe) for the request burst. Only
// store-anchored changes go through the cache: an anchor derived from the
// holding's purchase price ("total", or the fallback path) is per holding,
// and a ticker-keyed entry would leak one holding's basis to every other
// holding of the same ticker.
func (s *Service) timeframeChange(h *portfolio.Holding, timeframe string, currentPrice float64, hv *HoldingValuation) float64 {
	cacheable := timeframe != pricehistory.TimeframeTotal

	if cacheable {
		if cached, ok := s.cachedChange(h.Ticker, timeframe); ok {
			return cached
		}
	}

	anchor, err := s.resolver.Resolve(h.Ticker, timeframe, h.PurchasePrice, currentPrice)
	if err != nil {
		s.log.Warn().Err(err).Str("ticker", h.Ticker).Str("timeframe", timeframe).
			Msg("Failed to resolve anchor price")
		return 0
	}

	hv.AnchorDate = anchor.EffectiveDate
	hv.UsedFallback = anchor.UsedFallback

	if anchor.Undefined || anchor.Price == 0 {
		return 0
	}

	change := (currentPrice - anchor.Price) / anchor.Price * 100
	if cacheable && !anchor.UsedFallback {
		s.storeChange(h.Ticker, timeframe, change)
	}
	return change
}

// currentPrices batch-fetches live quotes for the distinct non-cash
// tickers, consulting the short-TTL quote cache first. Provider failures
// leave tickers out of the map; callers fall back per holding.
func (s *Service) currentPrices(holdings []portfolio.Holding) map[string]float64 {
	prices := make(map[string]float64)
	seen := make(map[string]bool)
	var missing []string

	for i := range holdings {
		h := &holdings[i]
		if h.IsCash() || h.IsClosed() || seen[h.Ticker] {
			continue
		}
		seen[h.Ticker] = true

		if price, ok := s.cachedPrice(h.Ticker); ok {
			prices[h.Ticker] = price
			continue
		}
		missing = append(missing, h.Ticker)
	}

	max := s.provider.MaxBatchSize()
	for start := 0; start < len(missing); start += max {
		end := start + max
		if end > len(missing) {
			end = len(missing)
		}
		quotes, err := s.provider.BatchQuotes(missing[start:end])
		if err != nil {
			s.log.Warn().Err(err).Int("symbols", end-start).Msg("Batch quote fetch failed")
			continue
		}
		for _, q := range quotes {
			ticker := strings.ToUpper(q.Symbol)
			prices[ticker] = q.Price
			s.storePrice(ticker, q.Price)
		}
	}

	return prices
}

func (s *Service) cachedPrice(ticker string) (float64, bool) {
	if s.cache == nil {
		return 0, false
	}
	data, err := s.cache.GetIfFresh(clientdata.TableCurrentPrices, ticker)
	if err != nil || data == nil {
		return 0, false
	}
	var price float64
	if err := json.Unmarshal(data, &price); err != nil {
		return 0, false
	}
	return price, true
}

func (s *Service) storePrice(ticker string, price float64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Store(clientdata.TableCurrentPrices, ticker, price, clientdata.TTLCurrentPrice); err != nil {
		s.log.Warn().Err(err).Str("ticker", ticker).Msg("Failed to cache current price")
	}
}

func (s *Service) cachedChange(ticker, timeframe string) (float64, bool) {
	if s.cache == nil {
		return 0, false
	}
	data, err := s.cache.GetIfFresh(clientdata.TablePercentageChange, clientdata.TimeframeKey(ticker, timeframe))
	if err != nil || data == nil {
		return 0, false
	}
	var change float64
	if err := json.Unmarshal(data, &change); err != nil {
		return 0, false
	}
	return change, true
}

func (s *Service) storeChange(ticker, timeframe string, change float64) {
	if s.cache == nil {
		return
	}
	key := clientdata.TimeframeKey(ticker, timeframe)
	if err := s.cache.Store(clientdata.TablePercentageChange, key, change, clientdata.TTLPercentageChange); err != nil {
		s.log.Warn().Err(err).Str("ticker", ticker).Msg("Failed to cache percentage change")
	}
}
