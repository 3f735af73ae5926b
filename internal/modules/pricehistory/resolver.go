package pricehistory

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/heatmapapp/heatmap/internal/clientdata"
	"github.com/heatmapapp/heatmap/internal/domain"
)

// Timeframe tokens accepted by the resolver. Unrecognized tokens fall back
// to TimeframeDay.
const (
	TimeframeDay      = "1d"
	TimeframeWeek     = "1w"
	TimeframeMonth    = "1m"
	TimeframeQuarter  = "3m"
	TimeframeHalfYear = "6m"
	TimeframeYTD      = "ytd"
	TimeframeYear     = "1y"
	TimeframeTotal    = "total"
)

const (
	// maxLookbackDays bounds the backward search for a stored price: the
	// anchor date plus three earlier days, never more. This tolerates
	// weekends and short holiday gaps without an unbounded scan.
	maxLookbackDays = 3

	// marketClosedEpsilon is the equality tolerance for the 1d heuristic.
	// When the nearest stored close matches the live quote this closely, the
	// market was most likely closed and the anchor shifts one day further
	// back. Approximate on purpose: a genuinely flat trading day trips it too.
	marketClosedEpsilon = 1e-4
)

// Anchor is the resolved historical reference price for a timeframe.
// EffectiveDate is nil when no dated entry backed the price (purchase-price
// fallback, or the "total" timeframe). Undefined marks the no-basis case:
// "total" requested with no known purchase price.
type Anchor struct {
	Price         float64
	EffectiveDate *time.Time
	UsedFallback  bool
	Undefined     bool
}

// Resolver maps a timeframe token to an anchor price for one ticker.
// Point lookups are memoized through the client data cache.
type Resolver struct {
	store *Repository
	cache *clientdata.Repository // optional
	now   func() time.Time
	log   zerolog.Logger
}

// NewResolver creates a new timeframe resolver.
// cache is optional - if nil, point-lookup memoization is disabled.
func NewResolver(store *Repository, cache *clientdata.Repository, log zerolog.Logger) *Resolver {
	return &Resolver{
		store: store,
		cache: cache,
		now:   domain.Today,
		log:   log.With().Str("service", "timeframe_resolver").Logger(),
	}
}

// NormalizeTimeframe maps unknown tokens to the default timeframe.
func NormalizeTimeframe(timeframe string) string {
	switch strings.ToLower(timeframe) {
	case TimeframeDay, TimeframeWeek, TimeframeMonth, TimeframeQuarter,
		TimeframeHalfYear, TimeframeYTD, TimeframeYear, TimeframeTotal:
		return strings.ToLower(timeframe)
	default:
		return TimeframeDay
	}
}

// AnchorDate computes the calendar date a timeframe measures change from.
// Not meaningful for TimeframeTotal, which anchors on the purchase price.
func (r *Resolver) AnchorDate(timeframe string) time.Time {
	today := r.now()
	switch timeframe {
	case TimeframeWeek:
		return today.AddDate(0, 0, -7)
	case TimeframeMonth:
		return today.AddDate(0, -1, 0)
	case TimeframeQuarter:
		return today.AddDate(0, -3, 0)
	case TimeframeHalfYear:
		return today.AddDate(0, -6, 0)
	case TimeframeYTD:
		return time.Date(today.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	case TimeframeYear:
		return today.AddDate(-1, 0, 0)
	default: // TimeframeDay
		return today.AddDate(0, 0, -1)
	}
}

// Resolve determines the anchor price for one holding and timeframe.
//
// purchasePrice is the holding's optional cost basis: it is the anchor itself
// for "total", and the degraded-data fallback when no stored price can be
// found. currentPrice is the live quote, used only by the 1d market-closed
// heuristic.
//
// When neither a stored price nor a purchase price exists, the anchor price
// is 0 and the caller must report a 0% change rather than divide by it.
func (r *Resolver) Resolve(ticker, timeframe string, purchasePrice *float64, currentPrice float64) (Anchor, error) {
	timeframe = NormalizeTimeframe(timeframe)

	if timeframe == TimeframeTotal {
		if purchasePrice == nil {
			return Anchor{Undefined: true}, nil
		}
		return Anchor{Price: *purchasePrice}, nil
	}

	anchorDate := r.AnchorDate(timeframe)

	if timeframe == TimeframeDay {
		entry, err := r.store.NearestOnOrBefore(ticker, anchorDate)
		if err != nil {
			return Anchor{}, err
		}
		if entry != nil && math.Abs(entry.ClosingPrice-currentPrice) <= marketClosedEpsilon {
			// Stored close equals the live quote: the market was most
			// likely closed, so measure from one day earlier instead of
			// reporting a 0% artifact.
			r.log.Debug().
				Str("ticker", ticker).
				Str("date", domain.FormatDate(entry.Date)).
				Msg("Stored close matches live quote, shifting 1d anchor back")
			entry, err = r.store.NearestOnOrBefore(ticker, anchorDate.AddDate(0, 0, -1))
			if err != nil {
				return Anchor{}, err
			}
		}
		if entry != nil {
			date := entry.Date
			return Anchor{Price: entry.ClosingPrice, EffectiveDate: &date}, nil
		}
		return r.fallback(ticker, timeframe, purchasePrice), nil
	}

	// Bounded fallback search: the anchor date plus up to three earlier days.
	for daysBack := 0; daysBack <= maxLookbackDays; daysBack++ {
		candidate := anchorDate.AddDate(0, 0, -daysBack)
		entry, err := r.lookup(ticker, candidate)
		if err != nil {
			return Anchor{}, err
		}
		if entry != nil {
			date := entry.Date
			return Anchor{Price: entry.ClosingPrice, EffectiveDate: &date}, nil
		}
	}

	return r.fallback(ticker, timeframe, purchasePrice), nil
}

// fallback degrades to the purchase price when no stored entry was found, and
// to a zero anchor when there is no purchase basis either.
func (r *Resolver) fallback(ticker, timeframe string, purchasePrice *float64) Anchor {
	if purchasePrice != nil {
		r.log.Warn().
			Str("ticker", ticker).
			Str("timeframe", timeframe).
			Float64("purchase_price", *purchasePrice).
			Msg("No stored price near anchor date, falling back to purchase price")
		return Anchor{Price: *purchasePrice, UsedFallback: true}
	}

	r.log.Warn().
		Str("ticker", ticker).
		Str("timeframe", timeframe).
		Msg("No stored price and no purchase basis, anchor price is zero")
	return Anchor{UsedFallback: true}
}

// lookup is an exact-date store read memoized by (ticker, date).
func (r *Resolver) lookup(ticker string, date time.Time) (*Entry, error) {
	if r.cache == nil {
		return r.store.Get(ticker, date)
	}

	key := clientdata.DateKey(ticker, domain.FormatDate(date))

	if data, err := r.cache.GetIfFresh(clientdata.TablePriceByDate, key); err == nil && data != nil {
		var cached cachedEntry
		if err := json.Unmarshal(data, &cached); err == nil {
			return cached.toEntry(), nil
		}
	}

	entry, err := r.store.Get(ticker, date)
	if err != nil {
		return nil, err
	}

	if err := r.cache.Store(clientdata.TablePriceByDate, key, newCachedEntry(entry), clientdata.TTLPriceByDate); err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("Failed to cache price lookup")
	}

	return entry, nil
}

// cachedEntry is the structure stored in the price_by_date cache. Misses are
// cached too (Found=false) so repeated holiday-gap probes skip the store.
type cachedEntry struct {
	Found        bool     `json:"found"`
	Ticker       string   `json:"ticker,omitempty"`
	Date         string   `json:"date,omitempty"`
	ClosingPrice float64  `json:"closingPrice,omitempty"`
	PERatio      *float64 `json:"peRatio,omitempty"`
	MarketCap    *int64   `json:"marketCap,omitempty"`
}

func newCachedEntry(e *Entry) cachedEntry {
	if e == nil {
		return cachedEntry{}
	}
	return cachedEntry{
		Found:        true,
		Ticker:       e.Ticker,
		Date:         domain.FormatDate(e.Date),
		ClosingPrice: e.ClosingPrice,
		PERatio:      e.PERatio,
		MarketCap:    e.MarketCap,
	}
}

func (c cachedEntry) toEntry() *Entry {
	if !c.Found {
		return nil
	}
	date, err := domain.ParseDate(c.Date)
	if err != nil {
		return nil
	}
	return &Entry{
		Ticker:       c.Ticker,
		Date:         date,
		ClosingPrice: c.ClosingPrice,
		PERatio:      c.PERatio,
		MarketCap:    c.MarketCap,
	}
}
