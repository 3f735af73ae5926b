package clientdata

import "time"

// TTL constants for different data types.
// These are added to time.Now() when storing to calculate expires_at.
const (
	// Current-price quotes change throughout the trading day; keep them only
	// long enough to absorb a request burst.
	TTLCurrentPrice = 10 * time.Minute

	// Dated price lookups are naturally scoped to a specific day; the TTL
	// just bounds table growth.
	TTLPriceByDate = 24 * time.Hour

	// Computed percentage changes depend on the live quote, so they expire
	// on the same horizon as current prices.
	TTLPercentageChange = 10 * time.Minute
)

// Table names used by callers of Repository.
const (
	TableCurrentPrices    = "current_prices"
	TablePriceByDate      = "price_by_date"
	TablePercentageChange = "percentage_change"
)

// DateKey builds the composite key for price_by_date lookups.
func DateKey(ticker, date string) string {
	return ticker + ":" + date
}

// TimeframeKey builds the composite key for percentage_change lookups.
func TimeframeKey(ticker, timeframe string) string {
	return ticker + ":" + timeframe
}
