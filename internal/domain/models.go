// Package domain contains the shared market-data types and provider contracts.
// It is pure: no database, HTTP or logging dependencies.
package domain

import "time"

// Quote is a current market quote for a single instrument.
// PERatio and MarketCap are optional: not every provider carries them.
type Quote struct {
	Symbol        string
	Price         float64
	Open          float64
	High          float64
	Low           float64
	PreviousClose float64
	PERatio       *float64
	MarketCap     *int64
}

// HistoricalPoint is one daily closing price from a provider's historical endpoint.
type HistoricalPoint struct {
	Date  time.Time
	Close float64
}

// InstrumentRef identifies one instrument in a provider's universe listing
// (e.g. an index constituent).
type InstrumentRef struct {
	Symbol    string
	Name      string
	Sector    string
	MarketCap *int64
}

// Day truncates t to midnight UTC. All price-history dates are day-precision.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Today returns the current date at day precision.
func Today() time.Time {
	return Day(time.Now().UTC())
}

// FormatDate renders a day-precision date as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format("2006-01-02")
}

// ParseDate parses a YYYY-MM-DD string into a day-precision UTC date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}
