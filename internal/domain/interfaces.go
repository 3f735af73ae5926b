package domain

import "time"

// QuoteProvider is the capability contract over an external market-data source.
// One implementation is selected at process start from configuration; providers
// are never mixed within a single request.
type QuoteProvider interface {
	// Name identifies the provider in logs.
	Name() string

	// CurrentQuote fetches the live quote for one symbol.
	// Returns ErrProviderUnavailable on network failure, ErrNoData on an
	// empty or invalid payload.
	CurrentQuote(symbol string) (*Quote, error)

	// BatchQuotes fetches quotes for up to MaxBatchSize symbols. Best-effort:
	// symbols the upstream cannot resolve are absent from the result, and a
	// failure for one symbol must not abort the rest. Returns
	// *BatchTooLargeError when the limit is exceeded.
	BatchQuotes(symbols []string) ([]Quote, error)

	// HistoricalRange fetches daily closes in [from, to]. An empty range is
	// returned as an empty slice, not an error. Points outside the requested
	// range are filtered out before returning.
	HistoricalRange(symbol string, from, to time.Time) ([]HistoricalPoint, error)

	// InstrumentUniverse lists the provider's seedable instrument catalog
	// (e.g. index constituents). Providers without such an endpoint return
	// ErrNoData.
	InstrumentUniverse() ([]InstrumentRef, error)

	// MaxBatchSize is the provider's batch-quote symbol limit.
	MaxBatchSize() int
}
