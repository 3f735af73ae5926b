package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the provider and catalog contracts.
var (
	// ErrProviderUnavailable wraps network or upstream failures. Callers that
	// loop over many instruments skip the affected symbol rather than retry.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrNoData marks a valid-but-empty upstream response. It is generally
	// propagated as an empty result, not surfaced as a failure.
	ErrNoData = errors.New("no data")

	// ErrStockNotFound is returned when a referenced ticker is absent from
	// the instrument catalog.
	ErrStockNotFound = errors.New("stock not found")

	// ErrNotFound is the generic missing-record error for portfolios and
	// holdings addressed by id.
	ErrNotFound = errors.New("not found")
)

// BatchTooLargeError is returned before any network call when a batch-quote
// request exceeds the provider's symbol limit.
type BatchTooLargeError struct {
	Count int
	Max   int
}

func (e *BatchTooLargeError) Error() string {
	return fmt.Sprintf("batch request limited to %d symbols, got %d", e.Max, e.Count)
}

// DeserializationError marks a malformed upstream payload. It is fatal to the
// single call that produced it and never reaches the price-history store.
type DeserializationError struct {
	Provider string
	Err      error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("%s: failed to parse response: %v", e.Provider, e.Err)
}

func (e *DeserializationError) Unwrap() error {
	return e.Err
}
