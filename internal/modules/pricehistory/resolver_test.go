package pricehistory

import (
	"testing"
	"time"

	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heatmapapp/heatmap/internal/domain"
)

func testResolver(t *testing.T, today string) (*Resolver, *Repository) {
	repo := testRepo(t)
	r := NewResolver(repo, nil, zerolog.Nop())
	r.now = func() time.Time { return date(today) }
	return r, repo
}

func ptr(v float64) *float64 { return &v }

func TestNormalizeTimeframe(t *testing.T) {
	assert.Equal(t, "1w", NormalizeTimeframe("1w"))
	assert.Equal(t, "ytd", NormalizeTimeframe("YTD"))
	assert.Equal(t, "1d", NormalizeTimeframe(""))
	assert.Equal(t, "1d", NormalizeTimeframe("5y"))
	assert.Equal(t, "1d", NormalizeTimeframe("garbage"))
}

func TestAnchorDate(t *testing.T) {
	r, _ := testResolver(t, "2024-03-15")

	assert.Equal(t, "2024-03-14", domain.FormatDate(r.AnchorDate(TimeframeDay)))
	assert.Equal(t, "2024-03-08", domain.FormatDate(r.AnchorDate(TimeframeWeek)))
	assert.Equal(t, "2024-02-15", domain.FormatDate(r.AnchorDate(TimeframeMonth)))
	assert.Equal(t, "2023-12-15", domain.FormatDate(r.AnchorDate(TimeframeQuarter)))
	assert.Equal(t, "2023-09-15", domain.FormatDate(r.AnchorDate(TimeframeHalfYear)))
	assert.Equal(t, "2024-01-01", domain.FormatDate(r.AnchorDate(TimeframeYTD)))
	assert.Equal(t, "2023-03-15", domain.FormatDate(r.AnchorDate(TimeframeYear)))
}

func TestResolveTotalUsesOnlyPurchasePrice(t *testing.T) {
	r, repo := testResolver(t, "2024-03-15")

	// A stored price exists, but "total" must never consult it.
	_, err := repo.Put(&Entry{Ticker: "AAPL", Date: date("2024-03-14"), ClosingPrice: 500})
	require.NoError(t, err)

	anchor, err := r.Resolve("AAPL", TimeframeTotal, ptr(100), 110)
	require.NoError(t, err)
	assert.Equal(t, 100.0, anchor.Price)
	assert.Nil(t, anchor.EffectiveDate)
	assert.False(t, anchor.UsedFallback)
	assert.False(t, anchor.Undefined)
}

func TestResolveTotalWithoutBasisIsUndefined(t *testing.T) {
	r, _ := testResolver(t, "2024-03-15")

	anchor, err := r.Resolve("AAPL", TimeframeTotal, nil, 110)
	require.NoError(t, err)
	assert.True(t, anchor.Undefined)
	assert.Zero(t, anchor.Price)
}

func TestResolveExactAnchorDate(t *testing.T) {
	r, repo := testResolver(t, "2024-03-15")

	_, err := repo.Put(&Entry{Ticker: "AAPL", Date: date("2024-03-08"), ClosingPrice: 170})
	require.NoError(t, err)

	anchor, err := r.Resolve("AAPL", TimeframeWeek, ptr(100), 180)
	require.NoError(t, err)
	assert.Equal(t, 170.0, anchor.Price)
	require.NotNil(t, anchor.EffectiveDate)
	assert.Equal(t, "2024-03-08", domain.FormatDate(*anchor.EffectiveDate))
	assert.False(t, anchor.UsedFallback)
}

func TestResolveBoundedBackwardSearch(t *testing.T) {
	r, repo := testResolver(t, "2024-03-15")

	// Anchor 2024-03-08; nearest stored entry is three days earlier, the
	// last date the bounded search may reach.
	_, err := repo.Put(&Entry{Ticker: "AAPL", Date: date("2024-03-05"), ClosingPrice: 168})
	require.NoError(t, err)

	anchor, err := r.Resolve("AAPL", TimeframeWeek, ptr(100), 180)
	require.NoError(t, err)
	assert.Equal(t, 168.0, anchor.Price)
	assert.False(t, anchor.UsedFallback)
}

func TestResolveStopsAfterFourCandidates(t *testing.T) {
	r, repo := testResolver(t, "2024-03-15")

	// Four days before the anchor: outside the bounded window, must not be
	// found even though it is the ticker's only entry.
	_, err := repo.Put(&Entry{Ticker: "AAPL", Date: date("2024-03-04"), ClosingPrice: 168})
	require.NoError(t, err)

	anchor, err := r.Resolve("AAPL", TimeframeWeek, ptr(100), 180)
	require.NoError(t, err)
	assert.True(t, anchor.UsedFallback)
	assert.Equal(t, 100.0, anchor.Price)
}

func TestResolveFallbackWithoutBasisIsZero(t *testing.T) {
	r, _ := testResolver(t, "2024-03-15")

	anchor, err := r.Resolve("AAPL", TimeframeMonth, nil, 180)
	require.NoError(t, err)
	assert.True(t, anchor.UsedFallback)
	assert.Zero(t, anchor.Price)
}

func TestResolveOneDayUsesNearestOnOrBefore(t *testing.T) {
	r, repo := testResolver(t, "2024-03-11") // Monday; anchor Sunday 03-10

	_, err := repo.Put(&Entry{Ticker: "AAPL", Date: date("2024-03-08"), ClosingPrice: 172})
	require.NoError(t, err)

	anchor, err := r.Resolve("AAPL", TimeframeDay, ptr(100), 180)
	require.NoError(t, err)
	assert.Equal(t, 172.0, anchor.Price)
	require.NotNil(t, anchor.EffectiveDate)
	assert.Equal(t, "2024-03-08", domain.FormatDate(*anchor.EffectiveDate))
}

func TestResolveOneDayShiftsBackWhenCloseMatchesLiveQuote(t *testing.T) {
	r, repo := testResolver(t, "2024-03-15")

	require.NoError(t, repo.BulkInsert([]Entry{
		{Ticker: "AAPL", Date: date("2024-03-13"), ClosingPrice: 175},
		{Ticker: "AAPL", Date: date("2024-03-14"), ClosingPrice: 180},
	}))

	// The 03-14 close equals the live quote, so the market was likely
	// closed and the anchor shifts to the 03-13 close.
	anchor, err := r.Resolve("AAPL", TimeframeDay, ptr(100), 180)
	require.NoError(t, err)
	assert.Equal(t, 175.0, anchor.Price)
	require.NotNil(t, anchor.EffectiveDate)
	assert.Equal(t, "2024-03-13", domain.FormatDate(*anchor.EffectiveDate))
}

func TestResolveOneDayKeepsAnchorWhenPricesDiffer(t *testing.T) {
	r, repo := testResolver(t, "2024-03-15")

	_, err := repo.Put(&Entry{Ticker: "AAPL", Date: date("2024-03-14"), ClosingPrice: 178})
	require.NoError(t, err)

	anchor, err := r.Resolve("AAPL", TimeframeDay, ptr(100), 180)
	require.NoError(t, err)
	assert.Equal(t, 178.0, anchor.Price)
}
