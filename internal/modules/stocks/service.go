package stocks

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/heatmapapp/heatmap/internal/modules/pricehistory"
)

// SearchResult is a catalog hit enriched with the most recent market cap,
// when one is recorded.
type SearchResult struct {
	Ticker      string `json:"ticker"`
	CompanyName string `json:"companyName"`
	MarketCap   *int64 `json:"marketCap,omitempty"`
}

// Service layers market-cap ranking on top of the raw catalog.
type Service struct {
	repo    *Repository
	history *pricehistory.Repository
	log     zerolog.Logger
}

// NewService creates a stocks service.
func NewService(repo *Repository, history *pricehistory.Repository, log zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		history: history,
		log:     log.With().Str("service", "stocks").Logger(),
	}
}

// Search returns up to limit catalog matches for the prefix, ranked by
// latest known market cap descending. Entries with no recorded market cap
// sort last, alphabetically.
func (s *Service) Search(prefix string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}

	// Over-fetch so that cap ranking can reorder beyond the page boundary.
	matches, err := s.repo.SearchPrefix(prefix, limit*5)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		result := SearchResult{Ticker: m.Ticker, CompanyName: m.CompanyName}
		latest, err := s.history.Latest(m.Ticker)
		if err != nil {
			s.log.Warn().Err(err).Str("ticker", m.Ticker).Msg("Failed to load latest price entry")
		} else if latest != nil {
			result.MarketCap = latest.MarketCap
		}
		results = append(results, result)
	}

	sort.SliceStable(results, func(i, j int) bool {
		ci, cj := results[i].MarketCap, results[j].MarketCap
		switch {
		case ci != nil && cj != nil:
			return *ci > *cj
		case ci != nil:
			return true
		case cj != nil:
			return false
		default:
			return results[i].Ticker < results[j].Ticker
		}
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
