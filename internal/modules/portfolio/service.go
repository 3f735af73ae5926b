package portfolio

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/heatmapapp/heatmap/internal/domain"
	"github.com/heatmapapp/heatmap/internal/modules/stocks"
)

// Service enforces portfolio business rules on top of the repository.
type Service struct {
	repo    *Repository
	catalog *stocks.Repository
	log     zerolog.Logger
}

// NewService creates a portfolio service.
func NewService(repo *Repository, catalog *stocks.Repository, log zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		catalog: catalog,
		log:     log.With().Str("service", "portfolio").Logger(),
	}
}

// Create makes a new portfolio for the user. Blank names are rejected.
func (s *Service) Create(userID, name string) (*Portfolio, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("portfolio name is required")
	}
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	return s.repo.CreatePortfolio(userID, name)
}

// Get returns a portfolio or ErrNotFound.
func (s *Service) Get(id int64) (*Portfolio, error) {
	p, err := s.repo.GetPortfolio(id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: portfolio %d", domain.ErrNotFound, id)
	}
	return p, nil
}

// List returns the user's portfolios.
func (s *Service) List(userID string) ([]Portfolio, error) {
	return s.repo.ListPortfolios(userID)
}

// Delete removes a portfolio and all of its holdings.
func (s *Service) Delete(id int64) error {
	return s.repo.DeletePortfolio(id)
}

// SetFavorite marks or unmarks the user's favorite portfolio.
func (s *Service) SetFavorite(userID string, id int64, favorite bool) error {
	return s.repo.SetFavorite(userID, id, favorite)
}

// AddHoldingInput carries the fields for a new position.
type AddHoldingInput struct {
	Ticker        string
	Shares        float64
	PurchasePrice *float64
	PurchaseDate  time.Time
}

// AddHolding validates and records a position. The ticker must exist in the
// catalog unless it is the cash pseudo-instrument.
func (s *Service) AddHolding(portfolioID int64, in AddHoldingInput) (*Holding, error) {
	if _, err := s.Get(portfolioID); err != nil {
		return nil, err
	}

	ticker := strings.ToUpper(strings.TrimSpace(in.Ticker))
	if ticker == "" {
		return nil, fmt.Errorf("ticker is required")
	}
	if in.Shares <= 0 {
		return nil, fmt.Errorf("shares must be positive")
	}

	if !strings.EqualFold(ticker, CashTicker) {
		exists, err := s.catalog.Exists(ticker)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("%w: %s", domain.ErrStockNotFound, ticker)
		}
	}

	purchaseDate := in.PurchaseDate
	if purchaseDate.IsZero() {
		purchaseDate = domain.Today()
	}

	return s.repo.AddHolding(&Holding{
		PortfolioID:   portfolioID,
		Ticker:        ticker,
		Shares:        in.Shares,
		PurchasePrice: in.PurchasePrice,
		PurchaseDate:  purchaseDate,
	})
}

// UpdateHoldingInput carries a partial holding update. Nil pointers leave
// the corresponding field untouched.
type UpdateHoldingInput struct {
	Shares        *float64
	PurchasePrice *float64
	SellingPrice  *float64
	SellingDate   *time.Time
}

// UpdateHolding applies a partial update. Dropping shares to zero or below
// deletes the position entirely.
func (s *Service) UpdateHolding(holdingID int64, in UpdateHoldingInput) (*Holding, error) {
	h, err := s.repo.GetHolding(holdingID)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, fmt.Errorf("%w: holding %d", domain.ErrNotFound, holdingID)
	}

	if in.Shares != nil {
		if *in.Shares <= 0 {
			if err := s.repo.DeleteHolding(holdingID); err != nil {
				return nil, err
			}
			s.log.Info().Int64("holding", holdingID).Msg("Deleted holding via zero-share update")
			return nil, nil
		}
		h.Shares = *in.Shares
	}
	if in.PurchasePrice != nil {
		h.PurchasePrice = in.PurchasePrice
	}
	if in.SellingPrice != nil {
		h.SellingPrice = in.SellingPrice
		if in.SellingDate != nil {
			h.SellingDate = in.SellingDate
		} else if h.SellingDate == nil {
			today := domain.Today()
			h.SellingDate = &today
		}
	}

	return s.repo.UpdateHolding(h)
}

// DeleteHolding removes a position.
func (s *Service) DeleteHolding(holdingID int64) error {
	return s.repo.DeleteHolding(holdingID)
}

// Holdings returns all positions in a portfolio.
func (s *Service) Holdings(portfolioID int64) ([]Holding, error) {
	if _, err := s.Get(portfolioID); err != nil {
		return nil, err
	}
	return s.repo.Holdings(portfolioID)
}

// OpenPositions filters a portfolio's holdings to those not yet sold.
func (s *Service) OpenPositions(portfolioID int64) ([]Holding, error) {
	return s.filterHoldings(portfolioID, false)
}

// ClosedPositions filters a portfolio's holdings to those already sold.
func (s *Service) ClosedPositions(portfolioID int64) ([]Holding, error) {
	return s.filterHoldings(portfolioID, true)
}

func (s *Service) filterHoldings(portfolioID int64, closed bool) ([]Holding, error) {
	all, err := s.Holdings(portfolioID)
	if err != nil {
		return nil, err
	}
	filtered := make([]Holding, 0, len(all))
	for _, h := range all {
		if h.IsClosed() == closed {
			filtered = append(filtered, h)
		}
	}
	return filtered, nil
}
