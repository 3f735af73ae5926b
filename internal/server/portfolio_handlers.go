package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/heatmapapp/heatmap/internal/domain"
	"github.com/heatmapapp/heatmap/internal/modules/portfolio"
	"github.com/heatmapapp/heatmap/internal/modules/valuation"
)

// defaultUserID stands in for the authenticated user until an auth layer
// exists in front of this service.
const defaultUserID = "default"

// PortfolioHandlers serves the portfolio and valuation routes.
type PortfolioHandlers struct {
	portfolios *portfolio.Service
	valuations *valuation.Service
	log        zerolog.Logger
}

// NewPortfolioHandlers creates the portfolio handlers.
func NewPortfolioHandlers(portfolios *portfolio.Service, valuations *valuation.Service, log zerolog.Logger) *PortfolioHandlers {
	return &PortfolioHandlers{
		portfolios: portfolios,
		valuations: valuations,
		log:        log.With().Str("handler", "portfolio").Logger(),
	}
}

func userID(r *http.Request) string {
	if id := r.URL.Query().Get("userId"); id != "" {
		return id
	}
	return defaultUserID
}

func pathID(r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	return id, err == nil
}

// HandleList returns the user's portfolios.
func (h *PortfolioHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	portfolios, err := h.portfolios.List(userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, portfolios)
}

// HandleCreate creates a portfolio.
func (h *PortfolioHandlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	p, err := h.portfolios.Create(userID(r), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// HandleValuation values the portfolio against the requested timeframe.
func (h *PortfolioHandlers) HandleValuation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid portfolio id")
		return
	}

	result, err := h.valuations.ResolveValuation(id, r.URL.Query().Get("timeframe"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleDelete deletes a portfolio and its holdings.
func (h *PortfolioHandlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid portfolio id")
		return
	}
	if err := h.portfolios.Delete(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSetFavorite toggles the favorite flag.
func (h *PortfolioHandlers) HandleSetFavorite(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid portfolio id")
		return
	}

	var req struct {
		Favorite bool `json:"favorite"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	if err := h.portfolios.SetFavorite(userID(r), id, req.Favorite); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListHoldings returns the portfolio's positions.
func (h *PortfolioHandlers) HandleListHoldings(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid portfolio id")
		return
	}

	holdings, err := h.portfolios.Holdings(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, holdings)
}

type holdingRequest struct {
	Ticker        string   `json:"ticker"`
	Shares        *float64 `json:"shares"`
	PurchasePrice *float64 `json:"purchasePrice"`
	PurchaseDate  string   `json:"purchaseDate"`
	SellingPrice  *float64 `json:"sellingPrice"`
	SellingDate   string   `json:"sellingDate"`
}

// HandleAddHolding records a new position.
func (h *PortfolioHandlers) HandleAddHolding(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid portfolio id")
		return
	}

	var req holdingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.Shares == nil {
		writeBadRequest(w, "shares is required")
		return
	}

	var purchaseDate time.Time
	if req.PurchaseDate != "" {
		var err error
		purchaseDate, err = domain.ParseDate(req.PurchaseDate)
		if err != nil {
			writeBadRequest(w, "invalid purchaseDate, expected YYYY-MM-DD")
			return
		}
	}

	holding, err := h.portfolios.AddHolding(id, portfolio.AddHoldingInput{
		Ticker:        req.Ticker,
		Shares:        *req.Shares,
		PurchasePrice: req.PurchasePrice,
		PurchaseDate:  purchaseDate,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, holding)
}

// HandleUpdateHolding applies a partial update. Shares at or below zero
// delete the position.
func (h *PortfolioHandlers) HandleUpdateHolding(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "holdingId")
	if !ok {
		writeBadRequest(w, "invalid holding id")
		return
	}

	var req holdingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	in := portfolio.UpdateHoldingInput{
		Shares:        req.Shares,
		PurchasePrice: req.PurchasePrice,
		SellingPrice:  req.SellingPrice,
	}
	if req.SellingDate != "" {
		d, err := domain.ParseDate(req.SellingDate)
		if err != nil {
			writeBadRequest(w, "invalid sellingDate, expected YYYY-MM-DD")
			return
		}
		in.SellingDate = &d
	}

	holding, err := h.portfolios.UpdateHolding(id, in)
	if err != nil {
		writeError(w, err)
		return
	}
	if holding == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, holding)
}

// HandleDeleteHolding removes a position.
func (h *PortfolioHandlers) HandleDeleteHolding(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "holdingId")
	if !ok {
		writeBadRequest(w, "invalid holding id")
		return
	}
	if err := h.portfolios.DeleteHolding(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
