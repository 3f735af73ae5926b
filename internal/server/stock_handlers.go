package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/heatmapapp/heatmap/internal/domain"
	"github.com/heatmapapp/heatmap/internal/modules/populator"
	"github.com/heatmapapp/heatmap/internal/modules/pricehistory"
	"github.com/heatmapapp/heatmap/internal/modules/stocks"
)

// StockHandlers serves the stock catalog and price-history routes.
type StockHandlers struct {
	catalog   *stocks.Repository
	search    *stocks.Service
	history   *pricehistory.Repository
	populator *populator.Service
	log       zerolog.Logger
}

// NewStockHandlers creates the stock handlers.
func NewStockHandlers(
	catalog *stocks.Repository,
	search *stocks.Service,
	history *pricehistory.Repository,
	pop *populator.Service,
	log zerolog.Logger,
) *StockHandlers {
	return &StockHandlers{
		catalog:   catalog,
		search:    search,
		history:   history,
		populator: pop,
		log:       log.With().Str("handler", "stocks").Logger(),
	}
}

// HandleList returns the full stock catalog.
func (h *StockHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	entries, err := h.catalog.List()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleSave upserts a catalog entry.
func (h *StockHandlers) HandleSave(w http.ResponseWriter, r *http.Request) {
	var s stocks.Stock
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if s.Ticker == "" {
		writeBadRequest(w, "ticker is required")
		return
	}
	if err := h.catalog.Save(&s); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

// HandleDelete removes a catalog entry.
func (h *StockHandlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.Delete(chi.URLParam(r, "ticker")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleInfo returns a catalog entry.
func (h *StockHandlers) HandleInfo(w http.ResponseWriter, r *http.Request) {
	s, err := h.catalog.Get(chi.URLParam(r, "ticker"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// HandleSearch searches the catalog by ticker or company-name prefix,
// ranked by market cap.
func (h *StockHandlers) HandleSearch(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("q")
	if prefix == "" {
		writeBadRequest(w, "q parameter is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	results, err := h.search.Search(prefix, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// HandleHistory returns recent price history for a ticker.
func (h *StockHandlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.history.History(chi.URLParam(r, "ticker"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandlePopulateOne backfills one symbol. Optional from/to query
// parameters bound the range; the default is one year back from today.
func (h *StockHandlers) HandlePopulateOne(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	to := domain.Today()
	from := to.AddDate(-1, 0, 0)
	if v := r.URL.Query().Get("from"); v != "" {
		d, err := domain.ParseDate(v)
		if err != nil {
			writeBadRequest(w, "invalid from date, expected YYYY-MM-DD")
			return
		}
		from = d
	}
	if v := r.URL.Query().Get("to"); v != "" {
		d, err := domain.ParseDate(v)
		if err != nil {
			writeBadRequest(w, "invalid to date, expected YYYY-MM-DD")
			return
		}
		to = d
	}

	count, err := h.populator.PopulateHistory(symbol, from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "inserted": count})
}

// HandlePopulateAll starts a full-universe backfill and waits for it.
// A second request while one is running gets 409.
func (h *StockHandlers) HandlePopulateAll(w http.ResponseWriter, r *http.Request) {
	count, err := h.populator.PopulateAllHistory(r.Context())
	if err != nil {
		if err == populator.ErrRunInProgress {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inserted": count})
}

// HandleRefreshPrice overwrites the ticker's latest entry with a live
// quote dated today.
func (h *StockHandlers) HandleRefreshPrice(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	entry, err := h.populator.RefreshLatestPrice(chi.URLParam(r, "ticker"))
	if err != nil {
		writeError(w, err)
		return
	}
	h.log.Debug().Dur("duration_ms", time.Since(start)).Str("ticker", entry.Ticker).Msg("Price refreshed")
	writeJSON(w, http.StatusOK, entry)
}

// HandlePopulateInstruments seeds the catalog from the provider's
// instrument universe.
func (h *StockHandlers) HandlePopulateInstruments(w http.ResponseWriter, r *http.Request) {
	count, err := h.populator.PopulateInstruments()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"saved": count})
}
