// Package server provides the HTTP server and routing.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/heatmapapp/heatmap/internal/config"
	"github.com/heatmapapp/heatmap/internal/di"
)

// Config holds server configuration.
type Config struct {
	Log       zerolog.Logger
	Config    *config.Config
	Container *di.Container
	Port      int
	DevMode   bool
}

// Server is the HTTP server.
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	cfg            *config.Config
	container      *di.Container
	systemHandlers *SystemHandlers
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		log:            cfg.Log.With().Str("component", "server").Logger(),
		cfg:            cfg.Config,
		container:      cfg.Container,
		systemHandlers: NewSystemHandlers(cfg.Log, cfg.Container),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware.
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes.
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	portfolioHandlers := NewPortfolioHandlers(
		s.container.PortfolioService, s.container.ValuationService, s.log)
	stockHandlers := NewStockHandlers(
		s.container.StockRepo, s.container.StockService,
		s.container.PriceHistory, s.container.Populator, s.log)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/portfolios", func(r chi.Router) {
			r.Get("/", portfolioHandlers.HandleList)
			r.Post("/", portfolioHandlers.HandleCreate)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", portfolioHandlers.HandleValuation)
				r.Delete("/", portfolioHandlers.HandleDelete)
				r.Put("/favorite", portfolioHandlers.HandleSetFavorite)
				r.Route("/holdings", func(r chi.Router) {
					r.Get("/", portfolioHandlers.HandleListHoldings)
					r.Post("/", portfolioHandlers.HandleAddHolding)
				})
			})
			r.Route("/holdings/{holdingId}", func(r chi.Router) {
				r.Put("/", portfolioHandlers.HandleUpdateHolding)
				r.Delete("/", portfolioHandlers.HandleDeleteHolding)
			})
		})

		r.Route("/stocks", func(r chi.Router) {
			r.Get("/", stockHandlers.HandleList)
			r.Post("/", stockHandlers.HandleSave)
			r.Get("/search", stockHandlers.HandleSearch)
			r.Post("/populate", stockHandlers.HandlePopulateInstruments)

			r.Route("/price-history", func(r chi.Router) {
				r.Post("/populate-all", stockHandlers.HandlePopulateAll)
				r.Post("/populate/{symbol}", stockHandlers.HandlePopulateOne)
				r.Put("/{ticker}/refresh", stockHandlers.HandleRefreshPrice)
				r.Get("/{ticker}", stockHandlers.HandleHistory)
			})

			r.Route("/{ticker}", func(r chi.Router) {
				r.Get("/", stockHandlers.HandleInfo)
				r.Delete("/", stockHandlers.HandleDelete)
			})
		})

		r.Route("/system", func(r chi.Router) {
			r.Get("/health", s.systemHandlers.HandleHealth)
		})
	})
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("HTTP server shutting down")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
