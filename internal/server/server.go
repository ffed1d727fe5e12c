// Package server exposes the read API over the rate cache and the
// simulation store, plus the manual agent-cycle and snapshot triggers.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/hldesk/hldesk/internal/domain"
	"github.com/hldesk/hldesk/internal/ratecache"
	"github.com/hldesk/hldesk/internal/store"
)

// AgentRunner triggers one AI trading cycle; *ai.Engine satisfies it.
type AgentRunner interface {
	RunAgentCycle(ctx context.Context, name string, result domain.AggregatedResult) (domain.AiDecision, error)
}

// SnapshotRunner writes equity snapshots for all owners; *snapshots.Sampler
// satisfies it.
type SnapshotRunner interface {
	SnapshotAll(ctx context.Context) (int, error)
}

// Config holds server dependencies.
type Config struct {
	Port       int
	Log        zerolog.Logger
	Cache      *ratecache.Cache
	Store      *store.Store
	Agents     AgentRunner
	Sampler    SnapshotRunner
	LLMEnabled bool
	DevMode    bool
}

// Server is the HTTP surface.
type Server struct {
	router     *chi.Mux
	server     *http.Server
	log        zerolog.Logger
	cache      *ratecache.Cache
	store      *store.Store
	agents     AgentRunner
	sampler    SnapshotRunner
	llmEnabled bool
}

// New creates the HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		log:        cfg.Log.With().Str("component", "server").Logger(),
		cache:      cfg.Cache,
		store:      cfg.Store,
		agents:     cfg.Agents,
		sampler:    cfg.Sampler,
		llmEnabled: cfg.LLMEnabled,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/", s.handleRoot)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/funding", func(r chi.Router) {
			r.Get("/", s.handleFunding)
			r.Get("/history", s.handleFundingHistory)
			r.Get("/{asset}", s.handleFundingAsset)
		})

		r.Route("/paper", func(r chi.Router) {
			r.Get("/portfolios", s.handlePortfolios)
			r.Get("/portfolios/{id}", s.handlePortfolioDetail)
			r.Get("/leaderboard", s.handleLeaderboard)
			r.Get("/snapshots", s.handlePaperSnapshots)
		})

		r.Route("/ai", func(r chi.Router) {
			r.Get("/traders", s.handleTraders)
			r.Get("/traders/{name}", s.handleTraderDetail)
			r.Get("/snapshots", s.handleAiSnapshots)
			r.Post("/run/{name}", s.handleRunAgent)
		})

		r.Post("/internal/snapshot", s.handleSnapshotNow)
	})
}

// Start blocks serving requests until Shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router exposes the handler tree, used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request")
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
