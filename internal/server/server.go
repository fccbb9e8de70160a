// Package server is the HTTP surface: the feed, interactions, pinned
// events, tag proposals and the admin ingest trigger.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"pulse/internal/config"
	"pulse/internal/feed"
	"pulse/internal/ingest"
	"pulse/internal/interactions"
	"pulse/internal/logger"
	"pulse/internal/store"
)

// Deps carries the services the HTTP layer fronts. Ingest is optional:
// deployments that run ingestion purely from the CLI leave it nil and the
// admin trigger answers 503.
type Deps struct {
	Store        *store.Store
	Feed         *feed.Service
	Interactions *interactions.Service
	Ingest       *ingest.Runner
	DisplayLoc   *time.Location
	LLMReady     bool
}

// Server represents the HTTP server.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	deps       Deps
	config     config.Server
	log        *slog.Logger
}

// New creates a new HTTP server instance.
func New(deps Deps, cfg config.Server) *Server {
	if deps.DisplayLoc == nil {
		deps.DisplayLoc = time.UTC
	}
	s := &Server{
		router: chi.NewRouter(),
		deps:   deps,
		config: cfg,
		log:    logger.Get(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.config.CORS.Enabled {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.config.CORS.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-API-Key", "X-Request-ID", "x-user-id"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	s.router.Use(s.requireAPIKey)
}

func (s *Server) setupRoutes() {
	s.router.Get("/status", s.handleStatus)
	s.router.Get("/feed", s.handleFeed)

	s.router.Post("/interactions", s.handleInteraction)
	s.router.Post("/interactions/batch", s.handleInteractionBatch)

	s.router.Route("/users/{userId}/pinned-events", func(r chi.Router) {
		r.Use(s.requireMatchingUser)
		r.Get("/", s.handleGetPinnedEvents)
		r.Post("/", s.handleSetPin)
	})

	s.router.Get("/tag-proposals", s.handleTagProposals)
	s.router.Post("/admin/ingest", s.handleIngestTrigger)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start runs the server until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.log.Info("Shutting down HTTP server")
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
