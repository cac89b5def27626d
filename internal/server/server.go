// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer: it connects handlers, middleware and
// routes, and decides how the process serves MCP (streamable HTTP or stdio)
// and how it stops.
//
// DEPENDENCY INJECTION FLOW:
// main.go creates:
//
//	Launcher → executor.Pool ─┐
//	sqlite.DB (optional) ─────┼→ service.ExecutionService → Server
//	auth.TokenService (optional)
//
// Server.New builds the handlers and the MCP server on top of the service.
// This is the "composition root" pattern: all dependencies are wired in one
// place rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/python-sandbox/internal/auth"
	"github.com/sakif/python-sandbox/internal/handler"
	"github.com/sakif/python-sandbox/internal/middleware"
)

// Config holds server configuration.
type Config struct {
	Port int
	// Version is reported to MCP clients during initialization.
	Version string
	// WriteTimeout must outlast the longest execution a client may request.
	WriteTimeout time.Duration
	// ShutdownTimeout bounds how long in-flight requests get on shutdown.
	ShutdownTimeout time.Duration
}

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns whatever main registers with AddCloser (the execution
// pool, the history database). They are closed once serving has stopped,
// newest first, so nothing is torn down under an in-flight request.
type Server struct {
	router  *chi.Mux
	mcp     *mcp.Server
	config  Config
	logger  *slog.Logger
	svc     handler.ExecutionService
	tokens  *auth.TokenService
	closers []closer
}

type closer struct {
	name string
	fn   func() error
}

// New creates a new Server. tokens may be nil, which disables
// authentication.
func New(cfg Config, svc handler.ExecutionService, tokens *auth.TokenService, logger *slog.Logger) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &Server{
		router: chi.NewRouter(),
		mcp:    handler.NewMCPServer(svc, cfg.Version, logger),
		config: cfg,
		logger: logger,
		svc:    svc,
		tokens: tokens,
	}
	s.setupRoutes()
	return s
}

// AddCloser registers a resource to release when the server stops.
func (s *Server) AddCloser(name string, fn func() error) {
	s.closers = append(s.closers, closer{name: name, fn: fn})
}

// Handler returns the root HTTP handler. Tests drive it with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /healthz               → liveness probe
// GET    /metrics               → Prometheus metrics
// *      /mcp                   → MCP streamable HTTP (python_execute)   [auth]
// POST   /api/execute           → python_execute as plain JSON           [auth]
// GET    /api/executions        → recent execution history              [auth]
// GET    /api/executions/{id}   → one execution record                  [auth]
// GET    /api/whoami            → which client the token belongs to     [auth]
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: assigns unique ID to each request (for tracing)
// 2. RealIP: extracts real client IP from proxy headers
// 3. Recoverer: catches panics and returns 500 instead of crashing
// 4. Logger: logs each request with timing info
func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	s.router.Handle("/metrics", promhttp.Handler())

	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcp
	}, nil)

	executeHandler := handler.NewExecuteHandler(s.svc, s.logger)
	historyHandler := handler.NewHistoryHandler(s.svc, s.logger)

	s.router.Group(func(r chi.Router) {
		r.Use(auth.RequireBearer(s.tokens))

		r.Handle("/mcp", mcpHandler)

		r.Route("/api", func(r chi.Router) {
			r.Post("/execute", executeHandler.HandleExecute)
			r.Get("/executions", historyHandler.HandleList)
			r.Get("/executions/{id}", historyHandler.HandleGet)
			r.Get("/whoami", handler.HandleWhoAmI)
		})
	})
}

// Start serves HTTP until ctx is cancelled, a SIGINT/SIGTERM arrives or the
// listener fails, then shuts down gracefully:
//  1. Stop accepting new connections
//  2. Wait for in-flight requests (ShutdownTimeout)
//  3. Release registered resources (pool, database)
func (s *Server) Start(ctx context.Context) error {
	defer s.close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("mcp", fmt.Sprintf("http://localhost:%d/mcp", s.config.Port)),
			slog.Bool("auth", s.tokens != nil),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

	case <-ctx.Done():
		s.logger.Info("shutdown requested")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	s.logger.Info("server stopped gracefully")
	return nil
}

// RunStdio serves MCP over stdin/stdout until the client disconnects or ctx
// is cancelled. Logs must go to stderr in this mode; stdout is the protocol.
func (s *Server) RunStdio(ctx context.Context) error {
	defer s.close()

	s.logger.Info("serving MCP over stdio")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stdio transport: %w", err)
	}
	return nil
}

// close releases registered resources, newest first.
func (s *Server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		c := s.closers[i]
		if err := c.fn(); err != nil {
			s.logger.Error("failed to close resource",
				slog.String("resource", c.name),
				slog.String("error", err.Error()),
			)
		}
	}
	s.closers = nil
}
