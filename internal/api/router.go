package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"croncat/internal/node"
	"croncat/internal/store"
)

// Server holds the HTTP server state.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	node       *node.Node
	logger     *slog.Logger
	authToken  string
	blocks     BlockHistory
}

// Options are the optional handlers mounted next to the API.
type Options struct {
	AuthToken string
	// MCP is served at /mcp behind the same token as /v1.
	MCP http.Handler
	// Metrics is served unauthenticated at /metrics.
	Metrics http.Handler
	// Blocks serves GET /v1/chain/blocks; nil without a sqlite store.
	Blocks BlockHistory
}

// BlockHistory lists produced blocks, newest first.
type BlockHistory interface {
	ListBlocks(ctx context.Context, limit, offset int) ([]*store.BlockRecord, error)
}

// NewServer constructs the HTTP API server.
func NewServer(addr string, n *node.Node, logger *slog.Logger, opts Options) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:    router,
		node:      n,
		logger:    logger,
		authToken: opts.AuthToken,
		blocks:    opts.Blocks,
	}
	s.registerRoutes(opts)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes(opts Options) {
	if opts.Metrics != nil {
		s.router.Handle("/metrics", opts.Metrics)
	}
	if opts.MCP != nil {
		var mcpHandler http.Handler = opts.MCP
		if s.authToken != "" {
			mcpHandler = AuthMiddleware(s.authToken)(mcpHandler)
		}
		s.router.Handle("/mcp", mcpHandler)
	}

	s.router.Route("/v1", func(r chi.Router) {
		if s.authToken != "" {
			r.Use(AuthMiddleware(s.authToken))
		}

		r.Post("/cron/preview", s.handleCronPreview)

		r.Route("/chain", func(r chi.Router) {
			r.Get("/block", s.handleBlock)
			r.Get("/blocks", s.handleListBlocks)
			r.Post("/blocks", s.handleAdvance)
			r.Get("/balances/{addr}", s.handleBalances)
		})

		r.Get("/contracts", s.handleListContracts)
		r.Route("/contracts/{name}", func(r chi.Router) {
			r.Post("/execute", s.handleExecute)
			r.Post("/query", s.handleQuery)
		})
	})
}
