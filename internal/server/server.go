// Package server assembles the HTTP API: routes, middleware and the
// WebSocket endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/poolregistry/internal/domain"
	"github.com/alanyoungcy/poolregistry/internal/server/handler"
	"github.com/alanyoungcy/poolregistry/internal/server/middleware"
	"github.com/alanyoungcy/poolregistry/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // with APIKeyHash empty too, authentication is disabled
	APIKeyHash  string

	// RateLimit, when non-nil, limits each client IP to RateLimitRequests per
	// RateLimitWindow. Forwarding headers count only from TrustedProxies.
	RateLimit         domain.RateLimiter
	RateLimitRequests int
	RateLimitWindow   time.Duration
	TrustedProxies    []netip.Prefix
}

// Handlers aggregates the HTTP handlers the server registers. Nil optional
// handlers leave their routes unregistered.
type Handlers struct {
	Health    *handler.HealthHandler
	Pools     *handler.PoolHandler
	Audit     *handler.AuditHandler    // optional, needs Postgres
	Snapshots *handler.SnapshotHandler // optional, needs S3
	Events    *handler.EventsHandler   // optional, needs Redis
}

// publicPaths skip authentication.
var publicPaths = []string{"/", "/health", "/metrics"}

// Server is the HTTP + WebSocket API server for the pool registry.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. wsHub and gatherer
// may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	h := NewHandler(cfg, handlers, wsHub, gatherer, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", handlers.Health.Root)
	mux.HandleFunc("GET /health", handlers.Health.HealthCheck)

	// Pool routes. Collection routes answer with and without the trailing
	// slash; {$} keeps "/pools/" from matching every sub-path.
	p := handlers.Pools
	handleBoth(mux, "POST /pools", p.CreatePool)
	handleBoth(mux, "GET /pools", p.ListPools)
	mux.HandleFunc("GET /pools/{pool_id}", p.GetPool)
	mux.HandleFunc("DELETE /pools/{pool_id}", p.DeletePool)
	handleBoth(mux, "POST /pools/{pool_id}/collaterals", p.AddCollateral)
	handleBoth(mux, "GET /pools/{pool_id}/collaterals", p.ListCollaterals)
	mux.HandleFunc("PUT /pools/{pool_id}/status", p.SetPoolStatus)

	if handlers.Audit != nil {
		mux.HandleFunc("GET /audit", handlers.Audit.ListAudit)
	}
	if handlers.Snapshots != nil {
		mux.HandleFunc("GET /snapshots", handlers.Snapshots.ListSnapshots)
		mux.HandleFunc("GET /snapshots/{key...}", handlers.Snapshots.GetSnapshot)
	}
	if handlers.Events != nil {
		mux.HandleFunc("GET /events", handlers.Events.ListEvents)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	var h http.Handler = mux

	if cfg.RateLimit != nil {
		h = middleware.RateLimit(cfg.RateLimit, cfg.RateLimitRequests, cfg.RateLimitWindow, cfg.TrustedProxies, logger)(h)
	}
	h = middleware.Auth(middleware.AuthConfig{
		APIKey:      cfg.APIKey,
		APIKeyHash:  cfg.APIKeyHash,
		PublicPaths: publicPaths,
	})(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// handleBoth registers pattern and pattern + "/" for the same handler.
func handleBoth(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	mux.HandleFunc(pattern, fn)
	mux.HandleFunc(pattern+"/{$}", fn)
}

// Start listens on the configured port and blocks until the server fails or
// is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until the server is shut down.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("server: starting", slog.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
