// Package server assembles the HTTP + WebSocket API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wagerlab/escrowd/internal/crypto"
	"github.com/wagerlab/escrowd/internal/domain"
	"github.com/wagerlab/escrowd/internal/server/handler"
	"github.com/wagerlab/escrowd/internal/server/middleware"
	"github.com/wagerlab/escrowd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	APIKey          string            // if empty, API authentication is disabled
	AdminAuth       *crypto.HMACAuth  // if nil, admin authentication is disabled
	RateLimiter     domain.RateLimiter // if nil, rate limiting is disabled
	RateLimitPerMin int
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health      *handler.HealthHandler
	Bets        *handler.BetHandler
	Arbitration *handler.ArbitrationHandler
	Admin       *handler.AdminHandler
}

// Server is the HTTP + WebSocket API server for the escrow protocol.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the
// ServeMux. It wires up middleware (logging, CORS, auth, rate limiting)
// and attaches the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Bet lifecycle endpoints.
	mux.HandleFunc("POST /api/bets", handlers.Bets.CreateBet)
	mux.HandleFunc("GET /api/bets", handlers.Bets.ListBets)
	mux.HandleFunc("GET /api/bets/{number}", handlers.Bets.GetBet)
	mux.HandleFunc("PATCH /api/bets/{number}", handlers.Bets.ChangeBet)
	mux.HandleFunc("POST /api/bets/{number}/accept", handlers.Bets.AcceptBet)
	mux.HandleFunc("POST /api/bets/{number}/cancel", handlers.Bets.CancelBet)
	mux.HandleFunc("POST /api/bets/{number}/no-arbiter-cancel", handlers.Bets.NoArbiterCancel)
	mux.HandleFunc("POST /api/bets/{number}/forfeit", handlers.Bets.ForfeitBet)
	mux.HandleFunc("POST /api/bets/{number}/emergency-cancel", handlers.Bets.EmergencyCancel)
	mux.HandleFunc("POST /api/bets/{number}/claim", handlers.Bets.ClaimBet)
	mux.HandleFunc("GET /api/bets/{number}/custody", handlers.Bets.Custody)

	// Arbitration endpoints.
	mux.HandleFunc("POST /api/bets/{number}/arbiter/accept", handlers.Arbitration.AcceptRole)
	mux.HandleFunc("POST /api/bets/{number}/arbiter/select-winner", handlers.Arbitration.SelectWinner)
	mux.HandleFunc("GET /api/arbiters/allowlist", handlers.Arbitration.ListAllowlist)

	// Admin endpoints sit behind the HMAC middleware in addition to the
	// identity gate inside the services.
	admin := http.NewServeMux()
	admin.HandleFunc("GET /api/admin/config", handlers.Admin.GetConfig)
	admin.HandleFunc("PUT /api/admin/config", handlers.Admin.UpdateConfig)
	admin.HandleFunc("GET /api/admin/stats", handlers.Admin.Stats)
	admin.HandleFunc("POST /api/admin/pause", handlers.Admin.Pause)
	admin.HandleFunc("POST /api/admin/unpause", handlers.Admin.Unpause)
	admin.HandleFunc("POST /api/admin/allowlist", handlers.Admin.AllowlistAdd)
	admin.HandleFunc("DELETE /api/admin/allowlist", handlers.Admin.AllowlistRemove)
	mux.Handle("/api/admin/", middleware.AdminHMAC(cfg.AdminAuth)(admin))

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	if cfg.RateLimiter != nil && cfg.RateLimitPerMin > 0 {
		h = middleware.RateLimit(cfg.RateLimiter, cfg.RateLimitPerMin, time.Minute)(h)
	}
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight
// requests to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
