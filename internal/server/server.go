// Package server is the HTTP and WebSocket surface a UI binds to: JSON reads
// of the live projections, the wallet connection flow, preferences, the
// Prometheus endpoint and a WebSocket feed of state changes.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/justersync/internal/server/handler"
	"github.com/alanyoungcy/justersync/internal/server/middleware"
	"github.com/alanyoungcy/justersync/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// AuthRateLimit bounds auth requests per client IP and AuthRateWindow.
	AuthRateLimit  int
	AuthRateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Changes and Limiter may be nil.
type Handlers struct {
	Health        *handler.HealthHandler
	Markets       *handler.MarketHandler
	History       *handler.HistoryHandler
	Events        *handler.EventHandler
	Pools         *handler.PoolHandler
	Account       *handler.AccountHandler
	Notifications *handler.NotificationHandler
	Prefs         *handler.PrefsHandler
	Auth          *handler.AuthHandler
	Changes       *handler.ChangesHandler
	Metrics       http.Handler
	Limiter       middleware.Limiter
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// publicPaths never require the operator API key.
var publicPaths = []string{"/api/health", "/metrics"}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth) and attaches the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "server"))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      Routes(cfg, handlers, wsHub, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Routes builds the routed and middleware-wrapped handler.
func Routes(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Markets and quotes.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{symbol}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{symbol}/quotes", handlers.Markets.ListQuotes)
	mux.HandleFunc("GET /api/markets/{symbol}/history", handlers.History.QuoteHistory)

	// Events.
	mux.HandleFunc("GET /api/events", handlers.Events.FilteredEvents)
	mux.HandleFunc("GET /api/events/top", handlers.Events.TopEvents)
	mux.HandleFunc("GET /api/events/active", handlers.Events.ActiveEvents)
	mux.HandleFunc("GET /api/events/{id}", handlers.Events.GetEvent)
	mux.HandleFunc("GET /api/events/{id}/participants", handlers.Events.EventParticipants)
	mux.HandleFunc("GET /api/events/{id}/tvl", handlers.Events.EventTVL)
	mux.HandleFunc("GET /api/events/{id}/bets", handlers.Events.EventBets)
	mux.HandleFunc("GET /api/events/{id}/deposits", handlers.Events.EventDeposits)

	// Liquidity pools.
	mux.HandleFunc("GET /api/pools", handlers.Pools.ListPools)
	mux.HandleFunc("GET /api/pools/lines", handlers.Pools.ListPoolLines)
	mux.HandleFunc("GET /api/pools/{address}/states", handlers.Pools.PoolStates)

	// Account and users.
	mux.HandleFunc("GET /api/account", handlers.Account.GetAccount)
	mux.HandleFunc("GET /api/users/{address}", handlers.Account.GetUser)
	mux.HandleFunc("GET /api/leaderboard", handlers.Account.Leaderboard)

	// Notifications.
	mux.HandleFunc("GET /api/notifications", handlers.Notifications.ListNotifications)
	mux.HandleFunc("DELETE /api/notifications/{id}", handlers.Notifications.DismissNotification)

	// Preferences.
	mux.HandleFunc("GET /api/flags", handlers.Prefs.GetFlags)
	mux.HandleFunc("PUT /api/flags/{name}", handlers.Prefs.UpdateFlag)
	mux.HandleFunc("GET /api/network", handlers.Prefs.GetNetwork)
	mux.HandleFunc("PUT /api/network", handlers.Prefs.SetNetwork)
	mux.HandleFunc("GET /api/onboarding", handlers.Prefs.GetOnboarding)
	mux.HandleFunc("POST /api/onboarding", handlers.Prefs.CompleteOnboarding)

	// Wallet connection, rate limited per client when a limiter is set.
	authRoute := func(h http.HandlerFunc) http.Handler {
		if handlers.Limiter == nil || cfg.AuthRateLimit <= 0 {
			return h
		}
		window := cfg.AuthRateWindow
		if window <= 0 {
			window = time.Minute
		}
		return middleware.RateLimit(handlers.Limiter, "auth", cfg.AuthRateLimit, window, logger)(h)
	}
	mux.Handle("GET /api/auth/payload", authRoute(handlers.Auth.GetPayload))
	mux.Handle("POST /api/auth/proof", authRoute(handlers.Auth.SubmitProof))
	mux.Handle("GET /api/auth/session", authRoute(handlers.Auth.GetSession))
	mux.Handle("POST /api/auth/logout", authRoute(handlers.Auth.Logout))

	if handlers.Changes != nil {
		mux.HandleFunc("GET /api/changes", handlers.Changes.ListChanges)
	}
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, publicPaths...)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(middleware.Origins(cfg.CORSOrigins))(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
