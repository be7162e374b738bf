package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/justersync/internal/cache/redis"
	"github.com/alanyoungcy/justersync/internal/server"
	"github.com/alanyoungcy/justersync/internal/server/handler"
	"github.com/alanyoungcy/justersync/internal/server/middleware"
	"github.com/alanyoungcy/justersync/internal/server/ws"
	"github.com/alanyoungcy/justersync/internal/state"
)

// SyncMode keeps the projections live without an HTTP surface. State changes
// still reach Redis, so a separate serve process or any other subscriber can
// follow them.
func (a *App) SyncMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sync mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startLiveSync(ctx, g, deps)
	return g.Wait()
}

// ServeMode runs live sync together with the HTTP API and the WebSocket hub.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startLiveSync(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// startLiveSync starts the change bridge, the quote cache writer and the
// quote archives, loads the markets, opens the event views and restores the
// session. View start-up problems are logged; the views keep running with
// whatever they could seed.
func (a *App) startLiveSync(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		return deps.Bridge.Run(ctx)
	})
	g.Go(func() error {
		return deps.QuoteCache.Run(ctx)
	})
	if deps.Recorder != nil {
		g.Go(func() error {
			return deps.Recorder.Run(ctx)
		})
	}
	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.Run(ctx)
		})
	}

	if err := deps.Syncer.SetupMarkets(ctx); err != nil {
		a.logger.WarnContext(ctx, "live sync: markets", slog.String("error", err.Error()))
	}
	if err := deps.Syncer.SetupEvents(ctx); err != nil {
		a.logger.WarnContext(ctx, "live sync: events", slog.String("error", err.Error()))
	}
	if err := deps.Session.Restore(ctx); err != nil {
		a.logger.WarnContext(ctx, "live sync: restore session", slog.String("error", err.Error()))
	}

	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("live sync stopping")
		return nil
	})
}

// startHTTPServer adds the HTTP server and the WebSocket hub to the given
// errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	logger := a.logger
	markets := deps.Syncer.Markets()

	hub := ws.NewHub(deps.SignalBus, stateSnapshot(deps.Store), deps.Metrics, logger, ws.Config{
		Channel:     redis.ChangeChannel(deps.Redis, ""),
		Mode:        a.cfg.Mode,
		Network:     string(deps.Network),
		StartedAt:   time.Now().UTC(),
		CheckOrigin: middleware.Origins(a.cfg.Server.CORSOrigins).CheckOrigin,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	checks := map[string]handler.Pinger{"redis": deps.Redis}
	var archive handler.QuoteArchive
	if deps.Postgres != nil {
		checks["postgres"] = deps.Postgres
		archive = deps.Quotes
	}
	if deps.S3 != nil {
		checks["s3"] = deps.S3
	}

	handlers := server.Handlers{
		Health:        handler.NewHealthHandler(checks, string(deps.Network), a.cfg.Mode, logger),
		Markets:       handler.NewMarketHandler(markets, deps.QuoteCache, logger),
		History:       handler.NewHistoryHandler(archive, logger),
		Events:        handler.NewEventHandler(markets, deps.Syncer.Filtered, deps.Gateway, logger),
		Pools:         handler.NewPoolHandler(deps.Gateway, logger),
		Account:       handler.NewAccountHandler(deps.Syncer.Account(), markets, deps.Gateway, logger),
		Notifications: handler.NewNotificationHandler(deps.Notifications, logger),
		Prefs:         handler.NewPrefsHandler(deps.Prefs, deps.Network, logger),
		Auth:          handler.NewAuthHandler(deps.Session, deps.Wallet, logger),
		Changes:       handler.NewChangesHandler(deps.Bridge, logger),
		Metrics:       deps.Metrics.Handler(),
		Limiter:       deps.RateLimiter,
	}

	srv := server.NewServer(server.Config{
		Port:           a.cfg.Server.Port,
		CORSOrigins:    a.cfg.Server.CORSOrigins,
		APIKey:         a.cfg.Server.APIKey,
		AuthRateLimit:  a.cfg.Server.AuthRateLimit,
		AuthRateWindow: a.cfg.Server.AuthRateWindow.Duration,
	}, handlers, hub, logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// stateSnapshot reads the current contents of a state key: the rows of a
// collection or the fields of a scalar record.
func stateSnapshot(store *state.Store) ws.Snapshot {
	return func(key string) (any, bool) {
		k := state.Key(key)
		if rows := store.Collection(k); rows != nil {
			return rows, true
		}
		if rec := store.Scalar(k); rec != nil {
			return rec, true
		}
		return nil, false
	}
}
