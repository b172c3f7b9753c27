package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/poolregistry/internal/server"
	"github.com/alanyoungcy/poolregistry/internal/server/handler"
	"github.com/alanyoungcy/poolregistry/internal/server/middleware"
	"github.com/alanyoungcy/poolregistry/internal/server/ws"
	"github.com/alanyoungcy/poolregistry/internal/snapshot"
)

// serve runs the HTTP server plus whichever background workers the wired
// backends allow, and shuts the server down gracefully on cancellation.
func (a *App) serve(ctx context.Context, deps *Dependencies) error {
	trusted, err := middleware.ParseTrustedProxies(a.cfg.Server.RateLimit.TrustedProxies)
	if err != nil {
		return fmt.Errorf("app: rate limit: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Pools:  handler.NewPoolHandler(deps.Pools, a.logger),
	}
	if deps.AuditStore != nil {
		handlers.Audit = handler.NewAuditHandler(deps.AuditStore, a.logger)
	}
	snapshotPrefix := snapshot.ResolvePrefix(a.cfg.Snapshot.Prefix)
	if deps.BlobReader != nil {
		handlers.Snapshots = handler.NewSnapshotHandler(deps.BlobReader, snapshotPrefix, a.logger)
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		handlers.Events = handler.NewEventsHandler(deps.Pools, a.logger)
		hub = ws.NewHub(deps.SignalBus, ws.Config{AllowedOrigins: a.cfg.Server.CORSOrigins}, a.logger)
		g.Go(func() error { return hub.Run(ctx) })
	}

	srvCfg := server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		APIKeyHash:  a.cfg.Server.APIKeyHash,
	}
	if a.cfg.Server.RateLimit.Enabled && deps.RateLimiter != nil {
		srvCfg.RateLimit = deps.RateLimiter
		srvCfg.TrustedProxies = trusted
		srvCfg.RateLimitRequests = a.cfg.Server.RateLimit.Requests
		srvCfg.RateLimitWindow = a.cfg.Server.RateLimit.Window.Duration
	}
	srv := server.NewServer(srvCfg, handlers, hub, deps.Metrics, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	if a.cfg.Snapshot.Enabled && deps.BlobWriter != nil {
		archiver := snapshot.NewArchiver(deps.Pools, deps.BlobWriter, deps.LockManager, deps.AuditStore, snapshot.Config{
			Interval: a.cfg.Snapshot.Interval.Duration,
			Prefix:   snapshotPrefix,
			LockTTL:  a.cfg.Snapshot.LockTTL.Duration,
		}, a.logger)
		a.logger.InfoContext(ctx, "snapshot archiver enabled",
			slog.Duration("interval", a.cfg.Snapshot.Interval.Duration),
			slog.String("prefix", snapshotPrefix),
		)
		g.Go(func() error { return archiver.Run(ctx) })
	}

	start := time.Now()
	err = g.Wait()
	a.logger.Info("application stopped", slog.Duration("uptime", time.Since(start)))
	return err
}
