package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nftfolio/listingd/internal/config"
	"github.com/nftfolio/listingd/internal/server"
	"github.com/nftfolio/listingd/internal/server/handler"
	"github.com/nftfolio/listingd/internal/server/ws"
)

// App is the top-level application container. It wires dependencies, starts
// the HTTP server and background loops, and tears everything down on exit.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	deps    *Dependencies
	cleanup func()
}

// New wires all dependencies and returns a ready-to-run application.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	deps, cleanup, err := Wire(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &App{
		cfg:     cfg,
		logger:  logger,
		deps:    deps,
		cleanup: cleanup,
	}, nil
}

// Run starts the HTTP server and background loops and blocks until the
// context is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(a.deps.SignalBus, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		handlers := server.Handlers{
			Health: handler.NewHealthHandler(a.logger),
			Portfolio: handler.NewPortfolioHandler(
				a.deps.Moralis,
				a.deps.PortfolioCache,
				a.logger,
			),
			Listings: handler.NewListingsHandler(
				a.deps.Manager,
				a.deps.NFTGo,
				a.deps.ListingCache,
				a.logger,
			),
			Workflows: handler.NewWorkflowsHandler(
				a.deps.WorkflowStore,
				a.deps.SignalBus,
				a.logger,
			),
		}
		srv := server.NewServer(server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
			RateLimit:   a.cfg.Server.RateLimit,
			RateWindow:  a.cfg.Server.RateWindow.Duration,
		}, handlers, hub, a.deps.RateLimiter, a.logger)

		g.Go(func() error {
			a.logger.Info("http server starting", "port", a.cfg.Server.Port)
			return srv.Start()
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if a.cfg.Archive.Enabled && a.deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiveLoop(ctx)
		})
	}

	g.Go(func() error {
		return a.runSessionReaper(ctx)
	})

	a.logger.Info("application started")
	return g.Wait()
}

// runArchiveLoop periodically exports settled workflows older than the
// retention window to blob storage and removes them from the primary store.
func (a *App) runArchiveLoop(ctx context.Context) error {
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
			n, err := a.deps.Archiver.ArchiveSettled(ctx, cutoff)
			if err != nil {
				a.logger.Error("workflow archival failed", "error", err)
				continue
			}
			if n > 0 {
				a.logger.Info("archived settled workflows", "count", n, "cutoff", cutoff)
			}
		}
	}
}

// runSessionReaper periodically closes idle wallet sessions.
func (a *App) runSessionReaper(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.deps.Manager.Reap()
		}
	}
}

// Close releases all application resources.
func (a *App) Close() error {
	if a.cleanup != nil {
		a.cleanup()
	}
	a.logger.Info("application stopped")
	return nil
}
