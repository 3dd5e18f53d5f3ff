// Package app owns the application lifecycle. It wires the store, bus,
// exchange, manager, analyzer, archiver, and HTTP server together and
// runs them until the process is told to stop.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/botfleet/internal/analyzer"
	"github.com/alanyoungcy/botfleet/internal/config"
	"github.com/alanyoungcy/botfleet/internal/notify"
	"github.com/alanyoungcy/botfleet/internal/server"
	"github.com/alanyoungcy/botfleet/internal/server/handler"
	"github.com/alanyoungcy/botfleet/internal/server/ws"
	"github.com/alanyoungcy/botfleet/internal/service"
)

// shutdownTimeout bounds the HTTP drain and the fleet-wide worker stop.
const shutdownTimeout = 20 * time.Second

// App is the root application object.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the server and background loops, and
// blocks until the context is cancelled. Cleanup runs in reverse order on
// the way out.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting controller",
		slog.String("database", a.cfg.Database.Kind),
		slog.Bool("redis", a.cfg.Redis.Enabled),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	defer cleanup()

	agentSvc := service.NewAgentService(deps.Store, deps.Manager, a.logger)
	groupSvc := service.NewGroupService(deps.Store, a.logger)
	an := analyzer.New(deps.Store, deps.Bus, 5*time.Minute, a.logger)
	hub := ws.NewHub(deps.Bus, a.cfg.Server.CORSOrigins, a.logger)

	var senders []notify.Sender
	if a.cfg.Notify.TelegramToken != "" && a.cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(a.cfg.Notify.TelegramToken, a.cfg.Notify.TelegramChatID))
	}
	if a.cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(a.cfg.Notify.DiscordWebhookURL))
	}
	if err := notify.New(senders, a.cfg.Notify.Events, a.logger).Watch(deps.Bus); err != nil {
		return fmt.Errorf("app: notifier subscribe: %w", err)
	}

	srv := server.New(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, server.Handlers{
		Agents:   handler.NewAgentHandler(agentSvc, a.logger),
		Groups:   handler.NewGroupHandler(groupSvc, a.logger),
		Analysis: handler.NewAnalysisHandler(an, a.logger),
		Health:   handler.NewHealthHandler(deps.Store, deps.Bus, deps.Exchange, deps.Manager),
		Hub:      hub,
	}, a.logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)
	g.Go(func() error {
		if err := hub.Run(gctx); err != nil && gctx.Err() == nil {
			return fmt.Errorf("app: websocket hub: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		// Analyzer and archiver exit with context.Canceled on shutdown;
		// that is not a failure.
		if err := an.Run(gctx); err != nil && gctx.Err() == nil {
			return err
		}
		return nil
	})
	if deps.Archiver != nil {
		g.Go(func() error {
			if err := deps.Archiver.Run(gctx); err != nil && gctx.Err() == nil {
				return err
			}
			return nil
		})
	}

	// Drain everything once the context ends or a component fails.
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		deps.Manager.StopAll(shutdownCtx, shutdownTimeout)
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	a.logger.Info("controller stopped")
	return nil
}
