package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3archive "github.com/alanyoungcy/botfleet/internal/blob/s3"
	"github.com/alanyoungcy/botfleet/internal/bus/busmem"
	"github.com/alanyoungcy/botfleet/internal/bus/redisbus"
	"github.com/alanyoungcy/botfleet/internal/config"
	"github.com/alanyoungcy/botfleet/internal/domain"
	"github.com/alanyoungcy/botfleet/internal/exchange/binance"
	"github.com/alanyoungcy/botfleet/internal/manager"
	"github.com/alanyoungcy/botfleet/internal/store/postgres"
	"github.com/alanyoungcy/botfleet/internal/store/sqlite"
)

// Dependencies bundles the long-lived components the application runs.
// Wire constructs them; the returned cleanup tears them down in reverse
// order.
type Dependencies struct {
	Store    domain.Store
	Bus      domain.Bus
	Exchange domain.Exchange
	Manager  *manager.Manager
	Archiver *s3archive.Archiver
}

// Wire builds the dependency graph from the configuration.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// Persistence.
	switch cfg.Database.Kind {
	case "postgres":
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:           cfg.Database.DSN,
			Host:          cfg.Database.Host,
			Port:          cfg.Database.Port,
			Database:      cfg.Database.Database,
			User:          cfg.Database.User,
			Password:      cfg.Database.Password,
			SSLMode:       cfg.Database.SSLMode,
			MaxConns:      cfg.Database.PoolMaxConns,
			MinConns:      cfg.Database.PoolMinConns,
			RunMigrations: cfg.Database.RunMigrations,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		deps.Store = pg
	default:
		db, err := sqlite.New(cfg.Database.Path)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: sqlite: %w", err)
		}
		deps.Store = db
	}
	closers = append(closers, func() { _ = deps.Store.Close() })

	// Coordination bus. Redis when enabled, otherwise an in-process
	// loopback so single-node deployments need no broker.
	if cfg.Redis.Enabled {
		bus, err := redisbus.New(ctx, redisbus.Config{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
		}, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis bus: %w", err)
		}
		deps.Bus = bus
	} else {
		deps.Bus = busmem.New()
	}
	closers = append(closers, func() { _ = deps.Bus.Close() })

	deps.Exchange = binance.New(binance.Config{
		APIKey:    cfg.Exchange.APIKey,
		SecretKey: cfg.Exchange.SecretKey,
		BaseURL:   cfg.Exchange.BaseURL,
		Testnet:   cfg.Exchange.Testnet,
	})

	deps.Manager = manager.New(deps.Store, deps.Exchange, deps.Bus, logger)

	if cfg.Archive.Enabled {
		client, err := s3archive.NewClient(ctx, s3archive.ClientConfig{
			Endpoint:       cfg.Archive.Endpoint,
			Region:         cfg.Archive.Region,
			Bucket:         cfg.Archive.Bucket,
			AccessKey:      cfg.Archive.AccessKey,
			SecretKey:      cfg.Archive.SecretKey,
			UseSSL:         cfg.Archive.UseSSL,
			ForcePathStyle: cfg.Archive.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3 archive: %w", err)
		}
		deps.Archiver = s3archive.NewArchiver(
			client,
			deps.Store,
			time.Duration(cfg.Archive.RetentionDays)*24*time.Hour,
			time.Duration(cfg.Archive.IntervalHours)*time.Hour,
			logger,
		)
	}

	return deps, cleanup, nil
}
