package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	apiserver "github.com/qiita/qiita-ware/internal/api_server"
	"github.com/qiita/qiita-ware/internal/capability"
	"github.com/qiita/qiita-ware/internal/config"
	"github.com/qiita/qiita-ware/internal/events"
	"github.com/qiita/qiita-ware/internal/service"
	"github.com/qiita/qiita-ware/internal/store"
	"github.com/qiita/qiita-ware/internal/worker"
	"github.com/qiita/qiita-ware/pkg/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the qiita-ware api",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return err
		}

		_, done := initLogger(cfg)
		defer done()

		zap.S().Info("Starting API service")
		defer zap.S().Info("API service stopped")

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		s, err := newStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		var pgPool *pgxpool.Pool
		if cfg.Database.Type == "pgsql" {
			pgPool, err = pgxpool.New(ctx, store.DSN(cfg))
			if err != nil {
				return fmt.Errorf("creating pgx pool: %w", err)
			}
			defer pgPool.Close()
		}

		transport, err := newTransport(cfg, s, pgPool)
		if err != nil {
			return err
		}
		bus := events.NewBus(transport)
		defer bus.Close()

		registry := capability.NewDefaultRegistry(cfg.Switchboard.ResultsDir)

		var switchboard *service.Switchboard
		pool, stopPool, err := newPool(cfg, registry, pgPool, func(task worker.Task, outcome worker.Outcome) {
			switchboard.HandleOrphanOutcome(task, outcome)
		})
		if err != nil {
			return err
		}

		switchboard = service.NewSwitchboard(s, bus, pool, registry, cfg)
		defer func() {
			switchboard.Close()
			stopPool()
		}()

		// river may hand back outcomes of a previous run as soon as it starts
		if rp, ok := pool.(*worker.RiverPool); ok {
			if err := rp.Start(ctx); err != nil {
				return fmt.Errorf("starting river pool: %w", err)
			}
		}

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			switchboard.RunSweeper(gctx, cfg.Switchboard.SweepInterval)
			return nil
		})

		g.Go(func() error {
			listener, err := newListener(cfg.Service.Address)
			if err != nil {
				return fmt.Errorf("creating listener: %w", err)
			}
			return apiserver.New(cfg, switchboard, bus, listener).Run(gctx)
		})

		g.Go(func() error {
			listener, err := newListener(cfg.Service.MetricsAddress)
			if err != nil {
				return fmt.Errorf("creating listener: %w", err)
			}
			return apiserver.NewMetricServer(cfg.Service.MetricsAddress, listener, metrics.NewAnalysisCollector(s)).Run(gctx)
		})

		if err := g.Wait(); err != nil {
			zap.S().Errorw("server failed", "error", err)
			return err
		}
		return nil
	},
}

func newStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Database.Type == "memory" {
		zap.S().Info("Using the in-memory data store")
		return store.NewMemoryStore(), nil
	}

	zap.S().Info("Initializing data store")
	db, err := store.InitDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing data store: %w", err)
	}

	s := store.NewStore(db)
	if cfg.Database.Type != "pgsql" {
		if err := s.InitialMigration(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("running initial migration: %w", err)
		}
	}
	return s, nil
}

func newTransport(cfg *config.Config, s store.Store, pgPool *pgxpool.Pool) (events.Transport, error) {
	switch cfg.Notification.Transport {
	case "memory":
		return events.NewLocalTransport(s), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Notification.RedisAddress,
			Password: cfg.Notification.RedisPassword,
			DB:       cfg.Notification.RedisDB,
		})
		return events.NewRedisTransport(client), nil
	case "postgres":
		if pgPool == nil {
			return nil, fmt.Errorf("postgres notifications need a pgsql database")
		}
		return events.NewPostgresTransport(s, pgPool), nil
	default:
		return nil, fmt.Errorf("unknown notification transport %q", cfg.Notification.Transport)
	}
}

func newPool(cfg *config.Config, runner worker.Runner, pgPool *pgxpool.Pool, fallback worker.OutcomeHandler) (worker.Pool, func(), error) {
	switch cfg.Worker.Pool {
	case "local":
		p := worker.NewLocalPool(runner, cfg.Worker.Concurrency, cfg.Worker.QueueSize)
		return p, func() { _ = p.Close() }, nil
	case "river":
		if pgPool == nil {
			return nil, nil, fmt.Errorf("river pool needs a pgsql database")
		}
		p, err := worker.NewRiverPool(pgPool, runner, cfg.Worker.Concurrency, cfg.Switchboard.JobTimeout, fallback)
		if err != nil {
			return nil, nil, fmt.Errorf("creating river pool: %w", err)
		}
		return p, func() {
			if err := p.Stop(context.Background()); err != nil {
				zap.S().Named("river_pool").Warnw("failed to stop", "error", err)
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown worker pool %q", cfg.Worker.Pool)
	}
}

func newListener(address string) (net.Listener, error) {
	if address == "" {
		address = "localhost:0"
	}
	return net.Listen("tcp", address)
}
