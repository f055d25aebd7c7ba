package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/migrate"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/registry"
	"github.com/angelmondragon/storefront-backend/pkg/pubsub"
)

const serviceName = "outbox-publisher"

func main() {
	boot := logger.New(logger.Options{ServiceName: serviceName})
	if err := godotenv.Load(); err != nil {
		boot.Warn(context.Background(), ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	if err != nil {
		boot.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceName

	logg := logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Console:     cfg.App.ConsoleLogs(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "service_kind": serviceName})

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "outbox publisher stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "outbox publisher shut down")
}

// run wires the relay and blocks until ctx is cancelled. Every resource it
// opens is closed on the way out and close failures are returned with the
// run error.
func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) (err error) {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(dbClient))

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	routes, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		return fmt.Errorf("event registry: %w", err)
	}
	ps, err := pubsub.NewClient(ctx, cfg.GCP, routes.Topics(), logg)
	if err != nil {
		return fmt.Errorf("bootstrap pubsub: %w", err)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(ps))

	topics := newGCPTopics(ps)
	defer topics.Stop()

	relay, err := NewRelay(RelayParams{
		Config:      cfg.Outbox,
		Logger:      logg,
		DB:          dbClient,
		Rows:        outbox.NewRepository(dbClient.DB()),
		DeadLetters: outbox.NewDeadLetters(dbClient.DB()),
		Registry:    routes,
		Topics:      topics,
		Metrics:     metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return err
	}

	go func() {
		if err := metrics.ServeWorker(ctx, cfg.Service.MetricsAddr, prometheus.DefaultGatherer, logg); err != nil {
			logg.Error(ctx, "worker metrics server failed", err)
		}
	}()

	logg.Info(ctx, "starting outbox publisher")
	if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
