package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/payflow/pkg/config"
	"github.com/angelmondragon/payflow/pkg/db"
	"github.com/angelmondragon/payflow/pkg/logger"
	"github.com/angelmondragon/payflow/pkg/migrate"
	"github.com/angelmondragon/payflow/pkg/outbox"
	"github.com/angelmondragon/payflow/pkg/outbox/registry"
	"github.com/angelmondragon/payflow/pkg/pubsub"
)

const serviceName = "outbox-publisher"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Options{ServiceName: serviceName}).Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg := logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "topic": cfg.PubSub.OrdersTopic})

	if err := run(ctx, cfg, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox publisher stopped", err)
		os.Exit(1)
	}
	logg.Info(ctx, "outbox publisher stopped")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	routes, err := registry.NewRoutes(cfg.PubSub)
	if err != nil {
		return fmt.Errorf("routes: %w", err)
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer dbClient.Close()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	out, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}
	defer out.Close()
	if err := out.Ping(ctx); err != nil {
		return fmt.Errorf("orders topic: %w", err)
	}

	relay, err := NewRelay(RelayDeps{
		DB:     dbClient,
		Rows:   outbox.NewRepository(dbClient.DB()),
		DLQ:    outbox.NewDeadLetters(dbClient.DB()),
		Routes: routes,
		Out:    out,
		Logger: logg,
		Config: cfg.Outbox,
	})
	if err != nil {
		return err
	}

	logg.Info(ctx, "relaying order events")
	return relay.Run(ctx)
}
