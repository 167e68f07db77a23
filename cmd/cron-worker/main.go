// Command cron-worker sweeps pending orders against the payment processor
// and prunes relayed outbox rows. One replica per environment works a cycle.
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

	"github.com/angelmondragon/payflow/internal/broker"
	"github.com/angelmondragon/payflow/internal/cron"
	"github.com/angelmondragon/payflow/internal/orders"
	"github.com/angelmondragon/payflow/internal/reconcile"
	"github.com/angelmondragon/payflow/pkg/config"
	"github.com/angelmondragon/payflow/pkg/db"
	"github.com/angelmondragon/payflow/pkg/instance"
	"github.com/angelmondragon/payflow/pkg/logger"
	"github.com/angelmondragon/payflow/pkg/metrics"
	"github.com/angelmondragon/payflow/pkg/migrate"
	"github.com/angelmondragon/payflow/pkg/outbox"
	"github.com/angelmondragon/payflow/pkg/redis"
	pkgstripe "github.com/angelmondragon/payflow/pkg/stripe"
)

const serviceName = "cron-worker"

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
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "instance": instance.GetID()})

	if err := run(ctx, cfg, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped", err)
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker stopped")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer dbClient.Close()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer redisClient.Close()

	stripeClient, err := pkgstripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return fmt.Errorf("stripe: %w", err)
	}
	paymentBroker, err := broker.NewStripeBroker(stripeClient, logg)
	if err != nil {
		return err
	}

	orderRepo := orders.NewRepository(dbClient.DB())
	outboxRepo := outbox.NewRepository(dbClient.DB())
	engine, err := reconcile.NewEngine(reconcile.Deps{
		Tx:      dbClient,
		Orders:  orderRepo,
		Broker:  paymentBroker,
		Outbox:  outbox.NewService(outboxRepo, logg),
		Metrics: metrics.NewReconcileMetrics(prometheus.DefaultRegisterer),
		Logger:  logg,
	})
	if err != nil {
		return err
	}

	sweep, err := cron.NewPaymentSweepJob(cron.PaymentSweepJobParams{
		Logger:     logg,
		Orders:     orderRepo,
		Reconciler: engine,
		BatchSize:  cfg.Sweep.BatchSize,
	})
	if err != nil {
		return err
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:    logg,
		Outbox:    outboxRepo,
		Retention: cfg.Outbox.RetentionDays,
	})
	if err != nil {
		return err
	}

	env := cfg.App.Env
	if env == "" {
		env = "local"
	}
	lock, err := cron.NewSweepLock(redisClient, redis.Key("lock", serviceName, env), cfg.Sweep.LockTTL)
	if err != nil {
		return err
	}

	svc, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Jobs:     []cron.Job{sweep, retention},
		Lock:     lock,
		Metrics:  metrics.NewJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Sweep.Interval,
	})
	if err != nil {
		return err
	}

	logg.Info(ctx, "cron worker started")
	return svc.Run(ctx)
}
