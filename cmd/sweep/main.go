// Command sweep runs one payment sweep and prints how many orders it moved
// to paid. It skips the cron lock so operators can run it on demand.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/payflow/internal/broker"
	"github.com/angelmondragon/payflow/internal/cron"
	"github.com/angelmondragon/payflow/internal/orders"
	"github.com/angelmondragon/payflow/internal/reconcile"
	"github.com/angelmondragon/payflow/pkg/config"
	"github.com/angelmondragon/payflow/pkg/db"
	"github.com/angelmondragon/payflow/pkg/logger"
	"github.com/angelmondragon/payflow/pkg/outbox"
	pkgstripe "github.com/angelmondragon/payflow/pkg/stripe"
)

func main() {
	batch := flag.Int("batch", 0, "orders per page (defaults to PAYFLOW_SWEEP_BATCH_SIZE)")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "sweep"})
	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "sweep",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithField(ctx, "env", cfg.App.Env)

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(logg, "database", err)
	defer func() { _ = dbClient.Close() }()

	stripeClient, err := pkgstripe.NewClient(ctx, cfg.Stripe, logg)
	requireResource(logg, "stripe", err)
	paymentBroker, err := broker.NewStripeBroker(stripeClient, logg)
	requireResource(logg, "payment broker", err)

	orderRepo := orders.NewRepository(dbClient.DB())
	engine, err := reconcile.NewEngine(reconcile.Deps{
		Tx:     dbClient,
		Orders: orderRepo,
		Broker: paymentBroker,
		Outbox: outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Logger: logg,
	})
	requireResource(logg, "reconciliation engine", err)

	size := cfg.Sweep.BatchSize
	if *batch > 0 {
		size = *batch
	}
	job, err := cron.NewPaymentSweepJob(cron.PaymentSweepJobParams{
		Logger:     logg,
		Orders:     orderRepo,
		Reconciler: engine,
		BatchSize:  size,
	})
	requireResource(logg, "payment sweep", err)

	updated, err := job.Sweep(ctx)
	fmt.Printf("Updated %d orders\n", updated)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logg.Warn(ctx, "sweep interrupted")
		} else {
			logg.Error(ctx, "sweep finished with errors", err)
		}
		os.Exit(1)
	}
}

func requireResource(logg *logger.Logger, name string, err error) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), "failed to initialize "+name, err)
	os.Exit(1)
}
