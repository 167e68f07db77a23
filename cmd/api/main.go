// Command api serves checkout, the payment redirect pages, the Stripe
// webhook and order lookups.
package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/payflow/api/routes"
	"github.com/angelmondragon/payflow/internal/broker"
	checkoutsvc "github.com/angelmondragon/payflow/internal/checkout"
	"github.com/angelmondragon/payflow/internal/idempotency"
	"github.com/angelmondragon/payflow/internal/orders"
	"github.com/angelmondragon/payflow/internal/products"
	"github.com/angelmondragon/payflow/internal/reconcile"
	stripewebhook "github.com/angelmondragon/payflow/internal/webhooks/stripe"
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

const shutdownTimeout = 15 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Options{ServiceName: "api"}).Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	logg := logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "instance": instance.GetID()})

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "api stopped", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer dbClient.Close()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
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

	handler, err := newHandler(cfg, logg, dbClient, redisClient, stripeClient)
	if err != nil {
		return err
	}

	port := cmp.Or(os.Getenv("PORT"), cfg.App.Port)
	srv := &http.Server{Addr: ":" + port, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logg.Info(logg.WithField(ctx, "addr", srv.Addr), "api listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logg.Info(ctx, "api draining")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newHandler(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, stripeClient *pkgstripe.Client) (http.Handler, error) {
	paymentBroker, err := broker.NewStripeBroker(stripeClient, logg)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reconcileMetrics := metrics.NewReconcileMetrics(reg)

	orderRepo := orders.NewRepository(dbClient.DB())
	productRepo := products.NewRepository(dbClient.DB())
	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	engine, err := reconcile.NewEngine(reconcile.Deps{
		Tx:      dbClient,
		Orders:  orderRepo,
		Broker:  paymentBroker,
		Outbox:  outboxSvc,
		Metrics: reconcileMetrics,
		Logger:  logg,
	})
	if err != nil {
		return nil, err
	}
	checkout, err := checkoutsvc.NewService(checkoutsvc.Deps{
		Tx:       dbClient,
		Products: productRepo,
		Orders:   orderRepo,
		Guard:    idempotency.NewGuard(orderRepo, cfg.Checkout.DuplicateWindow, logg),
		Broker:   paymentBroker,
		Outbox:   outboxSvc,
		Metrics:  reconcileMetrics,
		Config:   cfg.Checkout,
		Logger:   logg,
	})
	if err != nil {
		return nil, err
	}
	webhookSvc, err := stripewebhook.NewService(stripewebhook.ServiceParams{Reconciler: engine, Logger: logg})
	if err != nil {
		return nil, err
	}
	ledger, err := stripewebhook.NewEventLedger(redisClient, cfg.Webhook.EventIdempotencyTTL)
	if err != nil {
		return nil, err
	}

	return routes.NewRouter(cfg, logg, routes.Dependencies{
		DB:            dbClient,
		Redis:         redisClient,
		Products:      productRepo,
		Orders:        orderRepo,
		Checkout:      checkout,
		Engine:        engine,
		Webhook:       webhookSvc,
		WebhookParser: stripewebhook.NewEventParser(stripeClient.SigningSecret(), logg),
		Ledger:        ledger,
		Gatherer:      reg,
	}), nil
}
