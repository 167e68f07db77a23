package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/payflow/api/controllers"
	ordercontrollers "github.com/angelmondragon/payflow/api/controllers/orders"
	webhookcontrollers "github.com/angelmondragon/payflow/api/controllers/webhooks"
	"github.com/angelmondragon/payflow/api/middleware"
	checkoutsvc "github.com/angelmondragon/payflow/internal/checkout"
	"github.com/angelmondragon/payflow/internal/orders"
	"github.com/angelmondragon/payflow/internal/products"
	"github.com/angelmondragon/payflow/internal/reconcile"
	"github.com/angelmondragon/payflow/pkg/config"
	"github.com/angelmondragon/payflow/pkg/db"
	"github.com/angelmondragon/payflow/pkg/logger"
	"github.com/angelmondragon/payflow/pkg/redis"
)

// Reconciler is the single entry point for paid signals.
type Reconciler interface {
	Reconcile(ctx context.Context, sig reconcile.Signal) (reconcile.Result, error)
}

// WebhookParser verifies and decodes raw webhook deliveries.
type WebhookParser interface {
	Parse(ctx context.Context, payload []byte, sigHeader string) (*stripe.Event, error)
}

// EventLedger remembers which Stripe event ids were already settled.
type EventLedger interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// Dependencies are the services the HTTP surface delegates to. Redis,
// Ledger and Gatherer are optional. Purchase deduplication lives in the
// checkout service, so no middleware sits in front of it.
type Dependencies struct {
	DB            db.Pinger
	Redis         *redis.Client
	Products      products.Repository
	Orders        orders.Repository
	Checkout      checkoutsvc.Service
	Engine        Reconciler
	Webhook       webhookcontrollers.StripeWebhookService
	WebhookParser WebhookParser
	Ledger        EventLedger
	Gatherer      prometheus.Gatherer
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	if logg == nil {
		logg = logger.Nop()
	}
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.CORS.AllowedOrigins),
	)

	ready := map[string]controllers.Pinger{}
	if deps.DB != nil {
		ready["db"] = deps.DB
	}
	if deps.Redis != nil {
		ready["redis"] = deps.Redis
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, ready))
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	returnURL := cfg.Checkout.ReturnURL
	r.Get("/success", controllers.PaymentSuccess(deps.Engine, returnURL, logg))
	r.Get("/cancel", controllers.PaymentCancel(returnURL))

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(deps.Webhook, deps.WebhookParser, deps.Ledger, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/products", controllers.ProductList(deps.Products, logg))
		r.Post("/checkout", controllers.Checkout(deps.Checkout, logg))
		r.Get("/orders/{orderId}", ordercontrollers.Detail(deps.Orders, deps.Engine, logg))
	})

	return r
}
