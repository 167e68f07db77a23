package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/payflow/api/responses"
	pkgerrors "github.com/angelmondragon/payflow/pkg/errors"
	"github.com/angelmondragon/payflow/pkg/logger"
)

const maxWebhookBody = 1 << 20

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

type stripeEventParser interface {
	Parse(ctx context.Context, payload []byte, sigHeader string) (*stripe.Event, error)
}

type eventLedger interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// StripeWebhook acknowledges a verified Stripe event once the engine has
// settled it. Without a ledger every redelivery reaches the engine, which
// leaves an already paid order alone.
func StripeWebhook(svc StripeWebhookService, parser stripeEventParser, ledger eventLedger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil || parser == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe webhook not configured"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}
		event, err := parser.Parse(ctx, payload, r.Header.Get("Stripe-Signature"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		ctx = logg.WithFields(ctx, map[string]any{"event_id": event.ID, "event_type": string(event.Type)})

		if ledger != nil {
			first, err := ledger.Claim(ctx, event.ID)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim stripe event"))
				return
			}
			if !first {
				logg.Info(ctx, "stripe event redelivered; skipping")
				responses.WriteSuccess(w, map[string]any{"received": true, "duplicate": true})
				return
			}
		}

		if err := svc.HandleEvent(ctx, event); err != nil {
			if ledger != nil {
				if relErr := ledger.Release(context.WithoutCancel(ctx), event.ID); relErr != nil {
					logg.Error(ctx, "release stripe event", relErr)
				}
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"received": true})
	}
}
