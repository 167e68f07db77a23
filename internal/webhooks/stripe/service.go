// Package stripewebhook turns Stripe checkout events into reconciliation
// signals.
package stripewebhook

import (
	"context"
	"encoding/json"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/payflow/internal/broker"
	"github.com/angelmondragon/payflow/internal/reconcile"
	pkgerrors "github.com/angelmondragon/payflow/pkg/errors"
	"github.com/angelmondragon/payflow/pkg/logger"
)

type reconciler interface {
	Reconcile(ctx context.Context, sig reconcile.Signal) (reconcile.Result, error)
}

type ServiceParams struct {
	Reconciler reconciler
	Logger     *logger.Logger
}

type Service struct {
	reconciler reconciler
	logg       *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Reconciler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reconciler required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{reconciler: params.Reconciler, logg: logg}, nil
}

// HandleEvent reconciles completed sessions. Other checkout events are
// acknowledged without touching the ledger; unknown types are ignored.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"event_id": event.ID, "event_type": string(event.Type)})

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session event")
		}
		session := broker.SessionFromStripe(&cs)
		res, err := s.reconciler.Reconcile(ctx, reconcile.Signal{
			Source:          reconcile.SourceWebhook,
			SessionID:       session.ID,
			OrderHint:       session.OrderHint,
			ConfirmationRef: session.ConfirmationRef,
			Paid:            session.Paid,
			StatusKnown:     true,
		})
		if err != nil {
			return err
		}
		s.logg.Info(s.logg.WithField(ctx, "outcome", string(res.Outcome)), "checkout session event reconciled")
		return nil
	case stripe.EventTypeCheckoutSessionAsyncPaymentFailed,
		stripe.EventTypeCheckoutSessionExpired:
		s.logg.Info(ctx, "checkout session event acknowledged")
		return nil
	default:
		return nil
	}
}
