package orders

import (
	"context"
	"net/http"

	"github.com/angelmondragon/payflow/api/responses"
	"github.com/angelmondragon/payflow/api/validators"
	ordersvc "github.com/angelmondragon/payflow/internal/orders"
	"github.com/angelmondragon/payflow/internal/reconcile"
	"github.com/angelmondragon/payflow/pkg/db/models"
	"github.com/angelmondragon/payflow/pkg/enums"
	pkgerrors "github.com/angelmondragon/payflow/pkg/errors"
	"github.com/angelmondragon/payflow/pkg/logger"
)

type orderFinder interface {
	FindByID(ctx context.Context, id uint64) (*models.Order, error)
}

type reconciler interface {
	Reconcile(ctx context.Context, sig reconcile.Signal) (reconcile.Result, error)
}

// Detail renders an order with its lines. A pending order with a session is
// reconciled first so the confirmation page reflects a payment the webhook
// has not delivered yet.
func Detail(repo orderFinder, engine reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if repo == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order repository unavailable"))
			return
		}

		orderID, err := validators.ParsePathID(r, "orderId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		order, err := repo.FindByID(ctx, orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order"))
			return
		}
		if order == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "order not found"))
			return
		}

		if engine != nil && order.Status == enums.OrderStatusPending && order.HasSession() {
			res, recErr := engine.Reconcile(ctx, reconcile.Signal{
				Source:    reconcile.SourceConfirmation,
				SessionID: order.SessionID(),
			})
			switch {
			case recErr != nil:
				if logg != nil {
					logg.Warn(logg.WithField(logg.WithOrderID(ctx, order.ID), "error", recErr.Error()), "confirmation reconciliation failed")
				}
			case res.Outcome == reconcile.OutcomeTransitioned || res.Outcome == reconcile.OutcomeAlreadyPaid:
				if fresh, findErr := repo.FindByID(ctx, orderID); findErr == nil && fresh != nil {
					order = fresh
				}
			}
		}

		responses.WriteSuccess(w, ordersvc.NewOrderDetail(order))
	}
}
