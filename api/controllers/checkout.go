package controllers

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/payflow/api/responses"
	"github.com/angelmondragon/payflow/api/validators"
	checkoutsvc "github.com/angelmondragon/payflow/internal/checkout"
	"github.com/angelmondragon/payflow/internal/checkout/helpers"
	pkgerrors "github.com/angelmondragon/payflow/pkg/errors"
	"github.com/angelmondragon/payflow/pkg/logger"
)

// IdempotencyKeyHeader carries the client's purchase key when the body omits it.
const IdempotencyKeyHeader = "Idempotency-Key"

type checkoutItemRequest struct {
	ProductID uint64 `json:"product_id" validate:"gt=0"`
	Quantity  int    `json:"quantity"`
}

type checkoutRequest struct {
	Items          []checkoutItemRequest `json:"items" validate:"required,dive"`
	IdempotencyKey string                `json:"idempotency_key" validate:"omitempty,max=255"`
}

type checkoutResponse struct {
	SessionID   string `json:"session_id"`
	OrderID     uint64 `json:"order_id"`
	Existing    bool   `json:"existing"`
	CheckoutURL string `json:"checkout_url,omitempty"`
}

// Checkout creates (or resumes) the hosted payment session for a basket.
func Checkout(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		key := strings.TrimSpace(payload.IdempotencyKey)
		if key == "" {
			key = strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
		}

		items := make([]helpers.RequestedItem, 0, len(payload.Items))
		for _, it := range payload.Items {
			items = append(items, helpers.RequestedItem{ProductID: it.ProductID, Quantity: it.Quantity})
		}

		res, err := svc.CreatePurchase(r.Context(), checkoutsvc.PurchaseInput{
			Items:          items,
			IdempotencyKey: key,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, checkoutResponse{
			SessionID:   res.SessionID,
			OrderID:     res.OrderID,
			Existing:    res.Existing,
			CheckoutURL: res.SessionURL,
		})
	}
}
