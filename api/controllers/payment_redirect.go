package controllers

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/angelmondragon/payflow/api/validators"
	"github.com/angelmondragon/payflow/internal/reconcile"
	"github.com/angelmondragon/payflow/pkg/logger"
)

type reconciler interface {
	Reconcile(ctx context.Context, sig reconcile.Signal) (reconcile.Result, error)
}

// PaymentSuccess handles the processor's success redirect. The buyer always
// lands on the storefront; only a confirmed payment adds the order reference.
func PaymentSuccess(engine reconciler, returnURL string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sessionID := validators.QueryParam(r, "session_id")
		if sessionID == "" || engine == nil {
			http.Redirect(w, r, returnURL, http.StatusSeeOther)
			return
		}

		if logg != nil {
			ctx = logg.WithSessionID(ctx, sessionID)
		}
		res, err := engine.Reconcile(ctx, reconcile.Signal{
			Source:    reconcile.SourceRedirect,
			SessionID: sessionID,
		})
		if err != nil {
			if logg != nil {
				logg.Warn(logg.WithField(ctx, "error", err.Error()), "redirect reconciliation failed; deferring to webhook")
			}
			http.Redirect(w, r, returnURL, http.StatusSeeOther)
			return
		}
		if !res.Paid() || res.OrderID == 0 {
			http.Redirect(w, r, returnURL, http.StatusSeeOther)
			return
		}

		http.Redirect(w, r, withQuery(returnURL, map[string]string{
			"payment":  "success",
			"order_id": strconv.FormatUint(res.OrderID, 10),
		}), http.StatusSeeOther)
	}
}

// PaymentCancel handles the processor's cancel redirect.
func PaymentCancel(returnURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, withQuery(returnURL, map[string]string{"payment": "cancelled"}), http.StatusSeeOther)
	}
}

func withQuery(base string, params map[string]string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
