package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/payflow/internal/reconcile"
	pkgerrors "github.com/angelmondragon/payflow/pkg/errors"
)

type fakeReconciler struct {
	signals []reconcile.Signal
	err     error
}

func (f *fakeReconciler) Reconcile(_ context.Context, sig reconcile.Signal) (reconcile.Result, error) {
	f.signals = append(f.signals, sig)
	if f.err != nil {
		return reconcile.Result{}, f.err
	}
	return reconcile.Result{Outcome: reconcile.OutcomeTransitioned}, nil
}

func sessionEvent(t *testing.T, eventType stripe.EventType, cs map[string]any) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(cs)
	require.NoError(t, err)
	return &stripe.Event{ID: "evt_1", Type: eventType, Data: &stripe.EventData{Raw: raw}}
}

func paidSession() map[string]any {
	return map[string]any{
		"id":             "cs_1",
		"object":         "checkout.session",
		"payment_status": "paid",
		"status":         "complete",
		"payment_intent": "pi_1",
		"metadata":       map[string]string{"order_id": "42"},
	}
}

func TestHandleEventReconcilesCompletedSession(t *testing.T) {
	rec := &fakeReconciler{}
	svc, err := NewService(ServiceParams{Reconciler: rec})
	require.NoError(t, err)

	require.NoError(t, svc.HandleEvent(context.Background(), sessionEvent(t, stripe.EventTypeCheckoutSessionCompleted, paidSession())))

	require.Len(t, rec.signals, 1)
	assert.Equal(t, reconcile.Signal{
		Source:          reconcile.SourceWebhook,
		SessionID:       "cs_1",
		OrderHint:       "42",
		ConfirmationRef: "pi_1",
		Paid:            true,
		StatusKnown:     true,
	}, rec.signals[0])
}

func TestHandleEventAsyncSuccessAndUnpaidSession(t *testing.T) {
	rec := &fakeReconciler{}
	svc, err := NewService(ServiceParams{Reconciler: rec})
	require.NoError(t, err)

	require.NoError(t, svc.HandleEvent(context.Background(), sessionEvent(t, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded, paidSession())))

	unpaid := paidSession()
	unpaid["payment_status"] = "unpaid"
	delete(unpaid, "payment_intent")
	require.NoError(t, svc.HandleEvent(context.Background(), sessionEvent(t, stripe.EventTypeCheckoutSessionCompleted, unpaid)))

	require.Len(t, rec.signals, 2)
	assert.True(t, rec.signals[0].Paid)
	assert.False(t, rec.signals[1].Paid)
	assert.True(t, rec.signals[1].StatusKnown)
}

func TestHandleEventAcknowledgesOtherTypes(t *testing.T) {
	rec := &fakeReconciler{}
	svc, err := NewService(ServiceParams{Reconciler: rec})
	require.NoError(t, err)

	for _, typ := range []stripe.EventType{
		stripe.EventTypeCheckoutSessionExpired,
		stripe.EventTypeCheckoutSessionAsyncPaymentFailed,
		stripe.EventTypeCustomerCreated,
	} {
		require.NoError(t, svc.HandleEvent(context.Background(), sessionEvent(t, typ, paidSession())))
	}
	assert.Empty(t, rec.signals)
}

func TestHandleEventPropagatesReconcileErrors(t *testing.T) {
	rec := &fakeReconciler{err: errors.New("db down")}
	svc, err := NewService(ServiceParams{Reconciler: rec})
	require.NoError(t, err)

	err = svc.HandleEvent(context.Background(), sessionEvent(t, stripe.EventTypeCheckoutSessionCompleted, paidSession()))
	assert.EqualError(t, err, "db down")
}

func TestHandleEventRejectsBadData(t *testing.T) {
	svc, err := NewService(ServiceParams{Reconciler: &fakeReconciler{}})
	require.NoError(t, err)

	assert.True(t, pkgerrors.Is(svc.HandleEvent(context.Background(), &stripe.Event{}), pkgerrors.CodeValidation))

	bad := &stripe.Event{Type: stripe.EventTypeCheckoutSessionCompleted, Data: &stripe.EventData{Raw: json.RawMessage(`[1]`)}}
	assert.True(t, pkgerrors.Is(svc.HandleEvent(context.Background(), bad), pkgerrors.CodeValidation))
}

func TestNewServiceRequiresReconciler(t *testing.T) {
	_, err := NewService(ServiceParams{})
	assert.Error(t, err)
}
