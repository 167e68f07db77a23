package broker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/angelmondragon/payflow/pkg/errors"
	"github.com/angelmondragon/payflow/pkg/logger"
)

type fakeSessionAPI struct {
	created   *stripe.CheckoutSessionCreateParams
	createErr error
	retrieve  *stripe.CheckoutSession
	block     bool
}

func (f *fakeSessionAPI) Create(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error) {
	f.created = params
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/cs_test_1", PaymentStatus: "unpaid"}, nil
}

func (f *fakeSessionAPI) Retrieve(ctx context.Context, id string, _ *stripe.CheckoutSessionRetrieveParams) (*stripe.CheckoutSession, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.retrieve == nil {
		return nil, &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, Msg: "No such checkout.session: " + id}
	}
	return f.retrieve, nil
}

func sampleRequest() SessionRequest {
	return SessionRequest{
		OrderID:        42,
		IdempotencyKey: "dedup-1",
		SuccessURL:     "https://shop.example/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:      "https://shop.example/cancel",
		LineItems: []LineItem{
			{Name: "X", Description: "first", UnitAmount: 10000, Quantity: 2},
			{Name: "Y", Description: "", UnitAmount: 5000, Quantity: 1},
		},
	}
}

func TestCreateSessionBuildsParams(t *testing.T) {
	api := &fakeSessionAPI{}
	b := newStripeBroker(api, "inr", time.Second, logger.Nop())

	session, err := b.CreateSession(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", session.ID)
	assert.False(t, session.Paid)

	p := api.created
	require.NotNil(t, p)
	assert.Equal(t, "payment", *p.Mode)
	assert.Equal(t, "https://shop.example/success?session_id={CHECKOUT_SESSION_ID}", *p.SuccessURL)
	assert.Equal(t, map[string]string{"order_id": "42", "idempotency_key": "dedup-1"}, p.Metadata)
	require.NotNil(t, p.IdempotencyKey)
	assert.Equal(t, "dedup-1", *p.IdempotencyKey)
	require.Len(t, p.LineItems, 2)
	assert.Equal(t, int64(10000), *p.LineItems[0].PriceData.UnitAmount)
	assert.Equal(t, "inr", *p.LineItems[0].PriceData.Currency)
	assert.Equal(t, int64(2), *p.LineItems[0].Quantity)
	assert.Nil(t, p.LineItems[1].PriceData.ProductData.Description)
}

func TestCreateSessionValidationFailure(t *testing.T) {
	api := &fakeSessionAPI{createErr: &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, Msg: "Invalid currency"}}
	b := newStripeBroker(api, "", 0, nil)

	_, err := b.CreateSession(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodePaymentBroker))
	assert.Equal(t, "Invalid currency", pkgerrors.As(err).Message())

	var failure *Failure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, ValidationFailure, failure.Kind)
}

func TestCreateSessionGenericFailure(t *testing.T) {
	api := &fakeSessionAPI{createErr: errors.New("connection reset")}
	b := newStripeBroker(api, "inr", time.Second, logger.Nop())

	_, err := b.CreateSession(context.Background(), sampleRequest())
	var failure *Failure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, BrokerFailure, failure.Kind)
	assert.Equal(t, "connection reset", failure.Message)
}

func TestCreateSessionTimeout(t *testing.T) {
	api := &fakeSessionAPI{block: true}
	b := newStripeBroker(api, "inr", 20*time.Millisecond, logger.Nop())

	_, err := b.CreateSession(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodePaymentBroker))
	var failure *Failure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, BrokerFailure, failure.Kind)
	assert.Contains(t, failure.Message, "timed out")
}

func TestCreateSessionRequiresItems(t *testing.T) {
	b := newStripeBroker(&fakeSessionAPI{}, "inr", time.Second, logger.Nop())
	_, err := b.CreateSession(context.Background(), SessionRequest{OrderID: 1})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodePaymentBroker))
}

func TestGetSessionMapsPaidSession(t *testing.T) {
	api := &fakeSessionAPI{retrieve: &stripe.CheckoutSession{
		ID:            "cs_paid",
		PaymentStatus: "paid",
		Status:        "complete",
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_123"},
		Metadata:      map[string]string{"order_id": "42"},
	}}
	b := newStripeBroker(api, "inr", time.Second, logger.Nop())

	session, err := b.GetSession(context.Background(), "cs_paid")
	require.NoError(t, err)
	assert.True(t, session.Paid)
	assert.Equal(t, "pi_123", session.ConfirmationRef)
	assert.Equal(t, "42", session.OrderHint)
}

func TestGetSessionErrors(t *testing.T) {
	b := newStripeBroker(&fakeSessionAPI{}, "inr", time.Second, logger.Nop())

	_, err := b.GetSession(context.Background(), "cs_missing")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodePaymentBroker))

	_, err = b.GetSession(context.Background(), " ")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodePaymentBroker))
}

func TestMinorUnitsTruncates(t *testing.T) {
	assert.Equal(t, int64(10000), MinorUnits(decimal.RequireFromString("100.00")))
	assert.Equal(t, int64(1999), MinorUnits(decimal.RequireFromString("19.99")))
	assert.Equal(t, int64(1), MinorUnits(decimal.RequireFromString("0.019")))
}

func TestTruncateDescription(t *testing.T) {
	long := strings.Repeat("é", MaxDescriptionLen+20)
	got := TruncateDescription(long)
	assert.Equal(t, MaxDescriptionLen, len([]rune(got)))
	assert.Equal(t, "short", TruncateDescription("short"))
}

func TestSessionFromStripeNil(t *testing.T) {
	assert.Nil(t, SessionFromStripe(nil))
}
