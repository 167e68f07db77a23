package broker

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/payflow/pkg/logger"
	pkgstripe "github.com/angelmondragon/payflow/pkg/stripe"
)

const (
	paymentStatusPaid = "paid"
	defaultCurrency   = "inr"
	defaultTimeout    = 15 * time.Second
)

type sessionAPI interface {
	Create(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error)
	Retrieve(ctx context.Context, id string, params *stripe.CheckoutSessionRetrieveParams) (*stripe.CheckoutSession, error)
}

// StripeBroker implements Broker on Stripe Checkout.
type StripeBroker struct {
	sessions sessionAPI
	currency string
	timeout  time.Duration
	logg     *logger.Logger
}

// NewStripeBroker binds the broker to an explicitly configured Stripe client.
func NewStripeBroker(client *pkgstripe.Client, logg *logger.Logger) (*StripeBroker, error) {
	if client == nil || client.API() == nil {
		return nil, errors.New("stripe client is required")
	}
	return newStripeBroker(client.API().V1CheckoutSessions, client.Currency(), client.RequestTimeout(), logg), nil
}

func newStripeBroker(sessions sessionAPI, currency string, timeout time.Duration, logg *logger.Logger) *StripeBroker {
	if currency == "" {
		currency = defaultCurrency
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &StripeBroker{sessions: sessions, currency: currency, timeout: timeout, logg: logg}
}

func (b *StripeBroker) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	if len(req.LineItems) == 0 {
		return nil, newFailure(ValidationFailure, "no line items", nil)
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.CancelURL),
		Metadata:           req.Metadata(),
	}
	for _, item := range req.LineItems {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionCreateLineItemParams{
			PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
				Currency:   stripe.String(b.currency),
				UnitAmount: stripe.Int64(item.UnitAmount),
				ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
					Name:        stripe.String(item.Name),
					Description: descriptionParam(item.Description),
				},
			},
			Quantity: stripe.Int64(item.Quantity),
		})
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	cs, err := b.sessions.Create(callCtx, params)
	if err != nil {
		return nil, b.classify(callCtx, "create checkout session", err)
	}
	return SessionFromStripe(cs), nil
}

func (b *StripeBroker) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, newFailure(ValidationFailure, "session id is required", nil)
	}

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	cs, err := b.sessions.Retrieve(callCtx, sessionID, &stripe.CheckoutSessionRetrieveParams{})
	if err != nil {
		return nil, b.classify(callCtx, "retrieve checkout session", err)
	}
	return SessionFromStripe(cs), nil
}

func (b *StripeBroker) classify(ctx context.Context, op string, err error) error {
	ctx = b.logg.WithField(ctx, "op", op)

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		b.logg.Warn(ctx, "payment processor timed out")
		return newFailure(BrokerFailure, "payment processor timed out", err)
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		msg := stripeErr.Msg
		if msg == "" {
			msg = string(stripeErr.Type)
		}
		kind := BrokerFailure
		if stripeErr.Type == stripe.ErrorTypeInvalidRequest || stripeErr.Type == stripe.ErrorTypeCard {
			kind = ValidationFailure
		}
		b.logg.Warn(b.logg.WithField(ctx, "stripe_error_type", string(stripeErr.Type)), "payment processor rejected request")
		return newFailure(kind, msg, err)
	}

	b.logg.Error(ctx, "payment processor call failed", err)
	return newFailure(BrokerFailure, err.Error(), err)
}

// SessionFromStripe maps a Stripe checkout session onto the broker's view.
func SessionFromStripe(cs *stripe.CheckoutSession) *Session {
	if cs == nil {
		return nil
	}
	s := &Session{
		ID:            cs.ID,
		URL:           cs.URL,
		PaymentStatus: string(cs.PaymentStatus),
		Status:        string(cs.Status),
		Paid:          string(cs.PaymentStatus) == paymentStatusPaid,
	}
	if cs.PaymentIntent != nil {
		s.ConfirmationRef = cs.PaymentIntent.ID
	}
	if cs.Metadata != nil {
		s.OrderHint = cs.Metadata["order_id"]
	}
	return s
}

func descriptionParam(desc string) *string {
	desc = TruncateDescription(strings.TrimSpace(desc))
	if desc == "" {
		return nil
	}
	return stripe.String(desc)
}
