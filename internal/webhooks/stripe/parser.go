package stripewebhook

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	pkgerrors "github.com/angelmondragon/payflow/pkg/errors"
	"github.com/angelmondragon/payflow/pkg/logger"
)

// SignatureTolerance bounds the age of a signed delivery.
const SignatureTolerance = 300 * time.Second

// EventParser turns a raw delivery into a Stripe event. Without a signing
// secret it parses deliveries unverified.
type EventParser struct {
	secret string
	logg   *logger.Logger
}

func NewEventParser(secret string, logg *logger.Logger) *EventParser {
	if logg == nil {
		logg = logger.Nop()
	}
	return &EventParser{secret: strings.TrimSpace(secret), logg: logg}
}

// Verified reports whether signatures are checked.
func (p *EventParser) Verified() bool {
	return p.secret != ""
}

func (p *EventParser) Parse(ctx context.Context, payload []byte, sigHeader string) (*stripe.Event, error) {
	if !p.Verified() {
		p.logg.Warn(ctx, "stripe webhook signature verification disabled; parsing unverified payload")
		var event stripe.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed webhook payload")
		}
		if event.ID == "" || event.Type == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "malformed webhook payload")
		}
		return &event, nil
	}

	if strings.TrimSpace(sigHeader) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeSignatureInvalid, "stripe signature missing")
	}
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, p.secret, webhook.ConstructEventOptions{
		Tolerance:                SignatureTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if !json.Valid(payload) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed webhook payload")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeSignatureInvalid, err, "stripe signature verification failed")
	}
	return &event, nil
}
