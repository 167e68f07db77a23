// Package broker creates and inspects hosted checkout sessions at the payment
// processor.
package broker

import (
	"context"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/payflow/pkg/errors"
)

// MaxDescriptionLen is the processor's limit for a line item description.
const MaxDescriptionLen = 500

// FailureKind tags why the processor call did not yield a session.
type FailureKind string

const (
	ValidationFailure FailureKind = "validation"
	BrokerFailure     FailureKind = "broker"
)

// Failure is the tagged processor failure carried inside PAYMENT_BROKER_ERROR.
type Failure struct {
	Kind    FailureKind
	Message string
	Err     error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s failure: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func newFailure(kind FailureKind, message string, err error) error {
	failure := &Failure{Kind: kind, Message: message, Err: err}
	return pkgerrors.Wrap(pkgerrors.CodePaymentBroker, failure, message)
}

// LineItem is one priced line of a session request.
type LineItem struct {
	Name        string
	Description string
	UnitAmount  int64
	Quantity    int64
}

// SessionRequest asks the processor for a hosted payment page.
type SessionRequest struct {
	OrderID        uint64
	IdempotencyKey string
	LineItems      []LineItem
	SuccessURL     string
	CancelURL      string
}

// Metadata is attached to the session; order_id is the cross-system join key.
func (r SessionRequest) Metadata() map[string]string {
	md := map[string]string{"order_id": strconv.FormatUint(r.OrderID, 10)}
	if r.IdempotencyKey != "" {
		md["idempotency_key"] = r.IdempotencyKey
	}
	return md
}

// Session is the processor's view of a checkout session.
type Session struct {
	ID              string
	URL             string
	Paid            bool
	PaymentStatus   string
	Status          string
	ConfirmationRef string
	OrderHint       string
}

// Broker talks to the payment processor.
type Broker interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	GetSession(ctx context.Context, sessionID string) (*Session, error)
}

// MinorUnits converts a price to integer minor currency units, truncating any
// sub-unit remainder.
func MinorUnits(price decimal.Decimal) int64 {
	return price.Mul(decimal.NewFromInt(100)).IntPart()
}

// TruncateDescription clips s to MaxDescriptionLen runes.
func TruncateDescription(s string) string {
	if utf8.RuneCountInString(s) <= MaxDescriptionLen {
		return s
	}
	return string([]rune(s)[:MaxDescriptionLen])
}
