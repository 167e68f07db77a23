package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/payflow/internal/broker"
	"github.com/angelmondragon/payflow/internal/checkout/helpers"
	"github.com/angelmondragon/payflow/internal/idempotency"
	"github.com/angelmondragon/payflow/internal/orders"
	"github.com/angelmondragon/payflow/pkg/config"
	"github.com/angelmondragon/payflow/pkg/db/models"
	"github.com/angelmondragon/payflow/pkg/enums"
	pkgerrors "github.com/angelmondragon/payflow/pkg/errors"
	"github.com/angelmondragon/payflow/pkg/logger"
	"github.com/angelmondragon/payflow/pkg/outbox"
	"github.com/angelmondragon/payflow/pkg/outbox/payloads"
)

const (
	maxKeyLen           = 255
	defaultConflictWait = 3 * time.Second
	conflictPoll        = 100 * time.Millisecond
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type productLoader interface {
	FindByIDs(ctx context.Context, ids []uint64) (map[uint64]models.Product, error)
}

type duplicateGuard interface {
	Check(ctx context.Context, req idempotency.Request) (idempotency.Decision, error)
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, ev outbox.Event) error
}

type purchaseRecorder interface {
	IncPurchase(result string)
}

// Service turns a purchase request into exactly one order and one hosted
// checkout session.
type Service interface {
	CreatePurchase(ctx context.Context, input PurchaseInput) (*PurchaseResult, error)
}

// PurchaseInput is a raw purchase request. IdempotencyKey is optional.
type PurchaseInput struct {
	Items          []helpers.RequestedItem
	IdempotencyKey string
}

// PurchaseResult points the buyer at the hosted payment page. SessionURL is
// only known when the session was created by this call.
type PurchaseResult struct {
	OrderID    uint64
	SessionID  string
	SessionURL string
	Existing   bool
}

// Deps wires the purchase service.
type Deps struct {
	Tx       txRunner
	Products productLoader
	Orders   orders.Repository
	Guard    duplicateGuard
	Broker   broker.Broker
	Outbox   outboxPublisher
	Metrics  purchaseRecorder
	Config   config.CheckoutConfig
	Logger   *logger.Logger
}

type service struct {
	tx           txRunner
	products     productLoader
	orders       orders.Repository
	guard        duplicateGuard
	broker       broker.Broker
	outbox       outboxPublisher
	metrics      purchaseRecorder
	successURL   string
	cancelURL    string
	conflictWait time.Duration
	logg         *logger.Logger
	now          func() time.Time
}

// NewService builds the purchase service.
func NewService(deps Deps) (Service, error) {
	if deps.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if deps.Products == nil {
		return nil, fmt.Errorf("products repository required")
	}
	if deps.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if deps.Guard == nil {
		return nil, fmt.Errorf("idempotency guard required")
	}
	if deps.Broker == nil {
		return nil, fmt.Errorf("payment broker required")
	}
	if deps.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	logg := deps.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	wait := deps.Config.ConflictWait
	if wait <= 0 {
		wait = defaultConflictWait
	}
	return &service{
		tx:           deps.Tx,
		products:     deps.Products,
		orders:       deps.Orders,
		guard:        deps.Guard,
		broker:       deps.Broker,
		outbox:       deps.Outbox,
		metrics:      deps.Metrics,
		successURL:   deps.Config.SuccessURL(),
		cancelURL:    deps.Config.CancelURL(),
		conflictWait: wait,
		logg:         logg,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) CreatePurchase(ctx context.Context, input PurchaseInput) (*PurchaseResult, error) {
	key := strings.TrimSpace(input.IdempotencyKey)
	if len(key) > maxKeyLen {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency_key is too long")
	}

	items, err := helpers.NormalizeItems(input.Items)
	if err != nil {
		return nil, err
	}
	products, err := s.products.FindByIDs(ctx, helpers.ProductIDs(items))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load products")
	}
	lines, total, err := helpers.PriceItems(items, products)
	if err != nil {
		return nil, err
	}

	decision, err := s.guard.Check(ctx, idempotency.Request{
		Key:   key,
		Total: total,
		Items: guardItems(items),
	})
	if err != nil {
		return nil, err
	}
	if decision.IsRetry() {
		s.record("reused")
		return existingResult(decision.Existing), nil
	}

	dedupKey := decision.Key
	order := &models.Order{
		Status:         enums.OrderStatusPending,
		TotalAmount:    total,
		IdempotencyKey: &dedupKey,
	}
	if err := s.orders.CreateWithItems(ctx, order, helpers.OrderItems(lines)); err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeConflict) {
			return s.awaitWinner(ctx, dedupKey)
		}
		return nil, err
	}
	ctx = s.logg.WithOrderID(ctx, order.ID)

	session, err := s.broker.CreateSession(ctx, broker.SessionRequest{
		OrderID:        order.ID,
		IdempotencyKey: dedupKey,
		LineItems:      helpers.BrokerLineItems(lines),
		SuccessURL:     s.successURL,
		CancelURL:      s.cancelURL,
	})
	if err != nil {
		s.record("failed")
		if markErr := s.markFailed(ctx, order, err); markErr != nil {
			s.logg.Error(ctx, "failed to mark order failed", markErr)
		}
		return nil, err
	}

	ctx = s.logg.WithSessionID(ctx, session.ID)
	if err := s.orders.AttachSession(ctx, order.ID, session.ID); err != nil {
		// The session exists and carries the order id in its metadata, so the
		// buyer can still pay: the first paid signal resolves the order by
		// that hint and stores the session reference.
		s.logg.Error(ctx, "session not attached; returning it unlinked", err)
		s.record("unlinked")
	} else {
		s.record("created")
	}
	s.logg.Info(ctx, "checkout session created")
	return &PurchaseResult{
		OrderID:    order.ID,
		SessionID:  session.ID,
		SessionURL: session.URL,
	}, nil
}

// awaitWinner waits for the concurrent attempt that owns key to publish its
// session.
func (s *service) awaitWinner(ctx context.Context, key string) (*PurchaseResult, error) {
	deadline := time.NewTimer(s.conflictWait)
	defer deadline.Stop()
	ticker := time.NewTicker(conflictPoll)
	defer ticker.Stop()

	for {
		winner, err := s.orders.FindByIdempotencyKey(ctx, key)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup concurrent order")
		}
		if winner != nil {
			switch {
			case winner.Status == enums.OrderStatusPaid:
				return nil, pkgerrors.New(pkgerrors.CodeDuplicateComplete, "This order has already been completed").
					WithDetails(map[string]any{"order_id": winner.ID})
			case winner.Status == enums.OrderStatusFailed || winner.Status == enums.OrderStatusCancelled:
				return nil, pkgerrors.New(pkgerrors.CodePaymentBroker, "payment session could not be created for this request")
			case winner.HasSession():
				s.record("reused")
				return existingResult(winner), nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, ctx.Err(), "purchase already in progress")
		case <-deadline.C:
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "purchase already in progress")
		case <-ticker.C:
		}
	}
}

func (s *service) markFailed(ctx context.Context, order *models.Order, cause error) error {
	reason := "payment processor error"
	var failure *broker.Failure
	if errors.As(cause, &failure) {
		reason = failure.Message
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		changed, err := s.orders.WithTx(tx).MarkFailed(ctx, order.ID)
		if err != nil || !changed {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.OrderPaymentFailed(payloads.OrderPaymentFailedEvent{
			OrderID:     order.ID,
			TotalAmount: order.TotalAmount.StringFixed(2),
			Reason:      reason,
			FailedAt:    s.now(),
		}, "checkout"))
	})
}

func (s *service) record(result string) {
	if s.metrics != nil {
		s.metrics.IncPurchase(result)
	}
}

func existingResult(order *models.Order) *PurchaseResult {
	return &PurchaseResult{
		OrderID:   order.ID,
		SessionID: order.SessionID(),
		Existing:  true,
	}
}

func guardItems(items []helpers.RequestedItem) []idempotency.Item {
	out := make([]idempotency.Item, 0, len(items))
	for _, it := range items {
		out = append(out, idempotency.Item{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return out
}
