// Package idempotency decides whether a purchase request repeats an attempt
// that already owns an order.
package idempotency

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/payflow/pkg/db/models"
	"github.com/angelmondragon/payflow/pkg/enums"
	pkgerrors "github.com/angelmondragon/payflow/pkg/errors"
	"github.com/angelmondragon/payflow/pkg/logger"
)

// DefaultWindow is the trailing window scanned for duplicate submissions.
const DefaultWindow = 5 * time.Second

// Item is one normalised (product, quantity) pair of a purchase request.
type Item struct {
	ProductID uint64
	Quantity  int
}

// Request is what the guard needs to recognise a repeat.
type Request struct {
	Key   string
	Total decimal.Decimal
	Items []Item
}

// Decision is either a safe retry (Existing set) or a fresh attempt that must
// be persisted under Key.
type Decision struct {
	Existing *models.Order
	Key      string
}

// IsRetry reports whether the request maps onto an order that already has a session.
func (d Decision) IsRetry() bool {
	return d.Existing != nil
}

type orderFinder interface {
	FindByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	FindRecentPending(ctx context.Context, since time.Time, total decimal.Decimal) ([]models.Order, error)
}

// Guard inspects the ledger before a new order is written. The unique
// idempotency_key constraint remains the hard backstop.
type Guard struct {
	orders orderFinder
	window time.Duration
	now    func() time.Time
	logg   *logger.Logger
}

// NewGuard builds a guard. A zero window disables the trailing-window scan.
func NewGuard(orders orderFinder, window time.Duration, logg *logger.Logger) *Guard {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Guard{
		orders: orders,
		window: window,
		now:    func() time.Time { return time.Now().UTC() },
		logg:   logg,
	}
}

// Check classifies the request.
func (g *Guard) Check(ctx context.Context, req Request) (Decision, error) {
	key := strings.TrimSpace(req.Key)

	if key != "" {
		existing, err := g.orders.FindByIdempotencyKey(ctx, key)
		if err != nil {
			return Decision{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup order by idempotency key")
		}
		if existing != nil {
			switch {
			case existing.Status == enums.OrderStatusPending && existing.HasSession():
				g.logg.Info(g.logg.WithOrderID(ctx, existing.ID), "idempotency key matched pending order")
				return Decision{Existing: existing, Key: key}, nil
			case existing.Status == enums.OrderStatusPaid:
				return Decision{}, pkgerrors.New(pkgerrors.CodeDuplicateComplete, "This order has already been completed").
					WithDetails(map[string]any{"order_id": existing.ID})
			case existing.Status == enums.OrderStatusFailed || existing.Status == enums.OrderStatusCancelled:
				return Decision{}, pkgerrors.New(pkgerrors.CodeConflict, "idempotency key belongs to a closed order; use a new key")
			}
			// pending without a session: another request is mid-flight; the
			// storage constraint settles who wins.
		}
	}

	if g.window > 0 {
		match, err := g.findRecentDuplicate(ctx, req)
		if err != nil {
			return Decision{}, err
		}
		if match != nil {
			g.logg.Info(g.logg.WithOrderID(ctx, match.ID), "duplicate submission matched recent order")
			return Decision{Existing: match, Key: lo.FromPtr(match.IdempotencyKey)}, nil
		}
	}

	if key == "" {
		key = uuid.NewString()
	}
	return Decision{Key: key}, nil
}

func (g *Guard) findRecentDuplicate(ctx context.Context, req Request) (*models.Order, error) {
	candidates, err := g.orders.FindRecentPending(ctx, g.now().Add(-g.window), req.Total)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "scan recent orders")
	}
	want := itemSet(req.Items)
	for i := range candidates {
		candidate := &candidates[i]
		if !candidate.HasSession() {
			continue
		}
		got := itemSet(lo.Map(candidate.Items, func(it models.OrderItem, _ int) Item {
			return Item{ProductID: it.ProductID, Quantity: it.Quantity}
		}))
		if sameSet(want, got) {
			return candidate, nil
		}
	}
	return nil, nil
}

func itemSet(items []Item) map[Item]struct{} {
	return lo.SliceToMap(items, func(it Item) (Item, struct{}) { return it, struct{}{} })
}

func sameSet(a, b map[Item]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	return lo.EveryBy(lo.Keys(a), func(it Item) bool {
		_, ok := b[it]
		return ok
	})
}
