package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/payflow/internal/orders"
	"github.com/angelmondragon/payflow/pkg/db/dbtest"
	"github.com/angelmondragon/payflow/pkg/db/models"
	"github.com/angelmondragon/payflow/pkg/enums"
	pkgerrors "github.com/angelmondragon/payflow/pkg/errors"
	"github.com/angelmondragon/payflow/pkg/logger"
)

type fakeFinder struct {
	byKey     map[string]*models.Order
	recent    []models.Order
	keyErr    error
	recentErr error
	since     time.Time
	calls     int
}

func (f *fakeFinder) FindByIdempotencyKey(_ context.Context, key string) (*models.Order, error) {
	return f.byKey[key], f.keyErr
}

func (f *fakeFinder) FindRecentPending(_ context.Context, since time.Time, _ decimal.Decimal) ([]models.Order, error) {
	f.calls++
	f.since = since
	return f.recent, f.recentErr
}

func pendingWithSession(id uint64, session string, items ...models.OrderItem) models.Order {
	return models.Order{
		ID:              id,
		Status:          enums.OrderStatusPending,
		StripeSessionID: dbtest.Ptr(session),
		IdempotencyKey:  dbtest.Ptr("k-" + session),
		Items:           items,
	}
}

func TestCheckFreshGeneratesKey(t *testing.T) {
	guard := NewGuard(&fakeFinder{}, DefaultWindow, logger.Nop())

	decision, err := guard.Check(context.Background(), Request{Items: []Item{{ProductID: 1, Quantity: 1}}})
	require.NoError(t, err)
	assert.False(t, decision.IsRetry())
	assert.Len(t, decision.Key, 36)
}

func TestCheckFreshKeepsCallerKey(t *testing.T) {
	guard := NewGuard(&fakeFinder{}, DefaultWindow, logger.Nop())

	decision, err := guard.Check(context.Background(), Request{Key: " client-key "})
	require.NoError(t, err)
	assert.Equal(t, "client-key", decision.Key)
}

func TestCheckKeyMatchesPendingWithSession(t *testing.T) {
	order := pendingWithSession(7, "cs_7")
	finder := &fakeFinder{byKey: map[string]*models.Order{"abc": &order}}
	guard := NewGuard(finder, DefaultWindow, logger.Nop())

	decision, err := guard.Check(context.Background(), Request{Key: "abc"})
	require.NoError(t, err)
	require.True(t, decision.IsRetry())
	assert.Equal(t, uint64(7), decision.Existing.ID)
	assert.Zero(t, finder.calls)
}

func TestCheckKeyMatchesPaidOrder(t *testing.T) {
	order := models.Order{ID: 3, Status: enums.OrderStatusPaid}
	guard := NewGuard(&fakeFinder{byKey: map[string]*models.Order{"abc": &order}}, DefaultWindow, logger.Nop())

	_, err := guard.Check(context.Background(), Request{Key: "abc"})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeDuplicateComplete, typed.Code())
	assert.Equal(t, map[string]any{"order_id": uint64(3)}, typed.Details())
}

func TestCheckKeyMatchesFailedOrder(t *testing.T) {
	order := models.Order{ID: 3, Status: enums.OrderStatusFailed}
	guard := NewGuard(&fakeFinder{byKey: map[string]*models.Order{"abc": &order}}, DefaultWindow, logger.Nop())

	_, err := guard.Check(context.Background(), Request{Key: "abc"})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeConflict))
}

func TestCheckKeyMatchesInFlightOrderFallsThrough(t *testing.T) {
	order := models.Order{ID: 3, Status: enums.OrderStatusPending}
	guard := NewGuard(&fakeFinder{byKey: map[string]*models.Order{"abc": &order}}, DefaultWindow, logger.Nop())

	decision, err := guard.Check(context.Background(), Request{Key: "abc"})
	require.NoError(t, err)
	assert.False(t, decision.IsRetry())
	assert.Equal(t, "abc", decision.Key)
}

func TestCheckWindowMatchesUnorderedItemSet(t *testing.T) {
	recent := pendingWithSession(11, "cs_11",
		models.OrderItem{ProductID: 2, Quantity: 1},
		models.OrderItem{ProductID: 1, Quantity: 2},
	)
	finder := &fakeFinder{recent: []models.Order{recent}}
	guard := NewGuard(finder, DefaultWindow, logger.Nop())
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	guard.now = func() time.Time { return now }

	decision, err := guard.Check(context.Background(), Request{
		Total: decimal.RequireFromString("250"),
		Items: []Item{{ProductID: 1, Quantity: 2}, {ProductID: 2, Quantity: 1}},
	})
	require.NoError(t, err)
	require.True(t, decision.IsRetry())
	assert.Equal(t, uint64(11), decision.Existing.ID)
	assert.Equal(t, "k-cs_11", decision.Key)
	assert.Equal(t, now.Add(-5*time.Second), finder.since)
}

func TestCheckWindowIgnoresDifferentItemsAndMissingSession(t *testing.T) {
	differentQty := pendingWithSession(1, "cs_1", models.OrderItem{ProductID: 1, Quantity: 3})
	superset := pendingWithSession(2, "cs_2",
		models.OrderItem{ProductID: 1, Quantity: 2},
		models.OrderItem{ProductID: 9, Quantity: 1},
	)
	noSession := models.Order{ID: 3, Status: enums.OrderStatusPending, Items: []models.OrderItem{{ProductID: 1, Quantity: 2}}}
	guard := NewGuard(&fakeFinder{recent: []models.Order{differentQty, superset, noSession}}, DefaultWindow, logger.Nop())

	decision, err := guard.Check(context.Background(), Request{Items: []Item{{ProductID: 1, Quantity: 2}}})
	require.NoError(t, err)
	assert.False(t, decision.IsRetry())
}

func TestCheckZeroWindowSkipsScan(t *testing.T) {
	finder := &fakeFinder{recent: []models.Order{pendingWithSession(1, "cs_1", models.OrderItem{ProductID: 1, Quantity: 1})}}
	guard := NewGuard(finder, 0, logger.Nop())

	decision, err := guard.Check(context.Background(), Request{Items: []Item{{ProductID: 1, Quantity: 1}}})
	require.NoError(t, err)
	assert.False(t, decision.IsRetry())
	assert.Zero(t, finder.calls)
}

func TestCheckLookupErrorsAreInternal(t *testing.T) {
	guard := NewGuard(&fakeFinder{keyErr: errors.New("db down")}, DefaultWindow, logger.Nop())
	_, err := guard.Check(context.Background(), Request{Key: "abc"})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInternal))

	guard = NewGuard(&fakeFinder{recentErr: errors.New("db down")}, DefaultWindow, logger.Nop())
	_, err = guard.Check(context.Background(), Request{})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInternal))
}

func TestCheckAgainstLedger(t *testing.T) {
	client := dbtest.Open(t)
	x := dbtest.SeedProduct(t, client.DB(), "X", "100.00")
	y := dbtest.SeedProduct(t, client.DB(), "Y", "50.00")
	repo := orders.NewRepository(client.DB())
	ctx := context.Background()

	order := &models.Order{TotalAmount: decimal.RequireFromString("250"), IdempotencyKey: dbtest.Ptr("first")}
	require.NoError(t, repo.CreateWithItems(ctx, order, []models.OrderItem{
		{ProductID: x.ID, Quantity: 2, Price: x.Price},
		{ProductID: y.ID, Quantity: 1, Price: y.Price},
	}))
	require.NoError(t, repo.AttachSession(ctx, order.ID, "cs_S1"))

	guard := NewGuard(repo, DefaultWindow, logger.Nop())
	decision, err := guard.Check(ctx, Request{
		Total: decimal.RequireFromString("250.00"),
		Items: []Item{{ProductID: y.ID, Quantity: 1}, {ProductID: x.ID, Quantity: 2}},
	})
	require.NoError(t, err)
	require.True(t, decision.IsRetry())
	assert.Equal(t, "cs_S1", decision.Existing.SessionID())
}
