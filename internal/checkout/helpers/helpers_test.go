package helpers

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/payflow/internal/broker"
	"github.com/angelmondragon/payflow/pkg/db/models"
	pkgerrors "github.com/angelmondragon/payflow/pkg/errors"
)

func TestNormalizeItemsDropsAndMerges(t *testing.T) {
	got, err := NormalizeItems([]RequestedItem{
		{ProductID: 2, Quantity: 1},
		{ProductID: 1, Quantity: 0},
		{ProductID: 3, Quantity: -4},
		{ProductID: 2, Quantity: 2},
		{ProductID: 1, Quantity: 5},
	})
	require.NoError(t, err)

	want := []RequestedItem{{ProductID: 2, Quantity: 3}, {ProductID: 1, Quantity: 5}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("normalized items mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalizeItemsRejectsEmpty(t *testing.T) {
	_, err := NormalizeItems([]RequestedItem{{ProductID: 1, Quantity: 0}})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	_, err = NormalizeItems(nil)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestPriceItemsMixedCart(t *testing.T) {
	products := map[uint64]models.Product{
		1: {ID: 1, Name: "X", Price: decimal.RequireFromString("100.00")},
		2: {ID: 2, Name: "Y", Price: decimal.RequireFromString("50.00")},
	}
	lines, total, err := PriceItems([]RequestedItem{{ProductID: 1, Quantity: 2}, {ProductID: 2, Quantity: 1}}, products)
	require.NoError(t, err)
	assert.Equal(t, "250.00", total.StringFixed(2))
	require.Len(t, lines, 2)

	items := OrderItems(lines)
	assert.Equal(t, uint64(1), items[0].ProductID)
	assert.True(t, items[0].Price.Equal(decimal.RequireFromString("100")))
	sum := items[0].Subtotal().Add(items[1].Subtotal())
	assert.True(t, sum.Equal(total))
}

func TestPriceItemsUnknownProduct(t *testing.T) {
	_, _, err := PriceItems([]RequestedItem{{ProductID: 9, Quantity: 1}}, map[uint64]models.Product{})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	assert.Equal(t, "Product 9 not found", typed.Message())
}

func TestBrokerLineItems(t *testing.T) {
	lines := []PricedLine{{
		Product:  models.Product{ID: 1, Name: "X", Description: strings.Repeat("d", 600), Price: decimal.RequireFromString("19.99")},
		Quantity: 3,
	}}
	got := BrokerLineItems(lines)
	require.Len(t, got, 1)
	assert.Equal(t, broker.LineItem{
		Name:        "X",
		Description: strings.Repeat("d", 500),
		UnitAmount:  1999,
		Quantity:    3,
	}, got[0])
}

func TestProductIDs(t *testing.T) {
	assert.Equal(t, []uint64{3, 1}, ProductIDs([]RequestedItem{{ProductID: 3}, {ProductID: 1}, {ProductID: 3}}))
}
