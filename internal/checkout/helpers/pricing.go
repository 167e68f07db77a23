package helpers

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/payflow/internal/broker"
	"github.com/angelmondragon/payflow/pkg/db/models"
	pkgerrors "github.com/angelmondragon/payflow/pkg/errors"
)

// PricedLine is a requested item joined with its catalog product.
type PricedLine struct {
	Product  models.Product
	Quantity int
}

// Subtotal is quantity times the current catalog price.
func (l PricedLine) Subtotal() decimal.Decimal {
	return l.Product.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// PriceItems joins items with products and sums the order total. An unknown
// product id is a validation error.
func PriceItems(items []RequestedItem, products map[uint64]models.Product) ([]PricedLine, decimal.Decimal, error) {
	lines := make([]PricedLine, 0, len(items))
	total := decimal.Zero
	for _, it := range items {
		product, ok := products[it.ProductID]
		if !ok {
			return nil, decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("Product %d not found", it.ProductID)).
				WithDetails(map[string]any{"product_id": it.ProductID})
		}
		line := PricedLine{Product: product, Quantity: it.Quantity}
		lines = append(lines, line)
		total = total.Add(line.Subtotal())
	}
	return lines, total, nil
}

// OrderItems captures the purchase-time unit price of every line.
func OrderItems(lines []PricedLine) []models.OrderItem {
	out := make([]models.OrderItem, 0, len(lines))
	for _, l := range lines {
		out = append(out, models.OrderItem{
			ProductID: l.Product.ID,
			Quantity:  l.Quantity,
			Price:     l.Product.Price,
		})
	}
	return out
}

// BrokerLineItems converts lines into processor line items in minor units.
func BrokerLineItems(lines []PricedLine) []broker.LineItem {
	out := make([]broker.LineItem, 0, len(lines))
	for _, l := range lines {
		out = append(out, broker.LineItem{
			Name:        l.Product.Name,
			Description: broker.TruncateDescription(l.Product.Description),
			UnitAmount:  broker.MinorUnits(l.Product.Price),
			Quantity:    int64(l.Quantity),
		})
	}
	return out
}
