package models

import "github.com/shopspring/decimal"

// OrderItem captures one product line at the price paid at purchase time.
type OrderItem struct {
	ID        uint64          `gorm:"column:id;primaryKey;autoIncrement"`
	OrderID   uint64          `gorm:"column:order_id;not null;uniqueIndex:ux_order_items_order_product,priority:1"`
	ProductID uint64          `gorm:"column:product_id;not null;uniqueIndex:ux_order_items_order_product,priority:2"`
	Quantity  int             `gorm:"column:quantity;not null;check:chk_order_items_quantity,quantity > 0"`
	Price     decimal.Decimal `gorm:"column:price;type:numeric(10,2);not null"`

	Product *Product `gorm:"foreignKey:ProductID"`
}

// Subtotal is quantity times the captured unit price.
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
