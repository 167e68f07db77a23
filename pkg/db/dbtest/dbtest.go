// Package dbtest opens throwaway sqlite databases carrying the payflow schema.
package dbtest

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/payflow/pkg/config"
	"github.com/angelmondragon/payflow/pkg/db"
	"github.com/angelmondragon/payflow/pkg/db/models"
	"github.com/angelmondragon/payflow/pkg/enums"
)

// Models lists every table the services touch, in dependency order.
var Models = []any{
	&models.Product{},
	&models.Order{},
	&models.OrderItem{},
	&models.OutboxEvent{},
	&models.OutboxDLQ{},
}

// Open returns a client over a private in-memory database. A single pooled
// connection keeps the shared-cache database alive and serialises writers.
func Open(tb testing.TB) *db.Client {
	tb.Helper()

	dsn := fmt.Sprintf("file:payflow_%s?mode=memory&cache=shared", uuid.NewString())
	client, err := db.New(context.Background(), config.DBConfig{
		Driver:       "sqlite",
		DSN:          dsn,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}, nil)
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	if err := client.DB().AutoMigrate(Models...); err != nil {
		tb.Fatalf("migrate sqlite: %v", err)
	}
	tb.Cleanup(func() { _ = client.Close() })
	return client
}

// SeedProduct inserts a catalog product priced at price (decimal string).
func SeedProduct(tb testing.TB, conn *gorm.DB, name, price string) models.Product {
	tb.Helper()
	product := models.Product{
		Name:        name,
		Description: name + " description",
		Price:       decimal.RequireFromString(price),
	}
	if err := conn.Create(&product).Error; err != nil {
		tb.Fatalf("seed product %s: %v", name, err)
	}
	return product
}

// SeedOrder inserts order and its items. Items without a quantity get 1.
func SeedOrder(tb testing.TB, conn *gorm.DB, order models.Order, items ...models.OrderItem) models.Order {
	tb.Helper()
	if order.Status == "" {
		order.Status = enums.OrderStatusPending
	}
	if err := conn.Create(&order).Error; err != nil {
		tb.Fatalf("seed order: %v", err)
	}
	for i := range items {
		items[i].OrderID = order.ID
		if items[i].Quantity == 0 {
			items[i].Quantity = 1
		}
	}
	if len(items) > 0 {
		if err := conn.Create(&items).Error; err != nil {
			tb.Fatalf("seed order items: %v", err)
		}
	}
	order.Items = items
	return order
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
