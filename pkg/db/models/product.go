package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a fixed catalog entry. The reconciliation core only reads it.
type Product struct {
	ID            uint64          `gorm:"column:id;primaryKey;autoIncrement"`
	Name          string          `gorm:"column:name;size:200;not null"`
	Description   string          `gorm:"column:description;type:text;not null;default:''"`
	Price         decimal.Decimal `gorm:"column:price;type:numeric(10,2);not null"`
	StripePriceID string          `gorm:"column:stripe_price_id;size:200;not null;default:''"`
	ImageURL      string          `gorm:"column:image_url;size:500;not null;default:''"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
}
