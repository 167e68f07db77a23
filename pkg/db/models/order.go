package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/payflow/pkg/enums"
)

// Order is a single purchase attempt. StripeSessionID, StripePaymentIntentID
// and IdempotencyKey are each unique when present.
type Order struct {
	ID                    uint64            `gorm:"column:id;primaryKey;autoIncrement"`
	UserID                *uint64           `gorm:"column:user_id"`
	StripeSessionID       *string           `gorm:"column:stripe_session_id;size:255;uniqueIndex:ux_orders_stripe_session_id"`
	StripePaymentIntentID *string           `gorm:"column:stripe_payment_intent_id;size:255;uniqueIndex:ux_orders_stripe_payment_intent_id"`
	Status                enums.OrderStatus `gorm:"column:status;type:order_status;not null;default:'pending'"`
	TotalAmount           decimal.Decimal   `gorm:"column:total_amount;type:numeric(10,2);not null"`
	IdempotencyKey        *string           `gorm:"column:idempotency_key;size:255;uniqueIndex:ux_orders_idempotency_key"`
	CreatedAt             time.Time         `gorm:"column:created_at;autoCreateTime;index:idx_orders_created_at"`
	UpdatedAt             time.Time         `gorm:"column:updated_at;autoUpdateTime"`

	Items []OrderItem `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

// HasSession reports whether a processor session reference is attached.
func (o *Order) HasSession() bool {
	return o != nil && o.StripeSessionID != nil && *o.StripeSessionID != ""
}

// SessionID returns the attached session reference or "".
func (o *Order) SessionID() string {
	if !o.HasSession() {
		return ""
	}
	return *o.StripeSessionID
}
