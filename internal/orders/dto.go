package orders

import (
	"time"

	"github.com/angelmondragon/payflow/pkg/db/models"
	"github.com/angelmondragon/payflow/pkg/enums"
)

// OrderDetail is the buyer-facing view of an order.
type OrderDetail struct {
	ID              uint64            `json:"id"`
	Status          enums.OrderStatus `json:"status"`
	TotalAmount     string            `json:"total_amount"`
	SessionID       string            `json:"session_id,omitempty"`
	ConfirmationRef string            `json:"confirmation_ref,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	Items           []OrderItemDetail `json:"items"`
}

// OrderItemDetail is one line of an OrderDetail.
type OrderItemDetail struct {
	ProductID   uint64 `json:"product_id"`
	ProductName string `json:"product_name,omitempty"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Subtotal    string `json:"subtotal"`
}

// NewOrderDetail projects a loaded order (items and products preloaded).
func NewOrderDetail(order *models.Order) OrderDetail {
	detail := OrderDetail{
		ID:          order.ID,
		Status:      order.Status,
		TotalAmount: order.TotalAmount.StringFixed(2),
		SessionID:   order.SessionID(),
		CreatedAt:   order.CreatedAt,
		Items:       make([]OrderItemDetail, 0, len(order.Items)),
	}
	if order.StripePaymentIntentID != nil {
		detail.ConfirmationRef = *order.StripePaymentIntentID
	}
	for _, item := range order.Items {
		line := OrderItemDetail{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.Price.StringFixed(2),
			Subtotal:  item.Subtotal().StringFixed(2),
		}
		if item.Product != nil {
			line.ProductName = item.Product.Name
		}
		detail.Items = append(detail.Items, line)
	}
	return detail
}
