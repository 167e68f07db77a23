package enums

// OutboxAggregateType maps to aggregate_type_enum. Orders are the only
// aggregate that emits events.
type OutboxAggregateType string

const AggregateOrder OutboxAggregateType = "order"

func (a OutboxAggregateType) IsValid() bool {
	return a == AggregateOrder
}

// OutboxEventType maps to event_type_enum: the order lifecycle transitions
// downstream consumers subscribe to.
type OutboxEventType string

const (
	EventOrderPaid          OutboxEventType = "order_paid"
	EventOrderPaymentFailed OutboxEventType = "order_payment_failed"
)

func (e OutboxEventType) IsValid() bool {
	switch e {
	case EventOrderPaid, EventOrderPaymentFailed:
		return true
	}
	return false
}

// OrderStatus is the status an order holds once e has been emitted for it.
func (e OutboxEventType) OrderStatus() OrderStatus {
	switch e {
	case EventOrderPaid:
		return OrderStatusPaid
	case EventOrderPaymentFailed:
		return OrderStatusFailed
	}
	return ""
}
