package reconcile

import "github.com/angelmondragon/payflow/internal/broker"

func brokerRequest(orderID uint64) broker.SessionRequest {
	return broker.SessionRequest{
		OrderID:   orderID,
		LineItems: []broker.LineItem{{Name: "X", UnitAmount: 100, Quantity: 1}},
	}
}
