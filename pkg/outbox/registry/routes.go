// Package registry maps queued order events onto Pub/Sub messages.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/angelmondragon/payflow/pkg/config"
	"github.com/angelmondragon/payflow/pkg/db/models"
	"github.com/angelmondragon/payflow/pkg/enums"
	"github.com/angelmondragon/payflow/pkg/outbox"
	"github.com/angelmondragon/payflow/pkg/outbox/payloads"
)

// ErrPermanent marks rows that will never publish no matter how often they
// are retried. Test with errors.Is.
var ErrPermanent = errors.New("permanent outbox failure")

func permanent(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPermanent, fmt.Sprintf(format, args...))
}

// Delivery is one row decoded and ready to publish.
type Delivery struct {
	Topic      string
	OrderID    uint64
	Envelope   outbox.Envelope
	Payload    any
	Attributes map[string]string
}

type route struct {
	topic string
	// decode returns the typed payload, its order id and event-specific attributes.
	decode func(data json.RawMessage) (any, uint64, map[string]string, error)
}

// Routes knows every order event the publisher relays.
type Routes struct {
	byType map[enums.OutboxEventType]route
}

func NewRoutes(cfg config.PubSubConfig) (*Routes, error) {
	if cfg.OrdersTopic == "" {
		return nil, errors.New("orders topic is required")
	}
	return &Routes{byType: map[enums.OutboxEventType]route{
		enums.EventOrderPaid: {
			topic: cfg.OrdersTopic,
			decode: func(data json.RawMessage) (any, uint64, map[string]string, error) {
				var ev payloads.OrderPaidEvent
				if err := json.Unmarshal(data, &ev); err != nil {
					return nil, 0, nil, err
				}
				return &ev, ev.OrderID, map[string]string{
					"session_id": ev.SessionID,
					"source":     ev.Source,
				}, nil
			},
		},
		enums.EventOrderPaymentFailed: {
			topic: cfg.OrdersTopic,
			decode: func(data json.RawMessage) (any, uint64, map[string]string, error) {
				var ev payloads.OrderPaymentFailedEvent
				if err := json.Unmarshal(data, &ev); err != nil {
					return nil, 0, nil, err
				}
				return &ev, ev.OrderID, map[string]string{"reason": ev.Reason}, nil
			},
		},
	}}, nil
}

// Resolve decodes row. Every error it returns wraps ErrPermanent.
func (r *Routes) Resolve(row models.OutboxEvent) (*Delivery, error) {
	rt, ok := r.byType[row.EventType]
	if !ok {
		return nil, permanent("no route for event type %q", row.EventType)
	}
	if row.AggregateType != enums.AggregateOrder {
		return nil, permanent("event %s on non-order aggregate %q", row.EventType, row.AggregateType)
	}
	aggregateID, err := strconv.ParseUint(row.AggregateID, 10, 64)
	if err != nil || aggregateID == 0 {
		return nil, permanent("aggregate id %q is not an order id", row.AggregateID)
	}

	var env outbox.Envelope
	if err := json.Unmarshal(row.Payload, &env); err != nil {
		return nil, permanent("envelope: %v", err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, permanent("%s has no payload", row.EventType)
	}

	payload, orderID, attrs, err := rt.decode(env.Data)
	if err != nil {
		return nil, permanent("%s payload: %v", row.EventType, err)
	}
	if orderID != aggregateID {
		return nil, permanent("payload order %d does not match aggregate %d", orderID, aggregateID)
	}

	attrs["event_id"] = env.EventID
	attrs["event_type"] = string(row.EventType)
	attrs["order_id"] = row.AggregateID
	attrs["order_status"] = string(row.EventType.OrderStatus())
	return &Delivery{
		Topic:      rt.topic,
		OrderID:    orderID,
		Envelope:   env,
		Payload:    payload,
		Attributes: attrs,
	}, nil
}
