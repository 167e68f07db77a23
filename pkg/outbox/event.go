package outbox

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/angelmondragon/payflow/pkg/enums"
	"github.com/angelmondragon/payflow/pkg/outbox/payloads"
)

const envelopeVersion = 1

// Envelope is what outbox_events.payload holds and what subscribers receive.
type Envelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Source     string          `json:"source,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// Event is an order transition waiting to be queued. Build one with OrderPaid
// or OrderPaymentFailed so the type always matches the payload.
type Event struct {
	Type       enums.OutboxEventType
	OrderID    uint64
	Source     string
	OccurredAt time.Time
	data       any
}

func OrderPaid(p payloads.OrderPaidEvent) Event {
	return Event{Type: enums.EventOrderPaid, OrderID: p.OrderID, Source: p.Source, OccurredAt: p.PaidAt, data: p}
}

func OrderPaymentFailed(p payloads.OrderPaymentFailedEvent, source string) Event {
	return Event{Type: enums.EventOrderPaymentFailed, OrderID: p.OrderID, Source: source, OccurredAt: p.FailedAt, data: p}
}

func (e Event) aggregateID() string {
	return strconv.FormatUint(e.OrderID, 10)
}
