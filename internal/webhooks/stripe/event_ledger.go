package stripewebhook

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/payflow/pkg/redis"
)

type seenStore interface {
	MarkSeen(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Forget(ctx context.Context, key string) error
}

// EventLedger remembers Stripe event ids for a while so redeliveries skip the
// engine. Losing an entry only costs a repeat reconcile, which is a no-op.
type EventLedger struct {
	store seenStore
	ttl   time.Duration
}

func NewEventLedger(store seenStore, ttl time.Duration) (*EventLedger, error) {
	if store == nil {
		return nil, errors.New("stripewebhook: nil event store")
	}
	if ttl < 0 {
		return nil, errors.New("stripewebhook: negative event ttl")
	}
	return &EventLedger{store: store, ttl: ttl}, nil
}

// Claim returns true for the first delivery of eventID.
func (l *EventLedger) Claim(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("stripewebhook: empty event id")
	}
	return l.store.MarkSeen(ctx, eventKey(eventID), l.ttl)
}

// Release lets a failed delivery be retried.
func (l *EventLedger) Release(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("stripewebhook: empty event id")
	}
	return l.store.Forget(ctx, eventKey(eventID))
}

func eventKey(id string) string {
	return redis.Key("stripe-event", id)
}
