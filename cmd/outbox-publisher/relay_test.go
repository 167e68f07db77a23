package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/payflow/pkg/config"
	"github.com/angelmondragon/payflow/pkg/db"
	"github.com/angelmondragon/payflow/pkg/db/dbtest"
	"github.com/angelmondragon/payflow/pkg/db/models"
	"github.com/angelmondragon/payflow/pkg/enums"
	"github.com/angelmondragon/payflow/pkg/logger"
	"github.com/angelmondragon/payflow/pkg/outbox"
	"github.com/angelmondragon/payflow/pkg/outbox/payloads"
	"github.com/angelmondragon/payflow/pkg/outbox/registry"
)

type sent struct {
	topic string
	msg   *gcppubsub.Message
}

type fakeSender struct {
	mu    sync.Mutex
	fails map[string]int
	sent  []sent
}

func (f *fakeSender) Send(_ context.Context, topic string, msg *gcppubsub.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order := msg.Attributes["order_id"]
	if f.fails[order] > 0 {
		f.fails[order]--
		return "", errors.New("unavailable")
	}
	f.sent = append(f.sent, sent{topic: topic, msg: msg})
	return "msg-" + order, nil
}

type fixture struct {
	client *db.Client
	svc    *outbox.Service
	out    *fakeSender
	relay  *Relay
}

func newFixture(t *testing.T, maxAttempts int) *fixture {
	t.Helper()
	client := dbtest.Open(t)
	routes, err := registry.NewRoutes(config.PubSubConfig{OrdersTopic: "orders"})
	require.NoError(t, err)
	out := &fakeSender{fails: map[string]int{}}
	relay, err := NewRelay(RelayDeps{
		DB:     client,
		Rows:   outbox.NewRepository(client.DB()),
		DLQ:    outbox.NewDeadLetters(client.DB()),
		Routes: routes,
		Out:    out,
		Logger: logger.Nop(),
		Config: config.OutboxConfig{BatchSize: 10, MaxAttempts: maxAttempts, PollIntervalMS: 5},
	})
	require.NoError(t, err)
	return &fixture{client: client, svc: outbox.NewService(outbox.NewRepository(client.DB()), logger.Nop()), out: out, relay: relay}
}

func (f *fixture) emit(t *testing.T, ev outbox.Event) {
	t.Helper()
	require.NoError(t, f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return f.svc.Emit(context.Background(), tx, ev)
	}))
}

func paid(orderID uint64) outbox.Event {
	return outbox.OrderPaid(payloads.OrderPaidEvent{
		OrderID:     orderID,
		SessionID:   fmt.Sprintf("cs_%d", orderID),
		Source:      "sweep",
		TotalAmount: "10.00",
	})
}

func (f *fixture) row(t *testing.T, aggregateID string) models.OutboxEvent {
	t.Helper()
	var ev models.OutboxEvent
	require.NoError(t, f.client.DB().Where("aggregate_id = ?", aggregateID).First(&ev).Error)
	return ev
}

func TestDrainPublishesOrderEvents(t *testing.T) {
	f := newFixture(t, 5)
	f.emit(t, paid(1))
	f.emit(t, outbox.OrderPaymentFailed(payloads.OrderPaymentFailedEvent{OrderID: 2, Reason: "card declined"}, "checkout"))

	n, err := f.relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, f.out.sent, 2)

	byOrder := map[string]*gcppubsub.Message{}
	for _, s := range f.out.sent {
		assert.Equal(t, "orders", s.topic)
		byOrder[s.msg.Attributes["order_id"]] = s.msg
	}
	assert.Equal(t, "cs_1", byOrder["1"].Attributes["session_id"])
	assert.Equal(t, "card declined", byOrder["2"].Attributes["reason"])
	assert.NotNil(t, f.row(t, "1").PublishedAt)

	n, err = f.relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDrainRetriesThenDeadLetters(t *testing.T) {
	f := newFixture(t, 2)
	f.emit(t, paid(3))
	f.out.fails["3"] = 5

	_, err := f.relay.Drain(context.Background())
	require.NoError(t, err)
	first := f.row(t, "3")
	assert.Nil(t, first.PublishedAt)
	assert.Equal(t, 1, first.AttemptCount)

	_, err = f.relay.Drain(context.Background())
	require.NoError(t, err)

	var dlq []models.OutboxDLQ
	require.NoError(t, f.client.DB().Find(&dlq).Error)
	require.Len(t, dlq, 1)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, dlq[0].ErrorReason)
	assert.Equal(t, first.ID, dlq[0].EventID)

	n, err := f.relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "dead-lettered rows are never claimed again")
	assert.Empty(t, f.out.sent)
}

func TestDrainDeadLettersUnroutableRow(t *testing.T) {
	f := newFixture(t, 5)
	// payload names a different order than the aggregate
	payload, err := json.Marshal(outbox.Envelope{Version: 1, EventID: "evt-99", Data: json.RawMessage(`{"order_id":99}`)})
	require.NoError(t, err)
	require.NoError(t, outbox.NewRepository(f.client.DB()).Insert(f.client.DB(), models.OutboxEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   "4",
		Payload:       payload,
	}))

	_, err = f.relay.Drain(context.Background())
	require.NoError(t, err)

	var dlq models.OutboxDLQ
	require.NoError(t, f.client.DB().First(&dlq).Error)
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, dlq.ErrorReason)
	assert.Empty(t, f.out.sent)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, 5)
	f.emit(t, paid(5))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := f.relay.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, f.out.sent, 1)
}

func TestNewRelayRequiresDeps(t *testing.T) {
	_, err := NewRelay(RelayDeps{})
	assert.Error(t, err)
}
