package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/payflow/pkg/config"
	"github.com/angelmondragon/payflow/pkg/db/models"
	"github.com/angelmondragon/payflow/pkg/enums"
	"github.com/angelmondragon/payflow/pkg/logger"
	"github.com/angelmondragon/payflow/pkg/outbox/registry"
)

const (
	sendTimeout = 15 * time.Second
	maxIdle     = 10 * time.Second
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type rowStore interface {
	Claim(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublished(tx *gorm.DB, id uuid.UUID) error
	RecordFailure(tx *gorm.DB, id uuid.UUID, cause error) error
	Retire(tx *gorm.DB, id uuid.UUID, cause error, ceiling int) error
}

type deadLetters interface {
	Bury(tx *gorm.DB, row models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error
}

type resolver interface {
	Resolve(row models.OutboxEvent) (*registry.Delivery, error)
}

type sender interface {
	Send(ctx context.Context, topic string, msg *gcppubsub.Message) (string, error)
}

// Relay moves order events from the outbox table to Pub/Sub. Rows are claimed
// with SKIP LOCKED so several relays can share the table.
type Relay struct {
	db          txRunner
	rows        rowStore
	dlq         deadLetters
	routes      resolver
	out         sender
	logg        *logger.Logger
	batch       int
	maxAttempts int
	idle        time.Duration
}

type RelayDeps struct {
	DB     txRunner
	Rows   rowStore
	DLQ    deadLetters
	Routes resolver
	Out    sender
	Logger *logger.Logger
	Config config.OutboxConfig
}

func NewRelay(deps RelayDeps) (*Relay, error) {
	switch {
	case deps.DB == nil:
		return nil, errors.New("db required")
	case deps.Rows == nil:
		return nil, errors.New("outbox rows required")
	case deps.DLQ == nil:
		return nil, errors.New("dead letter store required")
	case deps.Routes == nil:
		return nil, errors.New("routes required")
	case deps.Out == nil:
		return nil, errors.New("sender required")
	case deps.Logger == nil:
		return nil, errors.New("logger required")
	}
	r := &Relay{
		db:          deps.DB,
		rows:        deps.Rows,
		dlq:         deps.DLQ,
		routes:      deps.Routes,
		out:         deps.Out,
		logg:        deps.Logger,
		batch:       deps.Config.BatchSize,
		maxAttempts: deps.Config.MaxAttempts,
		idle:        time.Duration(deps.Config.PollIntervalMS) * time.Millisecond,
	}
	if r.batch <= 0 {
		r.batch = 50
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = 10
	}
	if r.idle <= 0 {
		r.idle = 500 * time.Millisecond
	}
	return r, nil
}

// Run drains the outbox until ctx ends. An empty table or a failed batch
// backs off, doubling up to maxIdle; a full batch loops straight away.
func (r *Relay) Run(ctx context.Context) error {
	wait := r.idle
	for {
		n, err := r.Drain(ctx)
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox batch failed", err)
			wait = min(wait*2, maxIdle)
		case n > 0:
			wait = r.idle
			continue
		default:
			wait = r.idle
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Drain settles one claimed batch and reports how many rows it touched.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	var n int
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := r.rows.Claim(tx, r.batch, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("claim rows: %w", err)
		}
		n = len(rows)
		for _, row := range rows {
			if err := r.relay(ctx, tx, row); err != nil {
				return err
			}
		}
		return nil
	})
	return n, err
}

func (r *Relay) relay(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) error {
	ctx = r.logg.WithFields(ctx, map[string]any{
		"outbox_id":  row.ID.String(),
		"event_type": row.EventType,
		"order_id":   row.AggregateID,
		"attempt":    row.AttemptCount + 1,
	})

	d, err := r.routes.Resolve(row)
	if err != nil {
		return r.bury(ctx, tx, row, enums.OutboxDLQReasonNonRetryable, err)
	}
	ctx = r.logg.WithFields(ctx, map[string]any{"topic": d.Topic, "event_id": d.Envelope.EventID})

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	msgID, err := r.out.Send(sendCtx, d.Topic, &gcppubsub.Message{Data: row.Payload, Attributes: d.Attributes})
	cancel()

	switch {
	case err == nil:
		if err := r.rows.MarkPublished(tx, row.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", row.ID, err)
		}
		r.logg.Info(r.logg.WithField(ctx, "message_id", msgID), "order event published")
		return nil
	case row.AttemptCount+1 >= r.maxAttempts:
		return r.bury(ctx, tx, row, enums.OutboxDLQReasonMaxAttempts, fmt.Errorf("gave up after %d attempts: %w", r.maxAttempts, err))
	default:
		r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "order event publish failed; will retry")
		if err := r.rows.RecordFailure(tx, row.ID, err); err != nil {
			return fmt.Errorf("mark failed %s: %w", row.ID, err)
		}
		return nil
	}
}

// bury dead-letters row and stops retrying it.
func (r *Relay) bury(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	r.logg.Warn(r.logg.WithFields(ctx, map[string]any{"reason": reason, "error": cause.Error()}), "order event dead-lettered")
	if err := r.dlq.Bury(tx, row, reason, cause); err != nil {
		return fmt.Errorf("dead-letter %s: %w", row.ID, err)
	}
	if err := r.rows.Retire(tx, row.ID, cause, r.maxAttempts); err != nil {
		return fmt.Errorf("retire %s: %w", row.ID, err)
	}
	return nil
}
