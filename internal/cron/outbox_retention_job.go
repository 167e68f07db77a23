package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/payflow/pkg/logger"
)

const (
	OutboxRetentionJobName = "outbox-retention"
	outboxRetentionDays    = 30
	// rows that needed this many publish attempts are kept for inspection
	outboxKeepAttempts = 5
)

type outboxPruner interface {
	Prune(ctx context.Context, cutoff time.Time, keepAttempts int) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger       *logger.Logger
	Outbox       outboxPruner
	Retention    int
	KeepAttempts int
}

type outboxRetentionJob struct {
	logg         *logger.Logger
	outbox       outboxPruner
	retention    time.Duration
	keepAttempts int
	now          func() time.Time
}

// NewOutboxRetentionJob deletes order events that were published more than
// Retention days ago.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil || params.Outbox == nil {
		return nil, errors.New("outbox retention: logger and outbox are required")
	}
	days := params.Retention
	if days <= 0 {
		days = outboxRetentionDays
	}
	keep := params.KeepAttempts
	if keep <= 0 {
		keep = outboxKeepAttempts
	}
	return &outboxRetentionJob{
		logg:         params.Logger,
		outbox:       params.Outbox,
		retention:    time.Duration(days) * 24 * time.Hour,
		keepAttempts: keep,
		now:          time.Now,
	}, nil
}

func (j *outboxRetentionJob) Name() string { return OutboxRetentionJobName }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	deleted, err := j.outbox.Prune(ctx, cutoff, j.keepAttempts)
	if err != nil {
		return fmt.Errorf("prune outbox before %s: %w", cutoff.Format(time.DateOnly), err)
	}
	if deleted > 0 {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{"cutoff": cutoff, "rows_deleted": deleted}), "published order events pruned")
	}
	return nil
}
