package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/angelmondragon/payflow/pkg/logger"
)

const defaultInterval = 5 * time.Minute

// Job is one unit of scheduled work. Jobs in a cycle run in order.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type jobRecorder interface {
	ObserveRun(job string, took time.Duration, err error)
}

type ServiceParams struct {
	Logger   *logger.Logger
	Jobs     []Job
	Lock     Lock
	Metrics  jobRecorder
	Interval time.Duration
}

// Service runs its jobs every interval while holding Lock.
type Service struct {
	logg     *logger.Logger
	jobs     []Job
	lock     Lock
	metrics  jobRecorder
	interval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("cron: logger is nil")
	}
	if params.Lock == nil {
		return nil, errors.New("cron: lock is nil")
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		logg:     params.Logger,
		jobs:     lo.Compact(params.Jobs),
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: interval,
	}, nil
}

// Run starts a cycle now and then once per interval until ctx ends. Cycles
// whose lock is held elsewhere are skipped.
func (s *Service) Run(ctx context.Context) error {
	next := time.NewTimer(0)
	defer next.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-next.C:
		}
		if err := s.cycle(ctx); err != nil {
			s.logg.Error(ctx, "cron cycle failed", err)
		}
		next.Reset(s.interval)
	}
}

func (s *Service) cycle(ctx context.Context) error {
	held, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !held {
		s.logg.Info(ctx, "cron lock held elsewhere; skipping cycle")
		return nil
	}
	defer func() {
		if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Error(ctx, "release cron lock", err)
		}
	}()

	for _, job := range s.jobs {
		if ctx.Err() != nil {
			return nil
		}
		s.runJob(ctx, job)
	}
	return nil
}

func (s *Service) runJob(ctx context.Context, job Job) {
	name := job.Name()
	ctx = s.logg.WithField(ctx, "job", name)
	started := time.Now()
	err := job.Run(ctx)
	took := time.Since(started)
	ctx = s.logg.WithField(ctx, "duration_ms", took.Milliseconds())

	if s.metrics != nil {
		s.metrics.ObserveRun(name, took, err)
	}
	if err != nil {
		s.logg.Error(ctx, "cron job failed", err)
		return
	}
	s.logg.Info(ctx, "cron job done")
}
