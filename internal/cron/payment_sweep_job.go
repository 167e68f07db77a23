package cron

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/angelmondragon/payflow/internal/reconcile"
	"github.com/angelmondragon/payflow/pkg/db/models"
	"github.com/angelmondragon/payflow/pkg/logger"
)

const (
	PaymentSweepJobName   = "payment-sweep"
	defaultSweepBatchSize = 100
)

type pendingLister interface {
	ListPendingWithSession(ctx context.Context, afterID uint64, limit int) ([]models.Order, error)
}

type sweepReconciler interface {
	Reconcile(ctx context.Context, sig reconcile.Signal) (reconcile.Result, error)
}

type PaymentSweepJobParams struct {
	Logger     *logger.Logger
	Orders     pendingLister
	Reconciler sweepReconciler
	BatchSize  int
}

// PaymentSweepJob re-checks every pending order that reached the processor
// and commits the ones that were paid without a redirect or webhook landing.
type PaymentSweepJob struct {
	logg      *logger.Logger
	orders    pendingLister
	engine    sweepReconciler
	batchSize int
}

func NewPaymentSweepJob(params PaymentSweepJobParams) (*PaymentSweepJob, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("reconciler required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatchSize
	}
	return &PaymentSweepJob{
		logg:      params.Logger,
		orders:    params.Orders,
		engine:    params.Reconciler,
		batchSize: batch,
	}, nil
}

func (j *PaymentSweepJob) Name() string { return PaymentSweepJobName }

func (j *PaymentSweepJob) Run(ctx context.Context) error {
	_, err := j.Sweep(ctx)
	return err
}

// Sweep returns how many orders it moved to paid. Per-order failures are
// logged and collected; the sweep keeps going. Cancellation is honoured
// between orders.
func (j *PaymentSweepJob) Sweep(ctx context.Context) (int, error) {
	var (
		updated, scanned int
		errs             error
		afterID          uint64
	)
	for {
		if err := ctx.Err(); err != nil {
			return updated, multierr.Append(errs, err)
		}
		page, err := j.orders.ListPendingWithSession(ctx, afterID, j.batchSize)
		if err != nil {
			return updated, multierr.Append(errs, fmt.Errorf("list pending orders: %w", err))
		}
		for _, order := range page {
			if err := ctx.Err(); err != nil {
				return updated, multierr.Append(errs, err)
			}
			afterID = order.ID
			scanned++
			transitioned, err := j.reconcileOne(ctx, order)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			if transitioned {
				updated++
			}
		}
		if len(page) < j.batchSize {
			break
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"scanned": scanned,
		"updated": updated,
		"errors":  len(multierr.Errors(errs)),
	})
	j.logg.Info(logCtx, "payment sweep complete")
	return updated, errs
}

func (j *PaymentSweepJob) reconcileOne(ctx context.Context, order models.Order) (bool, error) {
	if !order.HasSession() {
		return false, nil
	}
	orderCtx := j.logg.WithOrderID(ctx, order.ID)
	orderCtx = j.logg.WithSessionID(orderCtx, order.SessionID())
	res, err := j.engine.Reconcile(orderCtx, reconcile.Signal{
		Source:    reconcile.SourceSweep,
		SessionID: order.SessionID(),
	})
	if err != nil {
		j.logg.Warn(j.logg.WithField(orderCtx, "error", err.Error()), "sweep reconcile failed")
		return false, fmt.Errorf("order %d: %w", order.ID, err)
	}
	return res.Outcome == reconcile.OutcomeTransitioned, nil
}
