// Package reconcile owns the single pending -> paid transition. Redirects,
// webhooks and the sweep all funnel through Engine.Reconcile.
package reconcile

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/payflow/internal/broker"
	"github.com/angelmondragon/payflow/internal/orders"
	"github.com/angelmondragon/payflow/pkg/db/models"
	"github.com/angelmondragon/payflow/pkg/enums"
	pkgerrors "github.com/angelmondragon/payflow/pkg/errors"
	"github.com/angelmondragon/payflow/pkg/logger"
	"github.com/angelmondragon/payflow/pkg/outbox"
	"github.com/angelmondragon/payflow/pkg/outbox/payloads"
)

// Source identifies which signal triggered a reconciliation.
type Source string

const (
	SourceRedirect     Source = "redirect"
	SourceWebhook      Source = "webhook"
	SourceSweep        Source = "sweep"
	SourceConfirmation Source = "confirmation"
)

// Outcome classifies what a reconciliation did.
type Outcome string

const (
	OutcomeNotPaid      Outcome = "not_paid"
	OutcomeOrphan       Outcome = "orphan"
	OutcomeAlreadyPaid  Outcome = "already_paid"
	OutcomeTransitioned Outcome = "transitioned"
	OutcomeTerminal     Outcome = "terminal"
	// OutcomeRefConflict: the paid reference is already stored on another
	// order. The order stays pending for an operator to look at.
	OutcomeRefConflict Outcome = "reference_conflict"
)

// Signal is one observation that a session may have been paid. Webhooks carry
// a trusted status (StatusKnown); the other sources let the engine ask the
// processor.
type Signal struct {
	Source          Source
	SessionID       string
	OrderHint       string
	ConfirmationRef string
	Paid            bool
	StatusKnown     bool
}

// Result is reported identically to every caller.
type Result struct {
	OrderID uint64
	Status  enums.OrderStatus
	Outcome Outcome
}

// Paid reports whether the resolved order is paid after this call.
func (r Result) Paid() bool {
	return r.Status == enums.OrderStatusPaid
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	EmitOnce(ctx context.Context, tx *gorm.DB, ev outbox.Event) error
}

type signalRecorder interface {
	IncSignal(source, outcome string)
}

// Deps wires the engine.
type Deps struct {
	Tx      txRunner
	Orders  orders.Repository
	Broker  broker.Broker
	Outbox  outboxEmitter
	Metrics signalRecorder
	Logger  *logger.Logger
}

// Engine resolves signals to orders and commits the paid transition at most once.
type Engine struct {
	tx      txRunner
	orders  orders.Repository
	broker  broker.Broker
	outbox  outboxEmitter
	metrics signalRecorder
	logg    *logger.Logger
	now     func() time.Time
}

func NewEngine(deps Deps) (*Engine, error) {
	if deps.Tx == nil {
		return nil, errors.New("transaction runner is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("orders repository is required")
	}
	if deps.Broker == nil {
		return nil, errors.New("payment broker is required")
	}
	logg := deps.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Engine{
		tx:      deps.Tx,
		orders:  deps.Orders,
		broker:  deps.Broker,
		outbox:  deps.Outbox,
		metrics: deps.Metrics,
		logg:    logg,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Reconcile applies sig. Orphan signals are not errors; callers only see
// errors for processor or storage failures.
func (e *Engine) Reconcile(ctx context.Context, sig Signal) (Result, error) {
	sig.SessionID = strings.TrimSpace(sig.SessionID)
	sig.OrderHint = strings.TrimSpace(sig.OrderHint)
	ctx = e.logg.WithFields(ctx, map[string]any{
		"reconcile_source": string(sig.Source),
		"session_id":       sig.SessionID,
		"order_hint":       sig.OrderHint,
	})

	result, err := e.reconcile(ctx, sig)
	outcome := string(result.Outcome)
	if err != nil {
		outcome = "error"
	}
	if e.metrics != nil {
		e.metrics.IncSignal(string(sig.Source), outcome)
	}
	return result, err
}

func (e *Engine) reconcile(ctx context.Context, sig Signal) (Result, error) {
	if !sig.StatusKnown {
		if sig.SessionID == "" {
			return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
		}
		session, err := e.broker.GetSession(ctx, sig.SessionID)
		if err != nil {
			return Result{}, err
		}
		sig.Paid = session.Paid
		if sig.ConfirmationRef == "" {
			sig.ConfirmationRef = session.ConfirmationRef
		}
		if sig.OrderHint == "" {
			sig.OrderHint = session.OrderHint
		}
	}

	if !sig.Paid {
		e.logg.Debug(ctx, "session not paid; nothing to reconcile")
		return Result{Outcome: OutcomeNotPaid}, nil
	}

	hintID, _ := strconv.ParseUint(sig.OrderHint, 10, 64)
	if sig.SessionID == "" && hintID == 0 {
		e.logOrphan(ctx)
		return Result{Outcome: OutcomeOrphan}, nil
	}

	var result Result
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := e.orders.WithTx(tx)

		order, err := e.lockTarget(ctx, repo, sig.SessionID, hintID)
		if err != nil {
			return err
		}
		if order == nil {
			result = Result{Outcome: OutcomeOrphan}
			return nil
		}

		octx := e.logg.WithOrderID(ctx, order.ID)
		result = Result{OrderID: order.ID, Status: order.Status}

		switch order.Status {
		case enums.OrderStatusPaid:
			result.Outcome = OutcomeAlreadyPaid
			return nil
		case enums.OrderStatusFailed, enums.OrderStatusCancelled:
			result.Outcome = OutcomeTerminal
			e.logg.Warn(octx, "paid signal for a closed order; leaving it unchanged")
			return nil
		}

		if order.HasSession() && sig.SessionID != "" && order.SessionID() != sig.SessionID {
			e.logg.Warn(e.logg.WithField(octx, "stored_session_id", order.SessionID()), "paid session differs from the stored session")
		}

		if err := repo.MarkPaid(ctx, order, sig.ConfirmationRef, sig.SessionID); err != nil {
			if errors.Is(err, orders.ErrReferenceTaken) {
				result.Outcome = OutcomeRefConflict
			}
			return err
		}
		if err := e.emitPaid(ctx, tx, order, sig); err != nil {
			return err
		}

		result.Status = enums.OrderStatusPaid
		result.Outcome = OutcomeTransitioned
		e.logg.Info(octx, "order marked paid")
		return nil
	})
	switch {
	case err != nil && result.Outcome == OutcomeRefConflict:
		// Rolled back; retrying the same signal can never succeed.
		e.logg.Error(e.logg.WithFields(ctx, map[string]any{
			"order_id":         result.OrderID,
			"confirmation_ref": sig.ConfirmationRef,
		}), "paid reference already recorded on another order", err)
		return result, nil
	case err != nil:
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reconcile order")
	}
	if result.Outcome == OutcomeOrphan {
		e.logOrphan(ctx)
	}
	return result, nil
}

// lockTarget resolves by session reference first, then by the order hint.
func (e *Engine) lockTarget(ctx context.Context, repo orders.Repository, sessionID string, hintID uint64) (*models.Order, error) {
	if sessionID != "" {
		order, err := repo.LockBySessionID(ctx, sessionID)
		if err != nil || order != nil {
			return order, err
		}
	}
	if hintID == 0 {
		return nil, nil
	}
	return repo.LockByID(ctx, hintID)
}

func (e *Engine) emitPaid(ctx context.Context, tx *gorm.DB, order *models.Order, sig Signal) error {
	if e.outbox == nil {
		return nil
	}
	return e.outbox.EmitOnce(ctx, tx, outbox.OrderPaid(payloads.OrderPaidEvent{
		OrderID:         order.ID,
		SessionID:       order.SessionID(),
		ConfirmationRef: sig.ConfirmationRef,
		TotalAmount:     order.TotalAmount.StringFixed(2),
		Source:          string(sig.Source),
		PaidAt:          e.now(),
	}))
}

func (e *Engine) logOrphan(ctx context.Context) {
	ctx = e.logg.WithField(ctx, "error_code", string(pkgerrors.CodeOrphanSignal))
	e.logg.Warn(ctx, "paid signal matched no order")
}
