package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dbpkg "github.com/angelmondragon/payflow/pkg/db"
	"github.com/angelmondragon/payflow/pkg/db/models"
	"github.com/angelmondragon/payflow/pkg/enums"
	pkgerrors "github.com/angelmondragon/payflow/pkg/errors"
)

// ErrNotPending is returned by writes that require a pending order.
var ErrNotPending = errors.New("order is not pending")

// ErrReferenceTaken means the confirmation or session reference is already
// stored on a different order.
var ErrReferenceTaken = errors.New("payment reference belongs to another order")

// Repository is the ledger of orders and their items. Finders return
// (nil, nil) on a miss.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) error
	FindByID(ctx context.Context, id uint64) (*models.Order, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	FindBySessionID(ctx context.Context, sessionID string) (*models.Order, error)
	FindRecentPending(ctx context.Context, since time.Time, total decimal.Decimal) ([]models.Order, error)
	ListPendingWithSession(ctx context.Context, afterID uint64, limit int) ([]models.Order, error)
	LockByID(ctx context.Context, id uint64) (*models.Order, error)
	LockBySessionID(ctx context.Context, sessionID string) (*models.Order, error)
	AttachSession(ctx context.Context, id uint64, sessionID string) error
	MarkFailed(ctx context.Context, id uint64) (bool, error)
	MarkPaid(ctx context.Context, order *models.Order, confirmationRef, sessionID string) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// CreateWithItems persists the order and all of its items, or nothing. A
// collision on the deduplication key or session reference is reported as
// CONFLICT.
func (r *repository) CreateWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	if order == nil {
		return errors.New("order is required")
	}
	if len(items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "order must contain at least one item")
	}
	if order.Status == "" {
		order.Status = enums.OrderStatusPending
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(order).Error; err != nil {
			return err
		}
		for i := range items {
			items[i].ID = 0
			items[i].OrderID = order.ID
		}
		return tx.Omit(clause.Associations).Create(&items).Error
	})
	if err != nil {
		order.ID = 0
		if dbpkg.IsUniqueViolation(err, "") {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "order already exists for this purchase")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create order")
	}
	order.Items = items
	return nil
}

func (r *repository) FindByID(ctx context.Context, id uint64) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Preload("Items.Product").
		Where("id = ?", id).
		First(&order).Error
	return orNil(&order, err)
}

func (r *repository) FindByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	if key == "" {
		return nil, nil
	}
	var order models.Order
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&order).Error
	return orNil(&order, err)
}

func (r *repository) FindBySessionID(ctx context.Context, sessionID string) (*models.Order, error) {
	if sessionID == "" {
		return nil, nil
	}
	var order models.Order
	err := r.db.WithContext(ctx).Where("stripe_session_id = ?", sessionID).First(&order).Error
	return orNil(&order, err)
}

// FindRecentPending returns pending orders created at or after since whose
// total equals total, newest first, with their items loaded.
func (r *repository) FindRecentPending(ctx context.Context, since time.Time, total decimal.Decimal) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("status = ? AND created_at >= ? AND total_amount = ?", enums.OrderStatusPending, since.UTC(), total).
		Order("created_at DESC").
		Order("id DESC").
		Find(&rows).Error
	return rows, err
}

// ListPendingWithSession pages pending orders that carry a session reference
// by ascending id.
func (r *repository) ListPendingWithSession(ctx context.Context, afterID uint64, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND stripe_session_id IS NOT NULL AND stripe_session_id <> '' AND id > ?", enums.OrderStatusPending, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// LockByID must run inside a transaction (see WithTx).
func (r *repository) LockByID(ctx context.Context, id uint64) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&order).Error
	return orNil(&order, err)
}

// LockBySessionID must run inside a transaction (see WithTx).
func (r *repository) LockBySessionID(ctx context.Context, sessionID string) (*models.Order, error) {
	if sessionID == "" {
		return nil, nil
	}
	var order models.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("stripe_session_id = ?", sessionID).
		First(&order).Error
	return orNil(&order, err)
}

// AttachSession records the processor session on an order that has none yet.
func (r *repository) AttachSession(ctx context.Context, id uint64, sessionID string) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND (stripe_session_id IS NULL OR stripe_session_id = '')", id).
		Update("stripe_session_id", sessionID)
	if res.Error != nil {
		if dbpkg.IsUniqueViolation(res.Error, "") {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, res.Error, "session already attached to another order")
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "order already has a session")
	}
	return nil
}

// MarkFailed moves a pending order to failed. It reports false when the order
// was no longer pending.
func (r *repository) MarkFailed(ctx context.Context, id uint64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", id, enums.OrderStatusPending).
		Update("status", enums.OrderStatusFailed)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkPaid flips a locked pending order to paid, records the confirmation
// reference and fills the session reference only when none is stored.
func (r *repository) MarkPaid(ctx context.Context, order *models.Order, confirmationRef, sessionID string) error {
	if order == nil {
		return errors.New("order is required")
	}
	updates := map[string]any{"status": enums.OrderStatusPaid}
	if confirmationRef != "" {
		updates["stripe_payment_intent_id"] = confirmationRef
	}
	if !order.HasSession() && sessionID != "" {
		updates["stripe_session_id"] = sessionID
	}

	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", order.ID, enums.OrderStatusPending).
		Updates(updates)
	if dbpkg.IsUniqueViolation(res.Error, "") {
		return fmt.Errorf("order %d: %w", order.ID, ErrReferenceTaken)
	}
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotPending
	}

	order.Status = enums.OrderStatusPaid
	if ref, ok := updates["stripe_payment_intent_id"].(string); ok {
		order.StripePaymentIntentID = &ref
	}
	if sid, ok := updates["stripe_session_id"].(string); ok {
		order.StripeSessionID = &sid
	}
	return nil
}

func orNil(order *models.Order, err error) (*models.Order, error) {
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return order, nil
}
