package outbox

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/payflow/pkg/db/models"
	"github.com/angelmondragon/payflow/pkg/enums"
)

// errorLimit caps stored error text; processor errors can embed whole responses.
const errorLimit = 1024

// Repository reads and writes outbox_events. Every write except Prune runs on
// the caller's transaction.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, row models.OutboxEvent) error {
	if tx == nil {
		return errNoTx
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	return tx.Create(&row).Error
}

// Queued reports whether orderID already has an event of type t.
func (r *Repository) Queued(tx *gorm.DB, t enums.OutboxEventType, orderID uint64) (bool, error) {
	var n int64
	err := tx.Model(&models.OutboxEvent{}).
		Where(&models.OutboxEvent{
			EventType:     t,
			AggregateType: enums.AggregateOrder,
			AggregateID:   strconv.FormatUint(orderID, 10),
		}).
		Count(&n).Error
	return n > 0, err
}

// Claim locks up to limit unpublished rows, oldest first, skipping rows another
// publisher holds and rows that have used up maxAttempts.
func (r *Repository) Claim(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, errNoTx
	}
	q := tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate, Options: clause.LockingOptionsSkipLocked}).
		Where("published_at IS NULL")
	if maxAttempts > 0 {
		q = q.Where("attempt_count < ?", maxAttempts)
	}
	var rows []models.OutboxEvent
	err := q.Order("created_at, id").Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkPublished(tx *gorm.DB, id uuid.UUID) error {
	return r.update(tx, id, map[string]any{"published_at": time.Now().UTC()})
}

// RecordFailure bumps the attempt count so the row is retried later.
func (r *Repository) RecordFailure(tx *gorm.DB, id uuid.UUID, cause error) error {
	return r.update(tx, id, map[string]any{
		"last_error":    clip(cause.Error()),
		"attempt_count": gorm.Expr("attempt_count + 1"),
	})
}

// Retire pins attempt_count at ceiling so Claim never returns the row again.
func (r *Repository) Retire(tx *gorm.DB, id uuid.UUID, cause error, ceiling int) error {
	return r.update(tx, id, map[string]any{
		"last_error":    clip(cause.Error()),
		"attempt_count": ceiling,
	})
}

func (r *Repository) update(tx *gorm.DB, id uuid.UUID, cols map[string]any) error {
	if tx == nil {
		return errNoTx
	}
	return tx.Model(&models.OutboxEvent{}).Where("id = ?", id).Updates(cols).Error
}

// Prune deletes rows published before cutoff. Rows that took keepAttempts or
// more tries stay behind for inspection.
func (r *Repository) Prune(ctx context.Context, cutoff time.Time, keepAttempts int) (int64, error) {
	q := r.db.WithContext(ctx).Where("published_at IS NOT NULL AND published_at < ?", cutoff)
	if keepAttempts > 0 {
		q = q.Where("attempt_count < ?", keepAttempts)
	}
	res := q.Delete(&models.OutboxEvent{})
	return res.RowsAffected, res.Error
}

func clip(msg string) string {
	if len(msg) > errorLimit {
		return msg[:errorLimit]
	}
	return msg
}
