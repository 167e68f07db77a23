package products

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/payflow/pkg/db/models"
)

// Repository reads the fixed product catalog.
type Repository interface {
	FindByID(ctx context.Context, id uint64) (*models.Product, error)
	FindByIDs(ctx context.Context, ids []uint64) (map[uint64]models.Product, error)
	List(ctx context.Context) ([]models.Product, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a catalog repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// FindByID returns nil when the product does not exist.
func (r *repository) FindByID(ctx context.Context, id uint64) (*models.Product, error) {
	var product models.Product
	err := r.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&product).Error
	if err != nil {
		return nil, err
	}
	if product.ID == 0 {
		return nil, nil
	}
	return &product, nil
}

// FindByIDs loads the requested products keyed by id. Missing ids are simply
// absent from the map.
func (r *repository) FindByIDs(ctx context.Context, ids []uint64) (map[uint64]models.Product, error) {
	out := make(map[uint64]models.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.Product
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

func (r *repository) List(ctx context.Context) ([]models.Product, error) {
	var rows []models.Product
	err := r.db.WithContext(ctx).Order("name ASC").Order("id ASC").Find(&rows).Error
	return rows, err
}
