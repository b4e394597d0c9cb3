package catalog

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kalamart/marketplace-backend/pkg/db/models"
	pkgerrors "github.com/kalamart/marketplace-backend/pkg/errors"
)

// Repository reads the catalog slice checkout depends on. Prices and stock
// always come from here, never from client input.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) session(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

// FindByIDs loads products keyed by id. Missing ids are simply absent from
// the result; callers decide whether that is an error.
func (r *Repository) FindByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) (map[uuid.UUID]models.Product, error) {
	out := make(map[uuid.UUID]models.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.Product
	err := r.session(tx).WithContext(ctx).
		Where("id IN ?", ids).
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading products")
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

// Create inserts a product. Used by admin seeding and tests.
func (r *Repository) Create(ctx context.Context, tx *gorm.DB, product *models.Product) error {
	if err := r.session(tx).WithContext(ctx).Create(product).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating product")
	}
	return nil
}
