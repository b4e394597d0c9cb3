package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/kalamart/marketplace-backend/pkg/db/models"
	pkgerrors "github.com/kalamart/marketplace-backend/pkg/errors"
	"github.com/kalamart/marketplace-backend/pkg/logger"
)

// Adjustment names a single product stock movement.
type Adjustment struct {
	ProductID uuid.UUID
	Qty       int
}

// Service moves product stock with single-statement conditional updates.
// The stock >= qty guard lives in the WHERE clause, so two concurrent
// decrements can never drive stock negative regardless of isolation level.
type Service struct {
	logg *logger.Logger
}

func NewService(logg *logger.Logger) (*Service, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{logg: logg}, nil
}

// CheckAvailability verifies stock without mutating it. Checkout uses this
// as a best-effort early reject; the authoritative decrement happens at
// payment capture.
func (s *Service) CheckAvailability(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if err := validateAdjustment(productID, qty); err != nil {
		return err
	}
	var product models.Product
	err := tx.WithContext(ctx).
		Select("id", "stock").
		First(&product, "id = ?", productID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading product stock")
	}
	if product.Stock < qty {
		return pkgerrors.New(pkgerrors.CodeInsufficientStock,
			fmt.Sprintf("product %s has %d in stock, %d requested", productID, product.Stock, qty))
	}
	return nil
}

// Decrement removes qty from stock iff enough remains.
func (s *Service) Decrement(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if err := validateAdjustment(productID, qty); err != nil {
		return err
	}
	result := tx.WithContext(ctx).Exec(
		`UPDATE products SET stock = stock - ? WHERE id = ? AND stock >= ?`,
		qty, productID, qty,
	)
	if result.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, result.Error, "decrementing stock")
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeInsufficientStock,
			fmt.Sprintf("product %s lacks stock for qty %d", productID, qty))
	}
	return nil
}

// Restore returns qty to stock. Restoring a product that no longer exists
// is reported; restoring before any decrement is the caller's concern.
func (s *Service) Restore(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if err := validateAdjustment(productID, qty); err != nil {
		return err
	}
	result := tx.WithContext(ctx).Exec(
		`UPDATE products SET stock = stock + ? WHERE id = ?`,
		qty, productID,
	)
	if result.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, result.Error, "restoring stock")
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	return nil
}

// DecrementAll applies every adjustment or none: the first failure aborts
// so the surrounding transaction rolls the earlier decrements back.
func (s *Service) DecrementAll(ctx context.Context, tx *gorm.DB, adjustments []Adjustment) error {
	for _, adj := range adjustments {
		if err := s.Decrement(ctx, tx, adj.ProductID, adj.Qty); err != nil {
			return err
		}
	}
	return nil
}

// RestoreAll attempts every restore and aggregates failures, since a partial
// restore is still better than none when unwinding a cancelled order.
func (s *Service) RestoreAll(ctx context.Context, tx *gorm.DB, adjustments []Adjustment) error {
	var errs error
	for _, adj := range adjustments {
		if err := s.Restore(ctx, tx, adj.ProductID, adj.Qty); err != nil {
			s.logg.Error(ctx, "stock restore failed", err)
			errs = multierr.Append(errs, fmt.Errorf("product %s: %w", adj.ProductID, err))
		}
	}
	return errs
}

func validateAdjustment(productID uuid.UUID, qty int) error {
	if productID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	return nil
}
