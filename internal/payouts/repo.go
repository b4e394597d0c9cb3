package payouts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kalamart/marketplace-backend/pkg/db/models"
	"github.com/kalamart/marketplace-backend/pkg/enums"
)

// Repository owns the payout ledger. Status moves only through conditional
// updates; the expected current status is part of every WHERE clause.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateAll(ctx context.Context, rows []models.Payout) error
	FindByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payout, error)
	FindBySeller(ctx context.Context, sellerID uuid.UUID) ([]models.Payout, error)
	FindByTransferID(ctx context.Context, transferID string) (*models.Payout, error)

	MarkProcessing(ctx context.Context, payoutID uuid.UUID, transferID string) (bool, error)
	TransitionByTransfer(ctx context.Context, transferID string, from, to enums.PayoutStatus, reason *string) (bool, error)
	ReverseForOrder(ctx context.Context, orderID uuid.UUID, reason string) (int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateAll(ctx context.Context, rows []models.Payout) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&rows).Error
}

func (r *repository) FindByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payout, error) {
	var rows []models.Payout
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) FindBySeller(ctx context.Context, sellerID uuid.UUID) ([]models.Payout, error) {
	var rows []models.Payout
	err := r.db.WithContext(ctx).
		Where("seller_id = ?", sellerID).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) FindByTransferID(ctx context.Context, transferID string) (*models.Payout, error) {
	var row models.Payout
	err := r.db.WithContext(ctx).
		Where("transfer_id = ?", transferID).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// MarkProcessing attaches the gateway transfer id and moves the row out of
// pending. A row already processing keeps its original transfer id.
func (r *repository) MarkProcessing(ctx context.Context, payoutID uuid.UUID, transferID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Payout{}).
		Where("id = ? AND status = ?", payoutID, enums.PayoutStatusPending).
		Updates(map[string]any{
			"status":      enums.PayoutStatusProcessing,
			"transfer_id": transferID,
			"updated_at":  time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) TransitionByTransfer(ctx context.Context, transferID string, from, to enums.PayoutStatus, reason *string) (bool, error) {
	updates := map[string]any{
		"status":     to,
		"updated_at": time.Now(),
	}
	if reason != nil {
		updates["failure_reason"] = *reason
	}
	result := r.db.WithContext(ctx).
		Model(&models.Payout{}).
		Where("transfer_id = ? AND status = ?", transferID, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ReverseForOrder voids every not-yet-settled payout for the order. Rows
// already completed are left alone; clawing money back is an operator task.
func (r *repository) ReverseForOrder(ctx context.Context, orderID uuid.UUID, reason string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Payout{}).
		Where("order_id = ? AND status IN ?", orderID,
			[]enums.PayoutStatus{enums.PayoutStatusPending, enums.PayoutStatusProcessing}).
		Updates(map[string]any{
			"status":         enums.PayoutStatusReversed,
			"failure_reason": reason,
			"updated_at":     time.Now(),
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
