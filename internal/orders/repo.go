package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kalamart/marketplace-backend/pkg/db/models"
	"github.com/kalamart/marketplace-backend/pkg/enums"
)

// Repository persists orders, payments and status history. Transitions are
// conditional single-statement updates: the expected current status sits in
// the WHERE clause, so a lost race surfaces as applied=false instead of a
// double write.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error)
	CreatePayment(ctx context.Context, payment *models.Payment) (*models.Payment, error)

	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Order, error)
	FindPaymentByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	FindPaymentByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*models.Payment, error)

	Transition(ctx context.Context, orderID uuid.UUID, from, to enums.OrderStatus, note *string) (bool, error)
	SetCancelReason(ctx context.Context, orderID uuid.UUID, reason string) error
	TransitionPayment(ctx context.Context, paymentID uuid.UUID, from []enums.PaymentStatus, updates map[string]any) (bool, error)

	StatusHistory(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusChange, error)
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

func (r *repository) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return nil, err
	}
	return order, nil
}

func (r *repository) CreatePayment(ctx context.Context, payment *models.Payment) (*models.Payment, error) {
	if err := r.db.WithContext(ctx).Create(payment).Error; err != nil {
		return nil, err
	}
	return payment, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("Payment").
		Preload("Payouts").
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("Payment").
		Preload("Payouts").
		Where("order_number = ?", orderNumber).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Order, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("gateway_order_id = ?", gatewayOrderID).
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return r.FindByID(ctx, payment.OrderID)
}

func (r *repository) FindPaymentByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindPaymentByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("gateway_payment_id = ?", gatewayPaymentID).
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// Transition moves the order from one exact status to another and appends
// the history row. Returns false when the precondition no longer holds.
func (r *repository) Transition(ctx context.Context, orderID uuid.UUID, from, to enums.OrderStatus, note *string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, from).
		Updates(map[string]any{
			"status":     to,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}

	history := models.OrderStatusChange{
		OrderID:    orderID,
		FromStatus: &from,
		ToStatus:   to,
		Note:       note,
	}
	if err := r.db.WithContext(ctx).Create(&history).Error; err != nil {
		return false, err
	}
	return true, nil
}

func (r *repository) SetCancelReason(ctx context.Context, orderID uuid.UUID, reason string) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Update("cancel_reason", reason).Error
}

// TransitionPayment applies updates iff the payment currently holds one of
// the expected statuses.
func (r *repository) TransitionPayment(ctx context.Context, paymentID uuid.UUID, from []enums.PaymentStatus, updates map[string]any) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	result := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status IN ?", paymentID, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) StatusHistory(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusChange, error) {
	var rows []models.OrderStatusChange
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}
