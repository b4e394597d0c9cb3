package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kalamart/marketplace-backend/pkg/enums"
)

// Payment tracks the gateway's view of an order's transaction. Mutated only
// by the settlement state machine.
type Payment struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderID           uuid.UUID           `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_payments_order_id"`
	GatewayOrderID    string              `gorm:"column:gateway_order_id;not null;uniqueIndex:ux_payments_gateway_order_id"`
	GatewayPaymentID  *string             `gorm:"column:gateway_payment_id;index"`
	GatewaySignature  *string             `gorm:"column:gateway_signature"`
	Status            enums.PaymentStatus `gorm:"column:status;type:text;not null;default:'created'"`
	CapturedAt        *time.Time          `gorm:"column:captured_at"`
	RefundedAt        *time.Time          `gorm:"column:refunded_at"`
	RefundAmountCents int                 `gorm:"column:refund_amount_cents;not null;default:0"`
	GatewayRefundID   *string             `gorm:"column:gateway_refund_id"`
	FailureReason     *string             `gorm:"column:failure_reason"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Payment) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
