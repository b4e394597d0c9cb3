package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kalamart/marketplace-backend/pkg/enums"
)

// Payout records money owed to one seller for one order. Created pending at
// checkout; status moves only via settlement events or the batch payer.
type Payout struct {
	ID                 uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	OrderID            uuid.UUID          `gorm:"column:order_id;type:uuid;not null;index"`
	SellerID           uuid.UUID          `gorm:"column:seller_id;type:uuid;not null;index"`
	GrossCents         int                `gorm:"column:gross_cents;not null"`
	PlatformFeeCents   int                `gorm:"column:platform_fee_cents;not null"`
	ProcessingFeeCents int                `gorm:"column:processing_fee_cents;not null;default:0"`
	NetCents           int                `gorm:"column:net_cents;not null"`
	Status             enums.PayoutStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	TransferID         *string            `gorm:"column:transfer_id;uniqueIndex:ux_payouts_transfer_id"`
	FailureReason      *string            `gorm:"column:failure_reason"`
	WindowStart        time.Time          `gorm:"column:window_start;not null"`
	WindowEnd          time.Time          `gorm:"column:window_end;not null"`
	CreatedAt          time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Payout) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
