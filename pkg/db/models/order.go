package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kalamart/marketplace-backend/pkg/enums"
	"github.com/kalamart/marketplace-backend/pkg/types"
)

// Order is the aggregate root produced by checkout. Totals are derived once
// at creation time and never recomputed; the gateway was charged from them.
type Order struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	UserID          uuid.UUID           `gorm:"column:user_id;type:uuid;not null;index"`
	OrderNumber     string              `gorm:"column:order_number;not null;uniqueIndex:ux_orders_order_number"`
	Status          enums.OrderStatus   `gorm:"column:status;type:text;not null;default:'pending_payment'"`
	Currency        enums.Currency      `gorm:"column:currency;type:text;not null;default:'INR'"`
	SubtotalCents   int                 `gorm:"column:subtotal_cents;not null"`
	TaxCents        int                 `gorm:"column:tax_cents;not null;default:0"`
	ShippingCents   int                 `gorm:"column:shipping_cents;not null;default:0"`
	DiscountCents   int                 `gorm:"column:discount_cents;not null;default:0"`
	GrandTotalCents int                 `gorm:"column:grand_total_cents;not null"`
	ShippingAddress *types.Address      `gorm:"column:shipping_address;type:jsonb;serializer:json"`
	CancelReason    *string             `gorm:"column:cancel_reason"`
	Items           []OrderItem         `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Payment         *Payment            `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Payouts         []Payout            `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	StatusHistory   []OrderStatusChange `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// IDs are generated app-side so the models behave identically on
// postgres and the sqlite test databases.
func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
