package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kalamart/marketplace-backend/pkg/enums"
)

// Product is the slice of the catalog the settlement core depends on:
// authoritative price, live stock and the owning seller.
type Product struct {
	ID         uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	SellerID   uuid.UUID           `gorm:"column:seller_id;type:uuid;not null;index"`
	Name       string              `gorm:"column:name;not null"`
	SKU        *string             `gorm:"column:sku"`
	PriceCents int                 `gorm:"column:price_cents;not null"`
	Stock      int                 `gorm:"column:stock;not null;default:0"`
	Status     enums.ProductStatus `gorm:"column:status;type:text;not null;default:'active'"`
	CreatedAt  time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
