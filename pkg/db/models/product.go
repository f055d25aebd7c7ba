package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Product is the catalog row read by checkout. Inventory is only mutated
// through the inventory ledger's conditional updates.
type Product struct {
	ID             uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	SKU            string           `gorm:"column:sku;not null;uniqueIndex"`
	Name           string           `gorm:"column:name;not null"`
	ImageURL       *string          `gorm:"column:image_url"`
	PriceCents     int64            `gorm:"column:price_cents;not null"`
	IsActive       bool             `gorm:"column:is_active;not null"`
	IsVisible      bool             `gorm:"column:is_visible;not null"`
	TrackInventory bool             `gorm:"column:track_inventory;not null"`
	AllowBackorder bool             `gorm:"column:allow_backorder;not null;default:false"`
	Inventory      int              `gorm:"column:inventory;not null;default:0;check:chk_products_inventory,inventory >= 0"`
	Variants       []ProductVariant `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
	CreatedAt      time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// ProductVariant overrides price and carries its own stock when referenced.
type ProductVariant struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ProductID  uuid.UUID `gorm:"column:product_id;type:uuid;not null;index"`
	SKU        string    `gorm:"column:sku;not null;uniqueIndex"`
	Name       string    `gorm:"column:name;not null"`
	PriceCents *int64    `gorm:"column:price_cents"`
	IsActive   bool      `gorm:"column:is_active;not null"`
	Inventory  int       `gorm:"column:inventory;not null;default:0;check:chk_product_variants_inventory,inventory >= 0"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (v *ProductVariant) BeforeCreate(*gorm.DB) error {
	ensureID(&v.ID)
	return nil
}
