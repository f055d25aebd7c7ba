package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// PromotionCode is a redeemable discount. Percent codes use PercentOff
// (0.15 = 15%), fixed codes use AmountOffCents.
type PromotionCode struct {
	ID               uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	Code             string              `gorm:"column:code;not null;uniqueIndex"`
	Kind             enums.PromotionKind `gorm:"column:kind;type:text;not null"`
	PercentOff       decimal.Decimal     `gorm:"column:percent_off;type:numeric(5,4);not null;default:0"`
	AmountOffCents   int64               `gorm:"column:amount_off_cents;not null;default:0"`
	MinSubtotalCents int64               `gorm:"column:min_subtotal_cents;not null;default:0"`
	Active           bool                `gorm:"column:active;not null"`
	ExpiresAt        *time.Time          `gorm:"column:expires_at"`
	CreatedAt        time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *PromotionCode) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
