package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Cart belongs to exactly one of a user or an anonymous session.
// SubtotalCents and TotalItemCount are recomputed on every mutation.
type Cart struct {
	ID             uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	UserID         *uuid.UUID `gorm:"column:user_id;type:uuid;uniqueIndex;check:chk_carts_identity,(user_id IS NULL) <> (session_id IS NULL)"`
	SessionID      *string    `gorm:"column:session_id;uniqueIndex"`
	SubtotalCents  int64      `gorm:"column:subtotal_cents;not null;default:0"`
	TotalItemCount int        `gorm:"column:total_item_count;not null;default:0"`
	ExpiresAt      *time.Time `gorm:"column:expires_at;index"`
	Items          []CartItem `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Cart) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

// IsAnonymous reports whether the cart is keyed by a session id.
func (c *Cart) IsAnonymous() bool {
	return c != nil && c.SessionID != nil
}

// CartItem is one (product, variant) line. Position keeps insertion order.
type CartItem struct {
	ID        uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	CartID    uuid.UUID  `gorm:"column:cart_id;type:uuid;not null;index"`
	ProductID uuid.UUID  `gorm:"column:product_id;type:uuid;not null"`
	VariantID *uuid.UUID `gorm:"column:variant_id;type:uuid"`
	Quantity  int        `gorm:"column:quantity;not null;check:chk_cart_items_quantity,quantity >= 1"`
	Position  int        `gorm:"column:position;not null;default:0"`
	AddedAt   time.Time  `gorm:"column:added_at;not null"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (i *CartItem) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	if i.AddedAt.IsZero() {
		i.AddedAt = time.Now().UTC()
	}
	return nil
}
