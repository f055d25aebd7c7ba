package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

// Order is the durable record produced by checkout. Line items and totals are
// frozen at creation; only the tracking log, status and payment sub-record move.
type Order struct {
	ID                uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	OrderNumber       string               `gorm:"column:order_number;not null;uniqueIndex:idx_orders_order_number"`
	UserID            *uuid.UUID           `gorm:"column:user_id;type:uuid;index"`
	SessionID         *string              `gorm:"column:session_id;index"`
	CartID            *uuid.UUID           `gorm:"column:cart_id;type:uuid"`
	Status            enums.OrderStatus    `gorm:"column:status;type:text;not null;default:'pending';index"`
	Currency          string               `gorm:"column:currency;not null"`
	SubtotalCents     int64                `gorm:"column:subtotal_cents;not null"`
	TaxCents          int64                `gorm:"column:tax_cents;not null;default:0"`
	ShippingCents     int64                `gorm:"column:shipping_cents;not null;default:0"`
	DiscountCents     int64                `gorm:"column:discount_cents;not null;default:0"`
	TotalCents        int64                `gorm:"column:total_cents;not null"`
	PromotionCode     *string              `gorm:"column:promotion_code"`
	ShippingMethod    string               `gorm:"column:shipping_method;not null"`
	ShippingAddress   types.Address        `gorm:"column:shipping_address;type:jsonb;serializer:json;not null"`
	BillingAddress    types.Address        `gorm:"column:billing_address;type:jsonb;serializer:json;not null"`
	Payment           OrderPayment         `gorm:"embedded;embeddedPrefix:payment_"`
	ConfirmedAt       *time.Time           `gorm:"column:confirmed_at"`
	ShippedAt         *time.Time           `gorm:"column:shipped_at"`
	DeliveredAt       *time.Time           `gorm:"column:delivered_at"`
	CancelledAt       *time.Time           `gorm:"column:cancelled_at"`
	ReturnRequestedAt *time.Time           `gorm:"column:return_requested_at"`
	ReturnReason      *string              `gorm:"column:return_reason"`
	Items             []OrderLineItem      `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Tracking          []OrderTrackingEntry `gorm:"foreignKey:OrderID;constraint:OnDelete:RESTRICT"`
	CreatedAt         time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

// OrderPayment is embedded into the orders row with a payment_ prefix.
type OrderPayment struct {
	Method        enums.PaymentMethod   `gorm:"column:method;type:text;not null;default:'card'"`
	Provider      enums.PaymentProvider `gorm:"column:provider;type:text;not null;default:'stripe'"`
	IntentID      *string               `gorm:"column:intent_id;uniqueIndex:idx_orders_payment_intent_id"`
	Status        enums.PaymentStatus   `gorm:"column:status;type:text;not null;default:'pending'"`
	PaidCents     int64                 `gorm:"column:paid_cents;not null;default:0"`
	PaidAt        *time.Time            `gorm:"column:paid_at"`
	RefundedCents int64                 `gorm:"column:refunded_cents;not null;default:0"`
	RefundedAt    *time.Time            `gorm:"column:refunded_at"`
	LastRefundID  *string               `gorm:"column:last_refund_id"`
	FailureReason *string               `gorm:"column:failure_reason"`
}

// OrderLineItem freezes catalog data at order time. ReservedQty is the
// quantity held against the inventory ledger for this line; a backordered
// line holds zero.
type OrderLineItem struct {
	ID             uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID  `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID      uuid.UUID  `gorm:"column:product_id;type:uuid;not null"`
	VariantID      *uuid.UUID `gorm:"column:variant_id;type:uuid"`
	Name           string     `gorm:"column:name;not null"`
	ImageURL       *string    `gorm:"column:image_url"`
	SKU            string     `gorm:"column:sku;not null"`
	UnitPriceCents int64      `gorm:"column:unit_price_cents;not null"`
	Quantity       int        `gorm:"column:quantity;not null"`
	LineTotalCents int64      `gorm:"column:line_total_cents;not null"`
	ReservedQty    int        `gorm:"column:reserved_qty;not null;default:0"`
	Backordered    bool       `gorm:"column:backordered;not null;default:false"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (i *OrderLineItem) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}

// OrderTrackingEntry is an append-only row of the order's status history.
type OrderTrackingEntry struct {
	ID        uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OrderID   uuid.UUID         `gorm:"column:order_id;type:uuid;not null;uniqueIndex:idx_order_tracking_seq,priority:1"`
	Seq       int               `gorm:"column:seq;not null;uniqueIndex:idx_order_tracking_seq,priority:2"`
	Status    enums.OrderStatus `gorm:"column:status;type:text;not null"`
	Message   string            `gorm:"column:message;not null"`
	Location  *string           `gorm:"column:location"`
	CreatedAt time.Time         `gorm:"column:created_at;not null"`
}

func (e *OrderTrackingEntry) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return nil
}
