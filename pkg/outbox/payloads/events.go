package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// OrderCreatedEvent is emitted in the same transaction as a new order row.
type OrderCreatedEvent struct {
	OrderID     uuid.UUID  `json:"order_id"`
	OrderNumber string     `json:"order_number"`
	UserID      *uuid.UUID `json:"user_id,omitempty"`
	TotalCents  int64      `json:"total_cents"`
	Currency    string     `json:"currency"`
	ItemCount   int        `json:"item_count"`
}

// OrderStatusChangedEvent mirrors one appended tracking entry.
type OrderStatusChangedEvent struct {
	OrderID     uuid.UUID         `json:"order_id"`
	OrderNumber string            `json:"order_number"`
	From        enums.OrderStatus `json:"from"`
	To          enums.OrderStatus `json:"to"`
	Message     string            `json:"message,omitempty"`
	Location    *string           `json:"location,omitempty"`
	ChangedAt   time.Time         `json:"changed_at"`
}

// PaymentEvent reports a reconciled payment outcome.
type PaymentEvent struct {
	OrderID       uuid.UUID           `json:"order_id"`
	OrderNumber   string              `json:"order_number"`
	IntentID      string              `json:"intent_id"`
	Status        enums.PaymentStatus `json:"status"`
	AmountCents   int64               `json:"amount_cents"`
	FailureReason string              `json:"failure_reason,omitempty"`
}

// OrderRefundedEvent reports money returned to the customer.
type OrderRefundedEvent struct {
	OrderID       uuid.UUID `json:"order_id"`
	OrderNumber   string    `json:"order_number"`
	RefundID      string    `json:"refund_id,omitempty"`
	RefundedCents int64     `json:"refunded_cents"`
	FullyRefunded bool      `json:"fully_refunded"`
	RefundedAt    time.Time `json:"refunded_at"`
}
