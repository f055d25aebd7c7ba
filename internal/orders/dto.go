package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

// OrderSummary is the list representation of an order.
type OrderSummary struct {
	ID            uuid.UUID           `json:"id"`
	OrderNumber   string              `json:"order_number"`
	Status        enums.OrderStatus   `json:"status"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
	TotalCents    int64               `json:"total_cents"`
	Currency      string              `json:"currency"`
	ItemCount     int                 `json:"item_count"`
	CreatedAt     time.Time           `json:"created_at"`
}

// OrderList is one page of an owner's orders.
type OrderList struct {
	Orders     []OrderSummary `json:"orders"`
	NextCursor *string        `json:"next_cursor,omitempty"`
}

// OrderDetail is the full order as returned by the API.
type OrderDetail struct {
	ID                uuid.UUID         `json:"id"`
	OrderNumber       string            `json:"order_number"`
	Status            enums.OrderStatus `json:"status"`
	Currency          string            `json:"currency"`
	Totals            Totals            `json:"totals"`
	PromotionCode     *string           `json:"promotion_code,omitempty"`
	ShippingMethod    string            `json:"shipping_method"`
	ShippingAddress   types.Address     `json:"shipping_address"`
	BillingAddress    types.Address     `json:"billing_address"`
	Payment           PaymentDetail     `json:"payment"`
	Items             []LineDetail      `json:"items"`
	Tracking          []TrackingEntry   `json:"tracking"`
	ConfirmedAt       *time.Time        `json:"confirmed_at,omitempty"`
	ShippedAt         *time.Time        `json:"shipped_at,omitempty"`
	DeliveredAt       *time.Time        `json:"delivered_at,omitempty"`
	CancelledAt       *time.Time        `json:"cancelled_at,omitempty"`
	ReturnRequestedAt *time.Time        `json:"return_requested_at,omitempty"`
	ReturnReason      *string           `json:"return_reason,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

type PaymentDetail struct {
	Method        enums.PaymentMethod   `json:"method"`
	Provider      enums.PaymentProvider `json:"provider"`
	Status        enums.PaymentStatus   `json:"status"`
	IntentID      *string               `json:"intent_id,omitempty"`
	PaidCents     int64                 `json:"paid_cents"`
	PaidAt        *time.Time            `json:"paid_at,omitempty"`
	RefundedCents int64                 `json:"refunded_cents"`
	RefundedAt    *time.Time            `json:"refunded_at,omitempty"`
	FailureReason *string               `json:"failure_reason,omitempty"`
}

type LineDetail struct {
	ProductID      uuid.UUID  `json:"product_id"`
	VariantID      *uuid.UUID `json:"variant_id,omitempty"`
	Name           string     `json:"name"`
	SKU            string     `json:"sku"`
	ImageURL       *string    `json:"image_url,omitempty"`
	UnitPriceCents int64      `json:"unit_price_cents"`
	Quantity       int        `json:"quantity"`
	LineTotalCents int64      `json:"line_total_cents"`
	Backordered    bool       `json:"backordered"`
}

type TrackingEntry struct {
	Status    enums.OrderStatus `json:"status"`
	Message   string            `json:"message"`
	Location  *string           `json:"location,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func summarize(order *models.Order) OrderSummary {
	count := 0
	for _, item := range order.Items {
		count += item.Quantity
	}
	return OrderSummary{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        order.Status,
		PaymentStatus: order.Payment.Status,
		TotalCents:    order.TotalCents,
		Currency:      order.Currency,
		ItemCount:     count,
		CreatedAt:     order.CreatedAt,
	}
}

// Detail maps a loaded order into its API shape.
func Detail(order *models.Order) OrderDetail {
	out := OrderDetail{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		Status:      order.Status,
		Currency:    order.Currency,
		Totals: Totals{
			SubtotalCents: order.SubtotalCents,
			TaxCents:      order.TaxCents,
			ShippingCents: order.ShippingCents,
			DiscountCents: order.DiscountCents,
			TotalCents:    order.TotalCents,
		},
		PromotionCode:   order.PromotionCode,
		ShippingMethod:  order.ShippingMethod,
		ShippingAddress: order.ShippingAddress,
		BillingAddress:  order.BillingAddress,
		Payment: PaymentDetail{
			Method:        order.Payment.Method,
			Provider:      order.Payment.Provider,
			Status:        order.Payment.Status,
			IntentID:      order.Payment.IntentID,
			PaidCents:     order.Payment.PaidCents,
			PaidAt:        order.Payment.PaidAt,
			RefundedCents: order.Payment.RefundedCents,
			RefundedAt:    order.Payment.RefundedAt,
			FailureReason: order.Payment.FailureReason,
		},
		Items:             make([]LineDetail, 0, len(order.Items)),
		Tracking:          make([]TrackingEntry, 0, len(order.Tracking)),
		ConfirmedAt:       order.ConfirmedAt,
		ShippedAt:         order.ShippedAt,
		DeliveredAt:       order.DeliveredAt,
		CancelledAt:       order.CancelledAt,
		ReturnRequestedAt: order.ReturnRequestedAt,
		ReturnReason:      order.ReturnReason,
		CreatedAt:         order.CreatedAt,
	}
	for _, item := range order.Items {
		out.Items = append(out.Items, LineDetail{
			ProductID:      item.ProductID,
			VariantID:      item.VariantID,
			Name:           item.Name,
			SKU:            item.SKU,
			ImageURL:       item.ImageURL,
			UnitPriceCents: item.UnitPriceCents,
			Quantity:       item.Quantity,
			LineTotalCents: item.LineTotalCents,
			Backordered:    item.Backordered,
		})
	}
	for _, entry := range order.Tracking {
		out.Tracking = append(out.Tracking, TrackingEntry{
			Status:    entry.Status,
			Message:   entry.Message,
			Location:  entry.Location,
			CreatedAt: entry.CreatedAt,
		})
	}
	return out
}
