package orders

import (
	"github.com/shopspring/decimal"
)

// Totals are the monetary fields frozen onto an order, in minor units.
type Totals struct {
	SubtotalCents int64 `json:"subtotal_cents"`
	TaxCents      int64 `json:"tax_cents"`
	ShippingCents int64 `json:"shipping_cents"`
	DiscountCents int64 `json:"discount_cents"`
	TotalCents    int64 `json:"total_cents"`
}

// TaxCents applies rate to subtotal and rounds half-up to whole cents.
func TaxCents(subtotalCents int64, rate decimal.Decimal) int64 {
	if subtotalCents <= 0 || rate.IsZero() {
		return 0
	}
	return decimal.NewFromInt(subtotalCents).Mul(rate).Round(0).IntPart()
}

// ComputeTotals derives tax and the grand total. The discount is capped at the
// subtotal and the grand total never goes below zero.
func ComputeTotals(subtotalCents int64, rate decimal.Decimal, shippingCents, discountCents int64) Totals {
	if discountCents < 0 {
		discountCents = 0
	}
	if discountCents > subtotalCents {
		discountCents = subtotalCents
	}
	t := Totals{
		SubtotalCents: subtotalCents,
		TaxCents:      TaxCents(subtotalCents, rate),
		ShippingCents: shippingCents,
		DiscountCents: discountCents,
	}
	t.TotalCents = t.SubtotalCents + t.TaxCents + t.ShippingCents - t.DiscountCents
	if t.TotalCents < 0 {
		t.TotalCents = 0
	}
	return t
}
