package cart

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
)

// View is the cart as returned to callers, priced from the current catalog.
type View struct {
	ID             uuid.UUID  `json:"id"`
	UserID         *uuid.UUID `json:"user_id,omitempty"`
	SessionID      *string    `json:"session_id,omitempty"`
	SubtotalCents  int64      `json:"subtotal_cents"`
	TotalItemCount int        `json:"total_item_count"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	Items          []LineView `json:"items"`
}

// LineView is one priced cart line. Available is false when the product has
// been deactivated or removed since the line was added; such lines price at zero.
type LineView struct {
	ID             uuid.UUID  `json:"id"`
	ProductID      uuid.UUID  `json:"product_id"`
	VariantID      *uuid.UUID `json:"variant_id,omitempty"`
	Name           string     `json:"name"`
	SKU            string     `json:"sku"`
	ImageURL       *string    `json:"image_url,omitempty"`
	UnitPriceCents int64      `json:"unit_price_cents"`
	Quantity       int        `json:"quantity"`
	LineTotalCents int64      `json:"line_total_cents"`
	Available      bool       `json:"available"`
	AddedAt        time.Time  `json:"added_at"`
}

// IsEmpty reports whether the cart has no lines.
func (v *View) IsEmpty() bool {
	return v == nil || len(v.Items) == 0
}

func buildView(cart *models.Cart, products map[uuid.UUID]*models.Product) *View {
	view := &View{
		ID:        cart.ID,
		UserID:    cart.UserID,
		SessionID: cart.SessionID,
		ExpiresAt: cart.ExpiresAt,
		Items:     make([]LineView, 0, len(cart.Items)),
	}
	for _, item := range cart.Items {
		line := LineView{
			ID:        item.ID,
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
			AddedAt:   item.AddedAt,
		}
		if listing, ok := catalog.Resolve(products[item.ProductID], item.VariantID); ok {
			line.Name = listing.Name
			line.SKU = listing.SKU
			line.ImageURL = listing.ImageURL
			line.Available = listing.Active && listing.Visible
			if line.Available {
				line.UnitPriceCents = listing.PriceCents
				line.LineTotalCents = listing.PriceCents * int64(item.Quantity)
			}
		}
		view.SubtotalCents += line.LineTotalCents
		view.TotalItemCount += item.Quantity
		view.Items = append(view.Items, line)
	}
	return view
}
