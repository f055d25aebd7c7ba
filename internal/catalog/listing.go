package catalog

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
)

// Listing is the purchasable view of a product, or of one of its variants.
// Stock and price come from the variant when one is referenced.
type Listing struct {
	ProductID      uuid.UUID
	VariantID      *uuid.UUID
	Name           string
	SKU            string
	ImageURL       *string
	PriceCents     int64
	Active         bool
	Visible        bool
	TrackInventory bool
	AllowBackorder bool
	Inventory      int
}

// Resolve builds the listing for the product, or for variantID when set. It
// reports false when the variant does not belong to the product.
func Resolve(product *models.Product, variantID *uuid.UUID) (Listing, bool) {
	if product == nil {
		return Listing{}, false
	}
	listing := Listing{
		ProductID:      product.ID,
		Name:           product.Name,
		SKU:            product.SKU,
		ImageURL:       product.ImageURL,
		PriceCents:     product.PriceCents,
		Active:         product.IsActive,
		Visible:        product.IsVisible,
		TrackInventory: product.TrackInventory,
		AllowBackorder: product.AllowBackorder,
		Inventory:      product.Inventory,
	}
	if variantID == nil {
		return listing, true
	}
	for i := range product.Variants {
		variant := product.Variants[i]
		if variant.ID != *variantID {
			continue
		}
		id := variant.ID
		listing.VariantID = &id
		listing.Name = product.Name + " - " + variant.Name
		listing.SKU = variant.SKU
		listing.Active = product.IsActive && variant.IsActive
		listing.Inventory = variant.Inventory
		if variant.PriceCents != nil {
			listing.PriceCents = *variant.PriceCents
		}
		return listing, true
	}
	return Listing{}, false
}

// Purchasable reports whether the listing can be sold in the given quantity.
func (l Listing) Purchasable(qty int) bool {
	if !l.Active || !l.Visible {
		return false
	}
	return !l.TrackInventory || l.AllowBackorder || l.Inventory >= qty
}
