package admin

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/api/controllers/shopper"
	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	"github.com/angelmondragon/storefront-backend/internal/inventory"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type stockSetter interface {
	Set(ctx context.Context, item inventory.Item, qty int) error
	Available(ctx context.Context, item inventory.Item) (int, error)
}

type inventoryRequest struct {
	VariantID *uuid.UUID `json:"variant_id,omitempty"`
	Quantity  *int       `json:"quantity" validate:"required,gte=0"`
}

type inventoryResponse struct {
	ProductID uuid.UUID  `json:"product_id"`
	VariantID *uuid.UUID `json:"variant_id,omitempty"`
	Inventory int        `json:"inventory"`
}

// SetInventory overwrites a product or variant stock counter after a count.
func SetInventory(ledger stockSetter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ledger == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory ledger unavailable"))
			return
		}

		productID, err := shopper.PathUUID(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload inventoryRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		item := inventory.Item{ProductID: productID, VariantID: payload.VariantID}
		if err := ledger.Set(r.Context(), item, *payload.Quantity); err != nil {
			responses.WriteError(r.Context(), logg, w, mapLedgerError(err))
			return
		}

		current, err := ledger.Available(r.Context(), item)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, mapLedgerError(err))
			return
		}

		if logg != nil {
			ctx := logg.WithFields(r.Context(), map[string]any{
				"admin_id":  middleware.UserIDFromContext(r.Context()),
				"item":      item.String(),
				"inventory": current,
			})
			logg.Info(ctx, "admin.inventory.set")
		}
		responses.WriteSuccess(w, inventoryResponse{
			ProductID: productID,
			VariantID: payload.VariantID,
			Inventory: current,
		})
	}
}

func mapLedgerError(err error) error {
	switch {
	case errors.Is(err, inventory.ErrUnknownItem):
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "product not found")
	case errors.Is(err, inventory.ErrInvalidQty):
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "quantity must not be negative")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update inventory")
}
