package cart

import (
	"net/http"

	"github.com/angelmondragon/storefront-backend/api/controllers/shopper"
	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	cartsvc "github.com/angelmondragon/storefront-backend/internal/cart"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// Fetch returns the shopper's cart, creating an empty one on first access.
func Fetch(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}

		identity, err := shopper.Resolve(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view, err := svc.Get(r.Context(), identity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, view)
	}
}

// AddItem adds a product line or increases the quantity of an existing one.
func AddItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}

		identity, err := shopper.Resolve(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload addItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view, err := svc.AddItem(r.Context(), identity, cartsvc.AddItemInput{
			ProductID: payload.ProductID,
			VariantID: payload.VariantID,
			Quantity:  payload.Quantity,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, view)
	}
}

// UpdateItem sets a line quantity. Zero removes the line.
func UpdateItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}

		identity, err := shopper.Resolve(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		itemID, err := shopper.PathUUID(r, "itemId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload updateItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view, err := svc.UpdateItem(r.Context(), identity, itemID, payload.Quantity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, view)
	}
}

// RemoveItem deletes a single line.
func RemoveItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}

		identity, err := shopper.Resolve(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		itemID, err := shopper.PathUUID(r, "itemId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view, err := svc.RemoveItem(r.Context(), identity, itemID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, view)
	}
}

// Clear empties the cart but keeps the cart record.
func Clear(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}

		identity, err := shopper.Resolve(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view, err := svc.Clear(r.Context(), identity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, view)
	}
}

// Merge folds the anonymous session cart into the signed-in user's cart.
// Both the bearer token and the X-Session-ID header must be present.
func Merge(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}

		userID, err := shopper.RequireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sessionID := middleware.SessionIDFromContext(r.Context())
		if sessionID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, middleware.SessionHeader+" header required"))
			return
		}

		view, err := svc.Merge(r.Context(), userID, sessionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, view)
	}
}
