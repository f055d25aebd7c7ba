package checkout

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/storefront-backend/api/controllers/shopper"
	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	checkoutsvc "github.com/angelmondragon/storefront-backend/internal/checkout"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

type validateRequest struct {
	ShippingMethod string `json:"shipping_method,omitempty" validate:"omitempty,max=32"`
	PromotionCode  string `json:"promotion_code,omitempty" validate:"omitempty,max=64"`
}

type checkoutRequest struct {
	ShippingAddress types.Address  `json:"shipping_address" validate:"required"`
	BillingAddress  *types.Address `json:"billing_address,omitempty"`
	ShippingMethod  string         `json:"shipping_method" validate:"required,max=32"`
	PromotionCode   string         `json:"promotion_code,omitempty" validate:"omitempty,max=64"`
}

// Validate previews checkout: per-line issues, and totals when the cart is
// valid and a shipping method is supplied. Nothing is reserved.
func Validate(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		identity, err := shopper.Resolve(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload validateRequest
		if err := validators.DecodeOptionalJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		preview, err := svc.Preview(r.Context(), identity, payload.ShippingMethod, strings.TrimSpace(payload.PromotionCode))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, preview)
	}
}

// Submit converts the cart into a pending order and opens a payment intent.
func Submit(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		identity, err := shopper.Resolve(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		receipt, err := svc.Checkout(r.Context(), identity, checkoutsvc.Input{
			ShippingAddress: payload.ShippingAddress,
			BillingAddress:  payload.BillingAddress,
			ShippingMethod:  payload.ShippingMethod,
			PromotionCode:   strings.TrimSpace(payload.PromotionCode),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, receipt)
	}
}
