package orders

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/storefront-backend/api/controllers/shopper"
	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	"github.com/angelmondragon/storefront-backend/internal/checkout"
	internalorders "github.com/angelmondragon/storefront-backend/internal/orders"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

const shopperCancelMessage = "cancelled by customer"

type cancelRequest struct {
	Reason string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

type returnRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// List returns a cursor page of the shopper's orders, newest first.
func List(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		identity, err := shopper.Resolve(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.List(r.Context(), identity, pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, list)
	}
}

// Detail returns a single order owned by the shopper. Orders owned by anyone
// else are reported as not found.
func Detail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		identity, err := shopper.Resolve(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := shopper.PathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Get(r.Context(), identity, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, internalorders.Detail(order))
	}
}

// Cancel lets the shopper cancel an order that has not shipped. Held stock is
// restored and a captured payment is refunded.
func Cancel(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
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

		orderID, err := shopper.PathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload cancelRequest
		if err := validators.DecodeOptionalJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		message := shopperCancelMessage
		if reason := strings.TrimSpace(payload.Reason); reason != "" {
			message = shopperCancelMessage + ": " + reason
		}

		order, err := svc.CancelOrder(r.Context(), orderID, &identity, message)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, internalorders.Detail(order))
	}
}

// RequestReturn records a return request on a delivered order.
func RequestReturn(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		identity, err := shopper.Resolve(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := shopper.PathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload returnRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.RequestReturn(r.Context(), orderID, identity, strings.TrimSpace(payload.Reason))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, internalorders.Detail(order))
	}
}

// PaymentIntent opens a fresh payment intent for a pending order whose
// previous attempt failed or never started.
func PaymentIntent(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
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

		orderID, err := shopper.PathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		handle, err := svc.RetryPayment(r.Context(), identity, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, handle)
	}
}

// Payment reports the recorded payment state alongside the gateway's.
func Payment(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
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

		orderID, err := shopper.PathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status, err := svc.PaymentStatus(r.Context(), identity, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, status)
	}
}
