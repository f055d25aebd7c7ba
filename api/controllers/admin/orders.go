package admin

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/storefront-backend/api/controllers/shopper"
	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	"github.com/angelmondragon/storefront-backend/internal/checkout"
	internalorders "github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type statusRequest struct {
	Status   string  `json:"status" validate:"required,oneof=confirmed processing shipped delivered cancelled returned"`
	Message  string  `json:"message,omitempty" validate:"omitempty,max=500"`
	Location *string `json:"location,omitempty" validate:"omitempty,max=200"`
}

type refundRequest struct {
	AmountCents int64  `json:"amount_cents" validate:"gte=0"`
	Reason      string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

// UpdateOrderStatus moves an order along the status machine. Cancellation
// goes through checkout so held stock is restored and payment refunded.
func UpdateOrderStatus(orders internalorders.Service, checkoutSvc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if orders == nil || checkoutSvc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := shopper.PathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload statusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		target, err := enums.ParseOrderStatus(payload.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{
				"admin_id":      middleware.UserIDFromContext(ctx),
				"order_id":      orderID.String(),
				"target_status": string(target),
			})
		}

		message := strings.TrimSpace(payload.Message)
		var detail internalorders.OrderDetail
		if target == enums.OrderStatusCancelled {
			if message == "" {
				message = "cancelled by admin"
			}
			cancelled, cancelErr := checkoutSvc.CancelOrder(ctx, orderID, nil, message)
			if cancelErr != nil {
				responses.WriteError(ctx, logg, w, cancelErr)
				return
			}
			detail = internalorders.Detail(cancelled)
		} else {
			advanced, advanceErr := orders.Advance(ctx, orderID, target, message, payload.Location)
			if advanceErr != nil {
				responses.WriteError(ctx, logg, w, advanceErr)
				return
			}
			detail = internalorders.Detail(advanced)
		}

		if logg != nil {
			logg.Info(ctx, "admin.order.status_updated")
		}
		responses.WriteSuccess(w, detail)
	}
}

// RefundOrder refunds part or all of a captured payment. amount_cents of zero
// refunds the remaining balance.
func RefundOrder(checkoutSvc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checkoutSvc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		orderID, err := shopper.PathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload refundRequest
		if err := validators.DecodeOptionalJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		reason := strings.TrimSpace(payload.Reason)
		if reason == "" {
			reason = "requested_by_customer"
		}

		refund, err := checkoutSvc.Refund(r.Context(), orderID, payload.AmountCents, reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if logg != nil {
			ctx := logg.WithFields(r.Context(), map[string]any{
				"admin_id":     middleware.UserIDFromContext(r.Context()),
				"order_id":     orderID.String(),
				"amount_cents": payload.AmountCents,
			})
			logg.Info(ctx, "admin.order.refund_requested")
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, refund)
	}
}
