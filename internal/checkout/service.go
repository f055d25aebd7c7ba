package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/checkout/reservation"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

type cartReader interface {
	Get(ctx context.Context, identity cart.Identity) (*cart.View, error)
	Clear(ctx context.Context, identity cart.Identity) (*cart.View, error)
}

type cartValidator interface {
	Validate(ctx context.Context, view *cart.View) (*Result, error)
}

type discounter interface {
	Discount(ctx context.Context, subtotalCents int64, code string) (int64, error)
}

type reserver interface {
	Reserve(ctx context.Context, lines []reservation.Line) ([]reservation.Reservation, error)
	Release(ctx context.Context, reservations []reservation.Reservation)
	Restore(ctx context.Context, reservations []reservation.Reservation, stage string)
}

// Service runs checkout and the order operations that have to compensate
// inventory or talk to the payment gateway.
type Service interface {
	Preview(ctx context.Context, identity cart.Identity, shippingMethod, promotionCode string) (*Preview, error)
	Checkout(ctx context.Context, identity cart.Identity, input Input) (*Receipt, error)
	CancelOrder(ctx context.Context, orderID uuid.UUID, owner *cart.Identity, message string) (*models.Order, error)
	RetryPayment(ctx context.Context, owner cart.Identity, orderID uuid.UUID) (*PaymentHandle, error)
	PaymentStatus(ctx context.Context, owner cart.Identity, orderID uuid.UUID) (*PaymentStatus, error)
	Refund(ctx context.Context, orderID uuid.UUID, amountCents int64, reason string) (*payments.Refund, error)
	ExpirePending(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// Input is what the shopper submits at checkout. BillingAddress defaults to
// the shipping address.
type Input struct {
	ShippingAddress types.Address
	BillingAddress  *types.Address
	ShippingMethod  string
	PromotionCode   string
}

// Preview is the dry-run view of a checkout.
type Preview struct {
	Cart       *cart.View     `json:"cart"`
	Validation *Result        `json:"validation"`
	Totals     *orders.Totals `json:"totals,omitempty"`
}

// Receipt is returned by a successful checkout.
type Receipt struct {
	Order   orders.OrderDetail `json:"order"`
	Payment *PaymentHandle     `json:"payment,omitempty"`
}

// PaymentHandle is what the client needs to complete payment.
type PaymentHandle struct {
	IntentID     string `json:"intent_id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	AmountCents  int64  `json:"amount_cents"`
	Currency     string `json:"currency"`
}

// PaymentStatus pairs the recorded payment state with the gateway's view.
type PaymentStatus struct {
	OrderID       uuid.UUID           `json:"order_id"`
	Recorded      enums.PaymentStatus `json:"recorded_status"`
	GatewayStatus string              `json:"gateway_status,omitempty"`
	AmountCents   int64               `json:"amount_cents"`
	ReceivedCents int64               `json:"received_cents"`
	RefundedCents int64               `json:"refunded_cents"`
}

type ServiceParams struct {
	Carts      cartReader
	Validator  cartValidator
	Promotions discounter
	Reserver   reserver
	Orders     orders.Service
	Gateway    payments.Gateway
	Metrics    *metrics.CheckoutMetrics
	Logger     *logger.Logger
	Timeout    time.Duration
}

type service struct {
	carts      cartReader
	validator  cartValidator
	promotions discounter
	reserver   reserver
	orders     orders.Service
	gateway    payments.Gateway
	metrics    *metrics.CheckoutMetrics
	logg       *logger.Logger
	timeout    time.Duration
}

// NewService builds the checkout orchestrator.
func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Carts == nil:
		return nil, fmt.Errorf("cart service required")
	case params.Validator == nil:
		return nil, fmt.Errorf("validator required")
	case params.Promotions == nil:
		return nil, fmt.Errorf("promotions service required")
	case params.Reserver == nil:
		return nil, fmt.Errorf("reservation coordinator required")
	case params.Orders == nil:
		return nil, fmt.Errorf("orders service required")
	case params.Gateway == nil:
		return nil, fmt.Errorf("payment gateway required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		carts:      params.Carts,
		validator:  params.Validator,
		promotions: params.Promotions,
		reserver:   params.Reserver,
		orders:     params.Orders,
		gateway:    params.Gateway,
		metrics:    params.Metrics,
		logg:       params.Logger,
		timeout:    params.Timeout,
	}, nil
}

func (s *service) Preview(ctx context.Context, identity cart.Identity, shippingMethod, promotionCode string) (*Preview, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	view, err := s.carts.Get(ctx, identity)
	if err != nil {
		return nil, err
	}
	result, err := s.validator.Validate(ctx, view)
	if err != nil {
		return nil, err
	}
	preview := &Preview{Cart: view, Validation: result}
	if !result.Valid || strings.TrimSpace(shippingMethod) == "" {
		return preview, nil
	}
	discount, err := s.promotions.Discount(ctx, view.SubtotalCents, promotionCode)
	if err != nil {
		return nil, err
	}
	totals, err := s.orders.Quote(view, shippingMethod, discount)
	if err != nil {
		return nil, err
	}
	preview.Totals = &totals
	return preview, nil
}

// Checkout runs validate, reserve, persist and intent in that order. Once
// stock is held, any failure before the order commits releases it, including
// cancellation or timeout of ctx. After the order commits, stock stays held
// by the pending order until it is paid, cancelled or expires.
func (s *service) Checkout(ctx context.Context, identity cart.Identity, input Input) (receipt *Receipt, err error) {
	started := time.Now()
	defer func() {
		s.metrics.ObserveCheckout(outcomeFor(err), time.Since(started))
	}()

	if err := identity.Validate(); err != nil {
		return nil, err
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	view, err := s.carts.Get(ctx, identity)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithCartID(ctx, view.ID.String())

	result, err := s.validator.Validate(ctx, view)
	if err != nil {
		return nil, err
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	discount, err := s.promotions.Discount(ctx, view.SubtotalCents, input.PromotionCode)
	if err != nil {
		return nil, err
	}
	if _, err := s.orders.Quote(view, input.ShippingMethod, discount); err != nil {
		return nil, err
	}

	held, err := s.reserver.Reserve(ctx, result.Lines)
	if err != nil {
		return nil, err
	}

	billing := input.ShippingAddress
	if input.BillingAddress != nil {
		billing = *input.BillingAddress
	}
	holds := make(map[int]orders.Hold, len(held))
	for _, r := range held {
		holds[r.LineIndex] = orders.Hold{Quantity: r.Quantity, Backordered: r.Backordered}
	}
	order, err := s.orders.Create(ctx, orders.CreateInput{
		Owner:           identity,
		Cart:            view,
		Held:            holds,
		ShippingAddress: input.ShippingAddress,
		BillingAddress:  billing,
		ShippingMethod:  input.ShippingMethod,
		DiscountCents:   discount,
		PromotionCode:   input.PromotionCode,
	})
	if err != nil {
		s.reserver.Release(ctx, held)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, ctxErr, "checkout interrupted")
		}
		return nil, err
	}
	ctx = s.logg.WithOrder(ctx, order.ID.String(), order.OrderNumber)
	s.logg.Info(ctx, "order placed")

	if _, err := s.carts.Clear(ctx, identity); err != nil {
		s.logg.Warn(ctx, "cart clear after checkout failed: "+err.Error())
	}

	if order.TotalCents == 0 {
		confirmed, err := s.orders.Advance(ctx, order.ID, enums.OrderStatusConfirmed, "no payment required", nil)
		if err != nil {
			return nil, err
		}
		return &Receipt{Order: orders.Detail(confirmed)}, nil
	}

	handle, err := s.openIntent(ctx, order)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePaymentGateway, err, "order placed but payment could not be started").
			WithDetails(map[string]any{"order_id": order.ID, "order_number": order.OrderNumber})
	}
	order.Payment.IntentID = &handle.IntentID
	return &Receipt{Order: orders.Detail(order), Payment: handle}, nil
}

// openIntent creates (or, through the idempotency key, re-fetches) the
// intent for order and records it.
func (s *service) openIntent(ctx context.Context, order *models.Order) (*PaymentHandle, error) {
	intent, err := s.gateway.CreateIntent(ctx, payments.CreateIntentInput{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		AmountCents:    order.TotalCents,
		Currency:       order.Currency,
		IdempotencyKey: "order-" + order.ID.String(),
	})
	if err != nil {
		return nil, err
	}
	if order.Payment.IntentID == nil || *order.Payment.IntentID != intent.ID {
		if err := s.orders.AttachIntent(ctx, order.ID, intent.ID); err != nil {
			return nil, err
		}
	}
	return &PaymentHandle{
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       intent.Status,
		AmountCents:  intent.AmountCents,
		Currency:     order.Currency,
	}, nil
}

// CancelOrder cancels, restores the held stock and refunds a captured
// payment. A refund failure is logged; the cancellation stands.
func (s *service) CancelOrder(ctx context.Context, orderID uuid.UUID, owner *cart.Identity, message string) (*models.Order, error) {
	order, err := s.orders.Cancel(ctx, orderID, owner, message)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithOrder(ctx, order.ID.String(), order.OrderNumber)
	s.reserver.Restore(ctx, reservation.FromLineItems(order.Items), metrics.StageCancelRestore)

	if order.Payment.Status == enums.PaymentStatusCompleted && order.Payment.IntentID != nil {
		if _, err := s.refundRemaining(ctx, order, 0, "order cancelled"); err != nil {
			s.logg.Error(ctx, "refund after cancellation failed", err)
		}
	}
	return order, nil
}

func (s *service) RetryPayment(ctx context.Context, owner cart.Identity, orderID uuid.UUID) (*PaymentHandle, error) {
	order, err := s.orders.Get(ctx, owner, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != enums.OrderStatusPending || order.Payment.Status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not awaiting payment").
			WithDetails(map[string]any{"status": order.Status, "payment_status": order.Payment.Status})
	}
	return s.openIntent(ctx, order)
}

func (s *service) PaymentStatus(ctx context.Context, owner cart.Identity, orderID uuid.UUID) (*PaymentStatus, error) {
	order, err := s.orders.Get(ctx, owner, orderID)
	if err != nil {
		return nil, err
	}
	status := &PaymentStatus{
		OrderID:       order.ID,
		Recorded:      order.Payment.Status,
		AmountCents:   order.TotalCents,
		ReceivedCents: order.Payment.PaidCents,
		RefundedCents: order.Payment.RefundedCents,
	}
	if order.Payment.IntentID == nil {
		return status, nil
	}
	intent, err := s.gateway.RetrieveIntentStatus(ctx, *order.Payment.IntentID)
	if err != nil {
		return nil, err
	}
	status.GatewayStatus = intent.Status
	status.ReceivedCents = intent.ReceivedCents
	return status, nil
}

// Refund asks the gateway to return money on a paid order. amountCents of zero
// refunds whatever has not been refunded yet. The order's payment record is
// updated when the gateway's refund webhook arrives.
func (s *service) Refund(ctx context.Context, orderID uuid.UUID, amountCents int64, reason string) (*payments.Refund, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Payment.Status != enums.PaymentStatusCompleted || order.Payment.IntentID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no captured payment to refund").
			WithDetails(map[string]any{"payment_status": order.Payment.Status})
	}
	return s.refundRemaining(ctx, order, amountCents, reason)
}

func (s *service) refundRemaining(ctx context.Context, order *models.Order, amountCents int64, reason string) (*payments.Refund, error) {
	remaining := order.Payment.PaidCents - order.Payment.RefundedCents
	if amountCents == 0 {
		amountCents = remaining
	}
	if amountCents <= 0 || amountCents > remaining {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount exceeds the refundable balance").
			WithDetails(map[string]any{"refundable_cents": remaining})
	}
	return s.gateway.Refund(ctx, payments.RefundInput{
		IntentID:       *order.Payment.IntentID,
		AmountCents:    amountCents,
		Reason:         reason,
		IdempotencyKey: fmt.Sprintf("refund-%s-%d-%d", order.ID, order.Payment.RefundedCents, amountCents),
	})
}

// ExpirePending cancels unpaid orders created before cutoff and returns how
// many were cancelled. Orders that moved concurrently are skipped.
func (s *service) ExpirePending(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	ids, err := s.orders.StalePending(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}
	var (
		cancelled int
		errs      error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return cancelled, multierr.Append(errs, err)
		}
		_, err := s.CancelOrder(ctx, id, nil, "payment window expired")
		switch {
		case err == nil:
			cancelled++
		case pkgerrors.IsCode(err, pkgerrors.CodeStateConflict):
			continue
		default:
			errs = multierr.Append(errs, fmt.Errorf("expire order %s: %w", id, err))
		}
	}
	return cancelled, errs
}

func outcomeFor(err error) string {
	if err == nil {
		return metrics.OutcomeSuccess
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return metrics.OutcomeCancelled
	}
	switch pkgerrors.As(err).Code() {
	case pkgerrors.CodeCartEmpty:
		return metrics.OutcomeCartEmpty
	case pkgerrors.CodeValidation:
		return metrics.OutcomeValidationFailed
	case pkgerrors.CodeInsufficientInventory:
		return metrics.OutcomeInsufficientInventory
	case pkgerrors.CodePersistence:
		return metrics.OutcomePersistenceFailed
	case pkgerrors.CodePaymentGateway:
		return metrics.OutcomePaymentGatewayFailed
	}
	return metrics.OutcomeError
}
