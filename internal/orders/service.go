package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service owns the durable order record and its status machine. It never
// touches inventory; callers compensate using the returned line items.
type Service interface {
	Quote(view *cart.View, shippingMethod string, discountCents int64) (Totals, error)
	Create(ctx context.Context, input CreateInput) (*models.Order, error)
	Get(ctx context.Context, owner cart.Identity, id uuid.UUID) (*models.Order, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	List(ctx context.Context, owner cart.Identity, params pagination.Params) (*OrderList, error)
	Advance(ctx context.Context, id uuid.UUID, to enums.OrderStatus, message string, location *string) (*models.Order, error)
	Cancel(ctx context.Context, id uuid.UUID, owner *cart.Identity, message string) (*models.Order, error)
	RequestReturn(ctx context.Context, id uuid.UUID, owner cart.Identity, reason string) (*models.Order, error)
	AttachIntent(ctx context.Context, id uuid.UUID, intentID string) error
	ApplyPaymentSucceeded(ctx context.Context, intentID string, amountCents int64) (*PaymentOutcome, error)
	ApplyPaymentFailed(ctx context.Context, intentID, reason string) (*PaymentOutcome, error)
	RecordRefund(ctx context.Context, intentID, refundID string, totalRefundedCents int64) (*PaymentOutcome, error)
	StalePending(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
}

// Pricing carries the configured inputs for totals.
type Pricing struct {
	TaxRate         decimal.Decimal
	ShippingMethods map[string]int64
	Currency        string
	ReturnWindow    time.Duration
}

// Hold is the ledger outcome for one cart line.
type Hold struct {
	Quantity    int
	Backordered bool
}

// CreateInput is everything needed to freeze a cart into an order. Held is
// keyed by cart line index; lines without an entry are untracked.
type CreateInput struct {
	Owner           cart.Identity
	Cart            *cart.View
	Held            map[int]Hold
	ShippingAddress types.Address
	BillingAddress  types.Address
	ShippingMethod  string
	DiscountCents   int64
	PromotionCode   string
}

// PaymentOutcome reports what a reconciliation call did. Applied is false for
// duplicate or out-of-order deliveries that were resolved as no-ops.
type PaymentOutcome struct {
	Order     *models.Order
	Applied   bool
	Cancelled bool
}

type ServiceParams struct {
	Repo    Repository
	Tx      txRunner
	Outbox  outboxPublisher
	Pricing Pricing
	Logger  *logger.Logger
	Numbers NumberGenerator
}

type service struct {
	repo    Repository
	tx      txRunner
	outbox  outboxPublisher
	pricing Pricing
	logg    *logger.Logger
	numbers NumberGenerator
	now     func() time.Time
}

// NewService builds the order ledger service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if len(params.Pricing.ShippingMethods) == 0 {
		return nil, fmt.Errorf("at least one shipping method required")
	}
	if params.Pricing.Currency == "" {
		return nil, fmt.Errorf("currency required")
	}
	if params.Pricing.ReturnWindow <= 0 {
		params.Pricing.ReturnWindow = DefaultReturnWindow
	}
	numbers := params.Numbers
	if numbers == nil {
		numbers = NewOrderNumber
	}
	return &service{
		repo:    params.Repo,
		tx:      params.Tx,
		outbox:  params.Outbox,
		pricing: params.Pricing,
		logg:    params.Logger,
		numbers: numbers,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Quote prices the cart for the given shipping method without writing anything.
func (s *service) Quote(view *cart.View, shippingMethod string, discountCents int64) (Totals, error) {
	if view == nil {
		return Totals{}, pkgerrors.New(pkgerrors.CodeCartEmpty, "cart is empty")
	}
	method := strings.ToLower(strings.TrimSpace(shippingMethod))
	shipping, ok := s.pricing.ShippingMethods[method]
	if !ok {
		return Totals{}, pkgerrors.New(pkgerrors.CodeValidation, "unknown shipping method").
			WithDetails(map[string]any{"shipping_method": shippingMethod})
	}
	var subtotal int64
	for _, line := range view.Items {
		subtotal += line.LineTotalCents
	}
	return ComputeTotals(subtotal, s.pricing.TaxRate, shipping, discountCents), nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Order, error) {
	if err := input.Owner.Validate(); err != nil {
		return nil, err
	}
	if input.Cart.IsEmpty() {
		return nil, pkgerrors.New(pkgerrors.CodeCartEmpty, "cart is empty")
	}
	shipping := input.ShippingAddress.Normalize()
	billing := input.BillingAddress.Normalize()
	if err := shipping.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid shipping address")
	}
	if err := billing.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid billing address")
	}
	totals, err := s.Quote(input.Cart, input.ShippingMethod, input.DiscountCents)
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		order := s.buildOrder(input, shipping, billing, totals)
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
				return err
			}
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventOrderCreated,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Actor:         actorFor(input.Owner),
				Data: payloads.OrderCreatedEvent{
					OrderID:     order.ID,
					OrderNumber: order.OrderNumber,
					UserID:      order.UserID,
					TotalCents:  order.TotalCents,
					Currency:    order.Currency,
					ItemCount:   len(order.Items),
				},
				OccurredAt: order.CreatedAt,
			})
		})
		if err == nil {
			return order, nil
		}
		if isOrderNumberCollision(err) && attempt < maxNumberAttempts {
			s.logg.Warn(s.logg.WithField(ctx, "order_number", order.OrderNumber), "order number collision; regenerating")
			continue
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "persist order")
	}
}

func (s *service) buildOrder(input CreateInput, shipping, billing types.Address, totals Totals) *models.Order {
	now := s.now()
	order := &models.Order{
		ID:              uuid.New(),
		OrderNumber:     s.numbers(now),
		UserID:          input.Owner.UserID,
		CartID:          &input.Cart.ID,
		Status:          enums.OrderStatusPending,
		Currency:        s.pricing.Currency,
		SubtotalCents:   totals.SubtotalCents,
		TaxCents:        totals.TaxCents,
		ShippingCents:   totals.ShippingCents,
		DiscountCents:   totals.DiscountCents,
		TotalCents:      totals.TotalCents,
		ShippingMethod:  strings.ToLower(strings.TrimSpace(input.ShippingMethod)),
		ShippingAddress: shipping,
		BillingAddress:  billing,
		Payment: models.OrderPayment{
			Method:   enums.PaymentMethodCard,
			Provider: enums.PaymentProviderStripe,
			Status:   enums.PaymentStatusPending,
		},
		CreatedAt: now,
	}
	if input.Owner.Anonymous() {
		sessionID := input.Owner.SessionID
		order.SessionID = &sessionID
	}
	if code := strings.TrimSpace(input.PromotionCode); code != "" && totals.DiscountCents > 0 {
		order.PromotionCode = &code
	}
	for idx, line := range input.Cart.Items {
		order.Items = append(order.Items, models.OrderLineItem{
			OrderID:        order.ID,
			ProductID:      line.ProductID,
			VariantID:      line.VariantID,
			Name:           line.Name,
			ImageURL:       line.ImageURL,
			SKU:            line.SKU,
			UnitPriceCents: line.UnitPriceCents,
			Quantity:       line.Quantity,
			LineTotalCents: line.LineTotalCents,
			ReservedQty:    input.Held[idx].Quantity,
			Backordered:    input.Held[idx].Backordered,
			CreatedAt:      now.Add(time.Duration(idx) * time.Microsecond),
		})
	}
	order.Tracking = []models.OrderTrackingEntry{{
		OrderID:   order.ID,
		Seq:       1,
		Status:    enums.OrderStatusPending,
		Message:   "order placed",
		CreatedAt: now,
	}}
	return order
}

func (s *service) Get(ctx context.Context, owner cart.Identity, id uuid.UUID) (*models.Order, error) {
	order, err := s.load(ctx, s.repo, id, false)
	if err != nil {
		return nil, err
	}
	if !ownedBy(order, owner) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.load(ctx, s.repo, id, false)
}

func (s *service) List(ctx context.Context, owner cart.Identity, params pagination.Params) (*OrderList, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if _, err := pagination.Decode(params.Cursor); err != nil {
		return nil, err
	}
	rows, next, err := s.repo.ListByOwner(ctx, owner, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	list := &OrderList{Orders: make([]OrderSummary, 0, len(rows)), NextCursor: next}
	for i := range rows {
		list.Orders = append(list.Orders, summarize(&rows[i]))
	}
	return list, nil
}

// Advance moves an order along a fulfilment edge. Cancellation and returns
// have their own entry points because they carry extra guards.
func (s *service) Advance(ctx context.Context, id uuid.UUID, to enums.OrderStatus, message string, location *string) (*models.Order, error) {
	switch to {
	case enums.OrderStatusCancelled:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cancel orders through the cancellation endpoint")
	case enums.OrderStatusReturned:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "returns must be requested by the customer")
	}
	if strings.TrimSpace(message) == "" {
		message = "status updated to " + string(to)
	}
	return s.transition(ctx, id, nil, func(order *models.Order) error { return nil }, to, message, location)
}

// Cancel moves a pending or confirmed order to cancelled. The caller restores
// inventory from the returned line items.
func (s *service) Cancel(ctx context.Context, id uuid.UUID, owner *cart.Identity, message string) (*models.Order, error) {
	if strings.TrimSpace(message) == "" {
		message = "order cancelled"
	}
	guard := func(order *models.Order) error {
		if !CanCancel(order) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order can no longer be cancelled").
				WithDetails(map[string]any{"status": order.Status})
		}
		return nil
	}
	return s.transition(ctx, id, owner, guard, enums.OrderStatusCancelled, message, nil)
}

// RequestReturn records the one allowed return request for a delivered order.
// The reason is saved by the same update that moves the order to returned.
func (s *service) RequestReturn(ctx context.Context, id uuid.UUID, owner cart.Identity, reason string) (*models.Order, error) {
	reason = strings.TrimSpace(reason)
	guard := func(order *models.Order) error {
		if order.ReturnRequestedAt != nil {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "a return was already requested for this order")
		}
		if !CanReturn(order, s.now(), s.pricing.ReturnWindow) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not eligible for return").
				WithDetails(map[string]any{"status": order.Status, "delivered_at": order.DeliveredAt})
		}
		if reason != "" {
			order.ReturnReason = &reason
		}
		return nil
	}
	return s.transition(ctx, id, &owner, guard, enums.OrderStatusReturned, "return requested", nil)
}

// transition runs one guarded status change in a transaction, emitting the
// status-changed event alongside it. Fields the guard sets on the order are
// persisted with the transition.
func (s *service) transition(
	ctx context.Context,
	id uuid.UUID,
	owner *cart.Identity,
	guard func(*models.Order) error,
	to enums.OrderStatus,
	message string,
	location *string,
) (*models.Order, error) {
	var result *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.load(ctx, repo, id, true)
		if err != nil {
			return err
		}
		if owner != nil && !ownedBy(order, *owner) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		if err := guard(order); err != nil {
			return err
		}
		if err := s.applyTransition(ctx, tx, repo, order, to, message, location); err != nil {
			return err
		}
		result = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) applyTransition(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order, to enums.OrderStatus, message string, location *string) error {
	from := order.Status
	entry, err := advance(order, to, message, location, s.now())
	if err != nil {
		return err
	}
	ok, err := repo.SaveTransition(ctx, order, from, entry)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save order transition")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order was modified concurrently")
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data: payloads.OrderStatusChangedEvent{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			From:        from,
			To:          to,
			Message:     message,
			Location:    location,
			ChangedAt:   entry.CreatedAt,
		},
		OccurredAt: entry.CreatedAt,
	})
}

// AttachIntent stores the gateway intent id so webhooks can find the order.
func (s *service) AttachIntent(ctx context.Context, id uuid.UUID, intentID string) error {
	if strings.TrimSpace(intentID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "intent id required")
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.load(ctx, repo, id, true)
		if err != nil {
			return err
		}
		if order.Payment.Status.IsTerminal() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order payment already settled")
		}
		order.Payment.IntentID = &intentID
		if err := repo.UpdatePayment(ctx, order.ID, order.Payment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "attach payment intent")
		}
		return nil
	})
}

// ApplyPaymentSucceeded is idempotent: a terminal payment status short-circuits
// before any write. A pending order is confirmed. A payment that lands on an
// order already cancelled is recorded without a status change so the caller
// can refund it.
func (s *service) ApplyPaymentSucceeded(ctx context.Context, intentID string, amountCents int64) (*PaymentOutcome, error) {
	return s.reconcile(ctx, intentID, func(tx *gorm.DB, repo Repository, order *models.Order) (*PaymentOutcome, error) {
		paidAt := s.now()
		order.Payment.Status = enums.PaymentStatusCompleted
		order.Payment.PaidCents = amountCents
		order.Payment.PaidAt = &paidAt
		if err := repo.UpdatePayment(ctx, order.ID, order.Payment); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment")
		}
		if err := s.emitPayment(ctx, tx, enums.EventPaymentSucceeded, order); err != nil {
			return nil, err
		}
		if order.Status == enums.OrderStatusPending {
			if err := s.applyTransition(ctx, tx, repo, order, enums.OrderStatusConfirmed, "payment received", nil); err != nil {
				return nil, err
			}
		}
		return &PaymentOutcome{Order: order, Applied: true}, nil
	})
}

// ApplyPaymentFailed marks the payment failed and cancels the order when it
// still can be. Cancelled in the outcome tells the caller to release stock.
func (s *service) ApplyPaymentFailed(ctx context.Context, intentID, reason string) (*PaymentOutcome, error) {
	return s.reconcile(ctx, intentID, func(tx *gorm.DB, repo Repository, order *models.Order) (*PaymentOutcome, error) {
		order.Payment.Status = enums.PaymentStatusFailed
		if reason != "" {
			order.Payment.FailureReason = &reason
		}
		if err := repo.UpdatePayment(ctx, order.ID, order.Payment); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment failure")
		}
		if err := s.emitPayment(ctx, tx, enums.EventPaymentFailed, order); err != nil {
			return nil, err
		}
		outcome := &PaymentOutcome{Order: order, Applied: true}
		if CanCancel(order) {
			if err := s.applyTransition(ctx, tx, repo, order, enums.OrderStatusCancelled, "payment failed", nil); err != nil {
				return nil, err
			}
			outcome.Cancelled = true
		}
		return outcome, nil
	})
}

// RecordRefund stores the cumulative refunded amount. Deliveries that do not
// increase it are no-ops, so replays and out-of-order events are harmless.
func (s *service) RecordRefund(ctx context.Context, intentID, refundID string, totalRefundedCents int64) (*PaymentOutcome, error) {
	var outcome *PaymentOutcome
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.loadByIntent(ctx, repo, intentID)
		if err != nil {
			return err
		}
		// A failed payment has no capture on record; a refund of a late
		// capture on it leaves the ledger alone.
		if totalRefundedCents <= order.Payment.RefundedCents || order.Payment.Status == enums.PaymentStatusFailed {
			outcome = &PaymentOutcome{Order: order}
			return nil
		}
		if order.Payment.Status != enums.PaymentStatusCompleted && order.Payment.Status != enums.PaymentStatusRefunded {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "refund recorded for an unpaid order")
		}
		refundedAt := s.now()
		order.Payment.RefundedCents = totalRefundedCents
		order.Payment.RefundedAt = &refundedAt
		if refundID != "" {
			order.Payment.LastRefundID = &refundID
		}
		full := totalRefundedCents >= order.Payment.PaidCents
		if full {
			order.Payment.Status = enums.PaymentStatusRefunded
		}
		if err := repo.UpdatePayment(ctx, order.ID, order.Payment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund")
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderRefunded,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderRefundedEvent{
				OrderID:       order.ID,
				OrderNumber:   order.OrderNumber,
				RefundID:      refundID,
				RefundedCents: totalRefundedCents,
				FullyRefunded: full,
				RefundedAt:    refundedAt,
			},
		}); err != nil {
			return err
		}
		outcome = &PaymentOutcome{Order: order, Applied: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

func (s *service) StalePending(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	ids, err := s.repo.FindStalePending(ctx, cutoff, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find stale pending orders")
	}
	return ids, nil
}

func (s *service) reconcile(ctx context.Context, intentID string, apply func(tx *gorm.DB, repo Repository, order *models.Order) (*PaymentOutcome, error)) (*PaymentOutcome, error) {
	var outcome *PaymentOutcome
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.loadByIntent(ctx, repo, intentID)
		if err != nil {
			return err
		}
		if order.Payment.Status.IsTerminal() {
			outcome = &PaymentOutcome{Order: order}
			return nil
		}
		outcome, err = apply(tx, repo, order)
		return err
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

func (s *service) emitPayment(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, order *models.Order) error {
	event := payloads.PaymentEvent{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      order.Payment.Status,
		AmountCents: order.Payment.PaidCents,
	}
	if order.Payment.IntentID != nil {
		event.IntentID = *order.Payment.IntentID
	}
	if order.Payment.FailureReason != nil {
		event.FailureReason = *order.Payment.FailureReason
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         outbox.SystemActor,
		Data:          event,
	})
}

func (s *service) load(ctx context.Context, repo Repository, id uuid.UUID, forUpdate bool) (*models.Order, error) {
	order, err := repo.FindByID(ctx, id, forUpdate)
	if db.IsNotFound(err) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) loadByIntent(ctx context.Context, repo Repository, intentID string) (*models.Order, error) {
	if strings.TrimSpace(intentID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "intent id required")
	}
	order, err := repo.FindByIntentID(ctx, intentID, true)
	if db.IsNotFound(err) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no order for payment intent")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order by intent")
	}
	return order, nil
}

func ownedBy(order *models.Order, owner cart.Identity) bool {
	if owner.UserID != nil {
		return order.UserID != nil && *order.UserID == *owner.UserID
	}
	return order.SessionID != nil && owner.SessionID != "" && *order.SessionID == owner.SessionID
}

func actorFor(owner cart.Identity) *outbox.Actor {
	if owner.UserID != nil {
		return &outbox.Actor{UserID: owner.UserID.String(), Role: "customer"}
	}
	return &outbox.Actor{SessionID: owner.SessionID, Role: "guest"}
}

func isOrderNumberCollision(err error) bool {
	return db.IsUniqueViolation(err, "idx_orders_order_number") || db.IsUniqueViolation(err, "orders.order_number")
}
