package stripewebhook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/storefront-backend/internal/checkout/reservation"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
)

type orderReconciler interface {
	ApplyPaymentSucceeded(ctx context.Context, intentID string, amountCents int64) (*orders.PaymentOutcome, error)
	ApplyPaymentFailed(ctx context.Context, intentID, reason string) (*orders.PaymentOutcome, error)
	RecordRefund(ctx context.Context, intentID, refundID string, totalRefundedCents int64) (*orders.PaymentOutcome, error)
}

type stockRestorer interface {
	Restore(ctx context.Context, reservations []reservation.Reservation, stage string)
}

type refunder interface {
	Refund(ctx context.Context, input payments.RefundInput) (*payments.Refund, error)
}

type ServiceParams struct {
	Orders   orderReconciler
	Restorer stockRestorer
	Refunder refunder
	Metrics  *metrics.WebhookMetrics
	Logger   *logger.Logger
}

// Service applies verified Stripe events to orders. Events may arrive out of
// order and more than once; anything that would move a terminal payment is
// logged and acknowledged.
type Service struct {
	orders   orderReconciler
	restorer stockRestorer
	refunder refunder
	metrics  *metrics.WebhookMetrics
	logg     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders service required")
	}
	if params.Restorer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "inventory restorer required")
	}
	if params.Refunder == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "refunder required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		orders:   params.Orders,
		restorer: params.Restorer,
		refunder: params.Refunder,
		metrics:  params.Metrics,
		logg:     params.Logger,
	}, nil
}

func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"stripe_event_id":   event.ID,
		"stripe_event_type": string(event.Type),
	})

	var (
		outcome *orders.PaymentOutcome
		err     error
	)
	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		outcome, err = s.paymentSucceeded(ctx, event)
	case stripe.EventTypePaymentIntentPaymentFailed:
		outcome, err = s.paymentFailed(ctx, event)
	case stripe.EventTypeChargeRefunded:
		outcome, err = s.chargeRefunded(ctx, event)
	default:
		s.metrics.Inc(string(event.Type), metrics.WebhookIgnored)
		return nil
	}

	switch {
	case pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
		// Intents created outside checkout have no order.
		s.logg.Warn(ctx, "stripe event references no known order")
		s.metrics.Inc(string(event.Type), metrics.WebhookIgnored)
		return nil
	case err != nil:
		s.metrics.Inc(string(event.Type), metrics.WebhookFailed)
		return err
	case !outcome.Applied:
		s.logg.Info(s.orderContext(ctx, outcome), fmt.Sprintf("reconciliation conflict: payment already %s; event ignored", outcome.Order.Payment.Status))
		s.metrics.Inc(string(event.Type), metrics.WebhookNoop)
		return nil
	}
	s.metrics.Inc(string(event.Type), metrics.WebhookProcessed)
	return nil
}

func (s *Service) paymentSucceeded(ctx context.Context, event *stripe.Event) (*orders.PaymentOutcome, error) {
	intent, err := decodeIntent(event)
	if err != nil {
		return nil, err
	}
	outcome, err := s.orders.ApplyPaymentSucceeded(ctx, intent.ID, intent.AmountReceived)
	if err != nil {
		return outcome, err
	}
	if !outcome.Applied {
		// A declined intent can be confirmed again with the same client
		// secret. The order stays cancelled, so the capture is returned.
		if outcome.Order.Payment.Status == enums.PaymentStatusFailed && intent.AmountReceived > 0 {
			s.refundLatePayment(s.orderContext(ctx, outcome), intent, "payment captured after the order failed")
		}
		return outcome, nil
	}
	ctx = s.orderContext(ctx, outcome)
	if outcome.Order.Status != enums.OrderStatusCancelled {
		s.logg.Info(ctx, "payment captured; order confirmed")
		return outcome, nil
	}

	// The order was cancelled while the shopper was paying; its stock is
	// already back on the shelf, so the money goes back too.
	s.refundLatePayment(ctx, intent, "order cancelled before payment completed")
	return outcome, nil
}

// refundLatePayment returns a capture the order can no longer use. The
// idempotency key is per intent so redeliveries never refund twice.
func (s *Service) refundLatePayment(ctx context.Context, intent *stripe.PaymentIntent, reason string) {
	s.logg.Warn(ctx, "payment captured for a cancelled order; refunding")
	if _, err := s.refunder.Refund(ctx, payments.RefundInput{
		IntentID:       intent.ID,
		AmountCents:    intent.AmountReceived,
		Reason:         reason,
		IdempotencyKey: "late-payment-" + intent.ID,
	}); err != nil {
		s.logg.Error(ctx, "refund of late payment failed", err)
	}
}

func (s *Service) paymentFailed(ctx context.Context, event *stripe.Event) (*orders.PaymentOutcome, error) {
	intent, err := decodeIntent(event)
	if err != nil {
		return nil, err
	}
	reason := "payment failed"
	if intent.LastPaymentError != nil && intent.LastPaymentError.Msg != "" {
		reason = intent.LastPaymentError.Msg
	}
	outcome, err := s.orders.ApplyPaymentFailed(ctx, intent.ID, reason)
	if err != nil || !outcome.Applied {
		return outcome, err
	}
	ctx = s.orderContext(ctx, outcome)
	if outcome.Cancelled {
		s.restorer.Restore(ctx, reservation.FromLineItems(outcome.Order.Items), metrics.StageCancelRestore)
		s.logg.Info(ctx, "payment failed; order cancelled and stock restored")
		return outcome, nil
	}
	s.logg.Info(ctx, "payment failed on an order that can no longer be cancelled")
	return outcome, nil
}

func (s *Service) chargeRefunded(ctx context.Context, event *stripe.Event) (*orders.PaymentOutcome, error) {
	var charge stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode charge event")
	}
	if charge.PaymentIntent == nil || charge.PaymentIntent.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "charge has no payment intent")
	}
	var refundID string
	if charge.Refunds != nil && len(charge.Refunds.Data) > 0 && charge.Refunds.Data[0] != nil {
		refundID = charge.Refunds.Data[0].ID
	}
	outcome, err := s.orders.RecordRefund(ctx, charge.PaymentIntent.ID, refundID, charge.AmountRefunded)
	if err != nil || !outcome.Applied {
		return outcome, err
	}
	s.logg.Info(s.orderContext(ctx, outcome), fmt.Sprintf("refund recorded (%d cents total)", charge.AmountRefunded))
	return outcome, nil
}

func (s *Service) orderContext(ctx context.Context, outcome *orders.PaymentOutcome) context.Context {
	if outcome == nil || outcome.Order == nil {
		return ctx
	}
	return s.logg.WithOrder(ctx, outcome.Order.ID.String(), outcome.Order.OrderNumber)
}

func decodeIntent(event *stripe.Event) (*stripe.PaymentIntent, error) {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent event")
	}
	if intent.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id missing")
	}
	return &intent, nil
}
