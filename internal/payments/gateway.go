package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// Gateway is the payment processor as the checkout flow sees it.
type Gateway interface {
	CreateIntent(ctx context.Context, input CreateIntentInput) (*Intent, error)
	RetrieveIntentStatus(ctx context.Context, intentID string) (*Intent, error)
	Refund(ctx context.Context, input RefundInput) (*Refund, error)
}

// CreateIntentInput describes the charge for one order. IdempotencyKey makes
// retried creation calls return the same intent.
type CreateIntentInput struct {
	OrderID        uuid.UUID
	OrderNumber    string
	AmountCents    int64
	Currency       string
	IdempotencyKey string
}

type RefundInput struct {
	IntentID       string
	AmountCents    int64
	Reason         string
	IdempotencyKey string
}

// Intent is the processor-neutral view of a payment intent.
type Intent struct {
	ID             string `json:"id"`
	ClientSecret   string `json:"client_secret,omitempty"`
	Status         string `json:"status"`
	AmountCents    int64  `json:"amount_cents"`
	ReceivedCents  int64  `json:"received_cents"`
	Currency       string `json:"currency"`
	FailureMessage string `json:"failure_message,omitempty"`
}

// Open reports whether the intent can still be paid.
func (i *Intent) Open() bool {
	if i == nil {
		return false
	}
	switch stripe.PaymentIntentStatus(i.Status) {
	case stripe.PaymentIntentStatusRequiresPaymentMethod,
		stripe.PaymentIntentStatusRequiresConfirmation,
		stripe.PaymentIntentStatusRequiresAction,
		stripe.PaymentIntentStatusProcessing:
		return true
	}
	return false
}

type Refund struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	AmountCents int64  `json:"amount_cents"`
}

// stripeAPI is the subset of Stripe calls the gateway makes.
type stripeAPI interface {
	NewIntent(ctx context.Context, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	GetIntent(ctx context.Context, id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	NewRefund(ctx context.Context, params *stripe.RefundParams) (*stripe.Refund, error)
}

// StripeGateway implements Gateway on Stripe PaymentIntents.
type StripeGateway struct {
	api  stripeAPI
	logg *logger.Logger
}

func NewStripeGateway(api stripeAPI, logg *logger.Logger) (*StripeGateway, error) {
	if api == nil {
		return nil, fmt.Errorf("stripe api required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &StripeGateway{api: api, logg: logg}, nil
}

func (g *StripeGateway) CreateIntent(ctx context.Context, input CreateIntentInput) (*Intent, error) {
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment amount must be positive")
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(input.AmountCents),
		Currency: stripe.String(strings.ToLower(input.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Description: stripe.String("Order " + input.OrderNumber),
	}
	params.AddMetadata("order_id", input.OrderID.String())
	params.AddMetadata("order_number", input.OrderNumber)
	if key := strings.TrimSpace(input.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}

	pi, err := g.api.NewIntent(ctx, params)
	if err != nil {
		g.logg.Error(g.logg.WithField(ctx, "order_id", input.OrderID.String()), "stripe create payment intent failed", err)
		return nil, gatewayError(err, "create payment intent")
	}
	return toIntent(pi), nil
}

func (g *StripeGateway) RetrieveIntentStatus(ctx context.Context, intentID string) (*Intent, error) {
	if strings.TrimSpace(intentID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "intent id required")
	}
	pi, err := g.api.GetIntent(ctx, intentID, &stripe.PaymentIntentParams{})
	if err != nil {
		return nil, gatewayError(err, "retrieve payment intent")
	}
	intent := toIntent(pi)
	intent.ClientSecret = ""
	return intent, nil
}

func (g *StripeGateway) Refund(ctx context.Context, input RefundInput) (*Refund, error) {
	if strings.TrimSpace(input.IntentID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "intent id required")
	}
	params := &stripe.RefundParams{PaymentIntent: stripe.String(input.IntentID)}
	if input.AmountCents > 0 {
		params.Amount = stripe.Int64(input.AmountCents)
	}
	if input.Reason != "" {
		params.AddMetadata("reason", input.Reason)
	}
	if key := strings.TrimSpace(input.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	r, err := g.api.NewRefund(ctx, params)
	if err != nil {
		g.logg.Error(g.logg.WithField(ctx, "intent_id", input.IntentID), "stripe refund failed", err)
		return nil, gatewayError(err, "refund payment")
	}
	return &Refund{ID: r.ID, Status: string(r.Status), AmountCents: r.Amount}, nil
}

func toIntent(pi *stripe.PaymentIntent) *Intent {
	intent := &Intent{
		ID:            pi.ID,
		ClientSecret:  pi.ClientSecret,
		Status:        string(pi.Status),
		AmountCents:   pi.Amount,
		ReceivedCents: pi.AmountReceived,
		Currency:      string(pi.Currency),
	}
	if pi.LastPaymentError != nil {
		intent.FailureMessage = pi.LastPaymentError.Msg
	}
	return intent
}

// gatewayError maps Stripe failures onto the API error codes. Card and
// request errors are the caller's problem; everything else is the gateway's.
func gatewayError(err error, action string) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch stripeErr.Type {
		case stripe.ErrorTypeCard:
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, stripeErr.Msg)
		case stripe.ErrorTypeInvalidRequest:
			if stripeErr.HTTPStatusCode == 404 {
				return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "payment intent not found")
			}
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodePaymentGateway, err, action)
}
