package payments

import (
	"context"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/refund"

	pkgstripe "github.com/angelmondragon/storefront-backend/pkg/stripe"
)

type stripeAPIClient struct {
	intents paymentintent.Client
	refunds refund.Client
}

// NewStripeAPI adapts the resource clients bound to client to stripeAPI.
func NewStripeAPI(client *pkgstripe.Client) stripeAPI {
	if client == nil {
		return nil
	}
	return &stripeAPIClient{intents: client.PaymentIntents(), refunds: client.Refunds()}
}

func (c *stripeAPIClient) NewIntent(ctx context.Context, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	params.Context = ctx
	return c.intents.New(params)
}

func (c *stripeAPIClient) GetIntent(ctx context.Context, id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if params == nil {
		params = &stripe.PaymentIntentParams{}
	}
	params.Context = ctx
	return c.intents.Get(id, params)
}

func (c *stripeAPIClient) NewRefund(ctx context.Context, params *stripe.RefundParams) (*stripe.Refund, error) {
	params.Context = ctx
	return c.refunds.New(params)
}
