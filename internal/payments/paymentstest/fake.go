// Package paymentstest provides an in-memory payments.Gateway for tests.
package paymentstest

import (
	"context"
	"fmt"
	"sync"

	"github.com/angelmondragon/storefront-backend/internal/payments"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// Gateway records calls and returns canned intents. Set FailCreate or
// FailRefund to simulate processor outages.
type Gateway struct {
	mu         sync.Mutex
	intents    map[string]*payments.Intent
	byKey      map[string]string
	Refunds    []payments.RefundInput
	Creates    int
	FailCreate bool
	FailRefund bool
}

func New() *Gateway {
	return &Gateway{intents: map[string]*payments.Intent{}, byKey: map[string]string{}}
}

func (g *Gateway) CreateIntent(ctx context.Context, input payments.CreateIntentInput) (*payments.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailCreate {
		return nil, pkgerrors.New(pkgerrors.CodePaymentGateway, "create payment intent")
	}
	if id, ok := g.byKey[input.IdempotencyKey]; ok && input.IdempotencyKey != "" {
		out := *g.intents[id]
		return &out, nil
	}
	g.Creates++
	id := fmt.Sprintf("pi_test_%d", g.Creates)
	intent := &payments.Intent{
		ID:           id,
		ClientSecret: id + "_secret",
		Status:       "requires_payment_method",
		AmountCents:  input.AmountCents,
		Currency:     input.Currency,
	}
	g.intents[id] = intent
	if input.IdempotencyKey != "" {
		g.byKey[input.IdempotencyKey] = id
	}
	out := *intent
	return &out, nil
}

func (g *Gateway) RetrieveIntentStatus(ctx context.Context, intentID string) (*payments.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	intent, ok := g.intents[intentID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found")
	}
	out := *intent
	out.ClientSecret = ""
	return &out, nil
}

func (g *Gateway) Refund(ctx context.Context, input payments.RefundInput) (*payments.Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailRefund {
		return nil, pkgerrors.New(pkgerrors.CodePaymentGateway, "refund payment")
	}
	g.Refunds = append(g.Refunds, input)
	return &payments.Refund{ID: fmt.Sprintf("re_test_%d", len(g.Refunds)), Status: "succeeded", AmountCents: input.AmountCents}, nil
}

// SetStatus moves a stored intent, e.g. to "succeeded" before a status sync.
func (g *Gateway) SetStatus(intentID, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if intent, ok := g.intents[intentID]; ok {
		intent.Status = status
	}
}
