package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/storefront-backend/api/responses"
	stripewebhook "github.com/angelmondragon/storefront-backend/internal/webhooks/stripe"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
)

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

// DeliveryLedger de-duplicates deliveries by event id.
type DeliveryLedger interface {
	Claim(ctx context.Context, eventID string) (stripewebhook.DeliveryState, error)
	Complete(ctx context.Context, eventID string) error
	Release(ctx context.Context, eventID string) error
}

type signingSecretProvider interface {
	SigningSecret() string
}

const (
	signatureHeader     = "Stripe-Signature"
	maxWebhookBodyBytes = 64 << 10
)

type ack struct {
	Received  bool   `json:"received"`
	Duplicate bool   `json:"duplicate,omitempty"`
	InFlight  bool   `json:"in_flight,omitempty"`
	Ignored   string `json:"ignored,omitempty"`
}

// StripeWebhook verifies and applies Stripe payment events.
//
// Nothing is touched before the signature checks out. An event another worker
// is still applying is acknowledged as a duplicate: the first delivery's own
// response decides whether Stripe retries. Transient failures release the
// claim and return an error so Stripe redelivers. An
// event the service rejects outright (unknown order, malformed object) is
// acknowledged and remembered, since redelivery cannot change the answer.
func StripeWebhook(svc StripeWebhookService, secrets signingSecretProvider, deliveries DeliveryLedger, counters *metrics.WebhookMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil || secrets == nil || deliveries == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe webhook is not configured"))
			return
		}

		event, err := verifiedEvent(r, secrets.SigningSecret())
		if err != nil {
			counters.Inc("unknown", metrics.WebhookRejected)
			responses.WriteError(ctx, logg, w, err)
			return
		}
		ctx = logg.WithFields(ctx, map[string]any{"stripe_event_id": event.ID, "stripe_event_type": string(event.Type)})
		eventType := string(event.Type)

		state, err := deliveries.Claim(ctx, event.ID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim stripe event"))
			return
		}
		switch state {
		case stripewebhook.DeliveryDone:
			counters.Inc(eventType, metrics.WebhookDuplicate)
			responses.WriteSuccess(w, ack{Received: true, Duplicate: true})
			return
		case stripewebhook.DeliveryInFlight:
			counters.Inc(eventType, metrics.WebhookDuplicate)
			logg.Info(ctx, "stripe event already being applied")
			responses.WriteSuccess(w, ack{Received: true, Duplicate: true, InFlight: true})
			return
		}

		if err := svc.HandleEvent(ctx, &event); err != nil {
			if transient(err) {
				if relErr := deliveries.Release(ctx, event.ID); relErr != nil {
					logg.Error(ctx, "release stripe event claim", relErr)
				}
				responses.WriteError(ctx, logg, w, err)
				return
			}
			logg.Warn(logg.WithField(ctx, "error", err.Error()), "stripe event ignored")
			complete(ctx, deliveries, event.ID, logg)
			responses.WriteSuccess(w, ack{Received: true, Ignored: string(pkgerrors.As(err).Code())})
			return
		}

		complete(ctx, deliveries, event.ID, logg)
		logg.Info(ctx, "stripe event applied")
		responses.WriteSuccess(w, ack{Received: true})
	}
}

func verifiedEvent(r *http.Request, secret string) (stripe.Event, error) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes+1))
	if err != nil {
		return stripe.Event{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read webhook body")
	}
	if len(payload) > maxWebhookBodyBytes {
		return stripe.Event{}, pkgerrors.New(pkgerrors.CodeValidation, "webhook payload too large")
	}
	header := r.Header.Get(signatureHeader)
	if header == "" {
		return stripe.Event{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "stripe signature missing")
	}
	event, err := webhook.ConstructEvent(payload, header, secret)
	if err != nil {
		return stripe.Event{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid stripe signature")
	}
	return event, nil
}

// transient reports whether a redelivery of the event could succeed.
func transient(err error) bool {
	typed := pkgerrors.As(err)
	if typed == nil {
		return true
	}
	meta := pkgerrors.MetadataFor(typed.Code())
	return meta.Retryable || meta.HTTPStatus >= http.StatusInternalServerError
}

func complete(ctx context.Context, deliveries DeliveryLedger, eventID string, logg *logger.Logger) {
	if err := deliveries.Complete(ctx, eventID); err != nil {
		logg.Error(ctx, "mark stripe event done", err)
	}
}
