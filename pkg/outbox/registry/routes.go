// Package registry decides where each outbox event type is published and
// checks that a stored row can be decoded before it leaves the database.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
)

// Route binds an event type to its aggregate, its topic and the payload
// type its data must decode into.
type Route struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	decode        func(json.RawMessage) (any, error)
}

func orderRoute[T any](eventType enums.OutboxEventType, topic string) Route {
	return Route{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		Topic:         topic,
		decode: func(raw json.RawMessage) (any, error) {
			var payload T
			if err := json.Unmarshal(raw, &payload); err != nil {
				return nil, err
			}
			return &payload, nil
		},
	}
}

// Resolved is an outbox row that passed every check and is ready to publish.
type Resolved struct {
	Route    Route
	Envelope outbox.Envelope
	Payload  any
}

// EventRegistry routes order lifecycle events to the orders topic and payment
// outcomes to the payments topic.
type EventRegistry struct {
	routes map[enums.OutboxEventType]Route
}

func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.OrdersTopic == "" || cfg.PaymentsTopic == "" {
		return nil, errors.New("orders and payments topics are required")
	}
	reg := &EventRegistry{routes: map[enums.OutboxEventType]Route{}}
	for _, r := range []Route{
		orderRoute[payloads.OrderCreatedEvent](enums.EventOrderCreated, cfg.OrdersTopic),
		orderRoute[payloads.OrderStatusChangedEvent](enums.EventOrderStatusChanged, cfg.OrdersTopic),
		orderRoute[payloads.PaymentEvent](enums.EventPaymentSucceeded, cfg.PaymentsTopic),
		orderRoute[payloads.PaymentEvent](enums.EventPaymentFailed, cfg.PaymentsTopic),
		orderRoute[payloads.OrderRefundedEvent](enums.EventOrderRefunded, cfg.PaymentsTopic),
	} {
		reg.routes[r.EventType] = r
	}
	return reg, nil
}

// Topics lists the distinct destination topics, sorted.
func (r *EventRegistry) Topics() []string {
	topics := make([]string, 0, len(r.routes))
	for _, route := range r.routes {
		topics = append(topics, route.Topic)
	}
	slices.Sort(topics)
	return slices.Compact(topics)
}

// Resolve checks row against its route and decodes its payload. Every error
// it returns is permanent: retrying the same bytes cannot succeed.
func (r *EventRegistry) Resolve(row models.OutboxEvent) (*Resolved, error) {
	route, ok := r.routes[row.EventType]
	switch {
	case !ok:
		return nil, Permanent(fmt.Errorf("no route for event type %q", row.EventType))
	case row.AggregateType != route.AggregateType:
		return nil, Permanent(fmt.Errorf("%s expects aggregate %s, row has %q", row.EventType, route.AggregateType, row.AggregateType))
	case row.AggregateID == uuid.Nil:
		return nil, Permanent(errors.New("row has no aggregate id"))
	}

	env, err := outbox.DecodeEnvelope(row.Payload)
	if err != nil {
		return nil, Permanent(err)
	}
	payload, err := route.decode(env.Data)
	if err != nil {
		return nil, Permanent(fmt.Errorf("decode %s data: %w", row.EventType, err))
	}
	return &Resolved{Route: route, Envelope: env, Payload: payload}, nil
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as one the relay must not retry.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, was marked Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}
