package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
)

func newRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{OrdersTopic: "orders-topic", PaymentsTopic: "payments-topic"})
	require.NoError(t, err)
	return reg
}

func envelopeFor(t *testing.T, version int, data string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(outbox.Envelope{
		Version:    version,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(data),
	})
	require.NoError(t, err)
	return raw
}

func orderRow(t *testing.T, eventType enums.OutboxEventType, data any) models.OutboxEvent {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return models.OutboxEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       envelopeFor(t, outbox.SchemaVersion, string(raw)),
	}
}

func TestResolveRoutesEveryEventType(t *testing.T) {
	reg := newRegistry(t)
	orderID := uuid.New()

	for _, tc := range []struct {
		eventType enums.OutboxEventType
		data      any
		topic     string
		payload   any
	}{
		{enums.EventOrderCreated, payloads.OrderCreatedEvent{OrderID: orderID, OrderNumber: "SF-1", ItemCount: 3}, "orders-topic", &payloads.OrderCreatedEvent{}},
		{enums.EventOrderStatusChanged, payloads.OrderStatusChangedEvent{OrderID: orderID, To: enums.OrderStatusConfirmed}, "orders-topic", &payloads.OrderStatusChangedEvent{}},
		{enums.EventPaymentSucceeded, payloads.PaymentEvent{OrderID: orderID, Status: enums.PaymentStatusCompleted}, "payments-topic", &payloads.PaymentEvent{}},
		{enums.EventPaymentFailed, payloads.PaymentEvent{OrderID: orderID, Status: enums.PaymentStatusFailed}, "payments-topic", &payloads.PaymentEvent{}},
		{enums.EventOrderRefunded, payloads.OrderRefundedEvent{OrderID: orderID, RefundedCents: 500}, "payments-topic", &payloads.OrderRefundedEvent{}},
	} {
		t.Run(string(tc.eventType), func(t *testing.T) {
			resolved, err := reg.Resolve(orderRow(t, tc.eventType, tc.data))
			require.NoError(t, err)
			assert.Equal(t, tc.topic, resolved.Route.Topic)
			assert.IsType(t, tc.payload, resolved.Payload)
			assert.NotEmpty(t, resolved.Envelope.EventID)
		})
	}
}

func TestResolveDecodesPayload(t *testing.T) {
	resolved, err := newRegistry(t).Resolve(orderRow(t, enums.EventOrderCreated,
		payloads.OrderCreatedEvent{OrderNumber: "SF-KX-ABCDEF", ItemCount: 3}))
	require.NoError(t, err)

	created := resolved.Payload.(*payloads.OrderCreatedEvent)
	assert.Equal(t, "SF-KX-ABCDEF", created.OrderNumber)
	assert.Equal(t, 3, created.ItemCount)
}

func TestResolveRejectsMalformedRowsPermanently(t *testing.T) {
	reg := newRegistry(t)
	valid := func() models.OutboxEvent {
		return orderRow(t, enums.EventOrderCreated, payloads.OrderCreatedEvent{OrderNumber: "SF-1"})
	}

	cases := map[string]func(*models.OutboxEvent){
		"unknown event":      func(r *models.OutboxEvent) { r.EventType = "cart_abandoned" },
		"aggregate mismatch": func(r *models.OutboxEvent) { r.AggregateType = "cart" },
		"no aggregate id":    func(r *models.OutboxEvent) { r.AggregateID = uuid.Nil },
		"null data":          func(r *models.OutboxEvent) { r.Payload = envelopeFor(t, 1, "null") },
		"future version":     func(r *models.OutboxEvent) { r.Payload = envelopeFor(t, outbox.SchemaVersion+1, `{}`) },
		"wrong data shape":   func(r *models.OutboxEvent) { r.Payload = envelopeFor(t, 1, `{"item_count":"three"}`) },
		"broken envelope":    func(r *models.OutboxEvent) { r.Payload = json.RawMessage(`{"version":`) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			row := valid()
			mutate(&row)
			_, err := reg.Resolve(row)
			require.Error(t, err)
			assert.True(t, IsPermanent(err))
		})
	}
}

func TestPermanentMarker(t *testing.T) {
	base := errors.New("no publisher")
	wrapped := fmt.Errorf("publish: %w", Permanent(base))

	assert.True(t, IsPermanent(wrapped))
	assert.ErrorIs(t, wrapped, base)
	assert.False(t, IsPermanent(base))
	assert.NoError(t, Permanent(nil))
}

func TestTopicsAndConfig(t *testing.T) {
	_, err := NewEventRegistry(config.PubSubConfig{OrdersTopic: "orders"})
	assert.Error(t, err)

	assert.Equal(t, []string{"orders-topic", "payments-topic"}, newRegistry(t).Topics())
}
