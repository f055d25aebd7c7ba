package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	stripewebhook "github.com/angelmondragon/storefront-backend/internal/webhooks/stripe"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
)

const testSecret = "whsec_test"

type harness struct {
	svc        *recordingService
	deliveries *stripewebhook.DeliveryLedger
	registry   *prometheus.Registry
	handler    http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	deliveries, err := stripewebhook.NewDeliveryLedger(newMemoryStore(), time.Hour, "stripe-webhook")
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	svc := &recordingService{}
	return &harness{
		svc:        svc,
		deliveries: deliveries,
		registry:   reg,
		handler:    StripeWebhook(svc, staticSecret(testSecret), deliveries, metrics.NewWebhookMetrics(reg), nil),
	}
}

func (h *harness) deliver(payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set(signatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeAck(t *testing.T, rec *httptest.ResponseRecorder) ack {
	t.Helper()
	var env struct {
		Data ack `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Data
}

func TestStripeWebhookAppliesOnceAcrossRedeliveries(t *testing.T) {
	h := newHarness(t)
	event := signedIntentEvent(t)

	first := h.deliver(event.payload, event.signature)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	assert.Equal(t, ack{Received: true}, decodeAck(t, first))

	second := h.deliver(event.payload, event.signature)
	require.Equal(t, http.StatusOK, second.Code)
	assert.True(t, decodeAck(t, second).Duplicate)
	assert.Equal(t, 1, h.svc.callCount())

	assert.Equal(t, 1.0, webhookCount(t, h.registry, metrics.WebhookDuplicate))
}

func TestStripeWebhookRejectsBadSignatures(t *testing.T) {
	event := signedIntentEvent(t)
	for name, signature := range map[string]string{
		"missing":    "",
		"tampered":   "t=1,v1=deadbeef",
		"wrong key":  signatureFor(event.payload, "whsec_other", time.Now().Unix()),
		"stale time": signatureFor(event.payload, testSecret, time.Now().Add(-time.Hour).Unix()),
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			rec := h.deliver(event.payload, signature)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Zero(t, h.svc.callCount())
		})
	}
}

func TestStripeWebhookRejectsOversizedPayload(t *testing.T) {
	h := newHarness(t)
	payload := bytes.Repeat([]byte("x"), maxWebhookBodyBytes+1)
	rec := h.deliver(payload, signatureFor(payload, testSecret, time.Now().Unix()))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, h.svc.callCount())
}

func TestStripeWebhookTransientFailureIsRetried(t *testing.T) {
	h := newHarness(t)
	event := signedIntentEvent(t)
	h.svc.err = pkgerrors.New(pkgerrors.CodeDependency, "db down")

	rec := h.deliver(event.payload, event.signature)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h.svc.err = nil
	rec = h.deliver(event.payload, event.signature)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeAck(t, rec).Duplicate)
	assert.Equal(t, 2, h.svc.callCount())
}

func TestStripeWebhookPermanentFailureIsAcknowledged(t *testing.T) {
	h := newHarness(t)
	event := signedIntentEvent(t)
	h.svc.err = pkgerrors.New(pkgerrors.CodeValidation, "payment intent id missing")

	rec := h.deliver(event.payload, event.signature)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeValidation), decodeAck(t, rec).Ignored)

	rec = h.deliver(event.payload, event.signature)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeAck(t, rec).Duplicate)
	assert.Equal(t, 1, h.svc.callCount())
}

func TestStripeWebhookInFlightDeliveryIsAcknowledged(t *testing.T) {
	h := newHarness(t)
	event := signedIntentEvent(t)
	ctx := context.Background()

	state, err := h.deliveries.Claim(ctx, event.id)
	require.NoError(t, err)
	require.Equal(t, stripewebhook.DeliveryNew, state)

	rec := h.deliver(event.payload, event.signature)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeAck(t, rec)
	assert.True(t, got.Duplicate)
	assert.True(t, got.InFlight)
	assert.Zero(t, h.svc.callCount())

	// The first worker gives up; Stripe's retry of its delivery is applied.
	require.NoError(t, h.deliveries.Release(ctx, event.id))
	rec = h.deliver(event.payload, event.signature)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeAck(t, rec).Duplicate)
	assert.Equal(t, 1, h.svc.callCount())
}

func TestStripeWebhookUnconfigured(t *testing.T) {
	rec := httptest.NewRecorder()
	StripeWebhook(nil, nil, nil, nil, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func webhookCount(t *testing.T, reg *prometheus.Registry, outcome string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, family := range families {
		if family.GetName() != "storefront_payment_webhook_events_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "outcome" && label.GetValue() == outcome {
					total += m.GetCounter().GetValue()
				}
			}
		}
	}
	return total
}

type signedEvent struct {
	id        string
	payload   []byte
	signature string
}

func signedIntentEvent(t *testing.T) signedEvent {
	t.Helper()
	rawIntent, err := json.Marshal(&stripe.PaymentIntent{
		ID:             "pi_" + uuid.NewString(),
		Status:         stripe.PaymentIntentStatusSucceeded,
		Amount:         2599,
		AmountReceived: 2599,
		Currency:       stripe.CurrencyUSD,
	})
	require.NoError(t, err)

	id := "evt_" + uuid.NewString()
	payload, err := json.Marshal(&stripe.Event{
		ID:         id,
		Type:       stripe.EventTypePaymentIntentSucceeded,
		Object:     "event",
		APIVersion: stripe.APIVersion,
		Data:       &stripe.EventData{Raw: rawIntent},
	})
	require.NoError(t, err)
	return signedEvent{id: id, payload: payload, signature: signatureFor(payload, testSecret, time.Now().Unix())}
}

func signatureFor(payload []byte, secret string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

type recordingService struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *recordingService) HandleEvent(context.Context, *stripe.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.err
}

func (s *recordingService) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type staticSecret string

func (s staticSecret) SigningSecret() string { return string(s) }

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: map[string]string{}}
}

func (s *memoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (s *memoryStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = fmt.Sprint(value)
	return nil
}

func (s *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; ok {
		return false, nil
	}
	s.data[key] = fmt.Sprint(value)
	return true, nil
}

func (s *memoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

func (s *memoryStore) IdempotencyKey(scope, id string) string {
	return scope + ":" + id
}
