package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/checkout"
	"github.com/angelmondragon/storefront-backend/internal/inventory"
	internalorders "github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

type stubOrders struct {
	internalorders.Service

	err          error
	advancedTo   enums.OrderStatus
	lastLocation *string
}

func (s *stubOrders) Advance(ctx context.Context, id uuid.UUID, to enums.OrderStatus, message string, location *string) (*models.Order, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.advancedTo = to
	s.lastLocation = location
	return &models.Order{ID: id, Status: to}, nil
}

type stubCheckout struct {
	checkout.Service

	cancelled    bool
	cancelOwner  *cart.Identity
	refundAmount int64
	refundReason string
	refundErr    error
}

func (s *stubCheckout) CancelOrder(ctx context.Context, orderID uuid.UUID, owner *cart.Identity, message string) (*models.Order, error) {
	s.cancelled = true
	s.cancelOwner = owner
	return &models.Order{ID: orderID, Status: enums.OrderStatusCancelled}, nil
}

func (s *stubCheckout) Refund(ctx context.Context, orderID uuid.UUID, amountCents int64, reason string) (*payments.Refund, error) {
	if s.refundErr != nil {
		return nil, s.refundErr
	}
	s.refundAmount = amountCents
	s.refundReason = reason
	return &payments.Refund{ID: "re_1", AmountCents: amountCents, Status: "pending"}, nil
}

func withParam(req *http.Request, key, value string) *http.Request {
	rc := chi.NewRouteContext()
	rc.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

func TestUpdateOrderStatusAdvances(t *testing.T) {
	orders := &stubOrders{}
	co := &stubCheckout{}
	body := `{"status":"shipped","message":"handed to carrier","location":"Austin, TX"}`
	req := withParam(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), "orderId", uuid.NewString())

	resp := httptest.NewRecorder()
	UpdateOrderStatus(orders, co, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, enums.OrderStatusShipped, orders.advancedTo)
	require.NotNil(t, orders.lastLocation)
	assert.Equal(t, "Austin, TX", *orders.lastLocation)
	assert.False(t, co.cancelled)
}

func TestUpdateOrderStatusCancelRoutesThroughCheckout(t *testing.T) {
	orders := &stubOrders{}
	co := &stubCheckout{}
	req := withParam(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"status":"cancelled"}`)), "orderId", uuid.NewString())

	resp := httptest.NewRecorder()
	UpdateOrderStatus(orders, co, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, co.cancelled)
	assert.Nil(t, co.cancelOwner)
	assert.Empty(t, orders.advancedTo)
}

func TestUpdateOrderStatusRejectsUnknownStatus(t *testing.T) {
	req := withParam(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"status":"lost"}`)), "orderId", uuid.NewString())

	resp := httptest.NewRecorder()
	UpdateOrderStatus(&stubOrders{}, &stubCheckout{}, nil).ServeHTTP(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestUpdateOrderStatusIllegalTransition(t *testing.T) {
	orders := &stubOrders{err: pkgerrors.New(pkgerrors.CodeStateConflict, "illegal transition")}
	req := withParam(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"status":"delivered"}`)), "orderId", uuid.NewString())

	resp := httptest.NewRecorder()
	UpdateOrderStatus(orders, &stubCheckout{}, nil).ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}

func TestRefundOrderDefaultsReason(t *testing.T) {
	co := &stubCheckout{}
	req := withParam(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount_cents":500}`)), "orderId", uuid.NewString())

	resp := httptest.NewRecorder()
	RefundOrder(co, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusAccepted, resp.Code)
	assert.Equal(t, int64(500), co.refundAmount)
	assert.Equal(t, "requested_by_customer", co.refundReason)
}

func TestRefundOrderRejectsNegativeAmount(t *testing.T) {
	req := withParam(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount_cents":-1}`)), "orderId", uuid.NewString())

	resp := httptest.NewRecorder()
	RefundOrder(&stubCheckout{}, nil).ServeHTTP(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestRefundOrderOverBalanceConflicts(t *testing.T) {
	co := &stubCheckout{refundErr: pkgerrors.New(pkgerrors.CodeConflict, "refund exceeds captured amount")}
	req := withParam(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount_cents":999999}`)), "orderId", uuid.NewString())

	resp := httptest.NewRecorder()
	RefundOrder(co, nil).ServeHTTP(resp, req)
	assert.Equal(t, http.StatusConflict, resp.Code)
}

func TestSetInventoryWritesLedger(t *testing.T) {
	db := dbtest.Open(t, &models.Product{}, &models.ProductVariant{})
	product := models.Product{
		SKU:            "SKU-" + uuid.NewString()[:8],
		Name:           "Widget",
		PriceCents:     1000,
		IsActive:       true,
		IsVisible:      true,
		TrackInventory: true,
		Inventory:      2,
	}
	require.NoError(t, db.Create(&product).Error)
	ledger := inventory.NewLedger(db)

	req := withParam(httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"quantity":40}`)), "productId", product.ID.String())
	resp := httptest.NewRecorder()
	SetInventory(ledger, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	var envelope struct {
		Data inventoryResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.Equal(t, 40, envelope.Data.Inventory)

	qty, err := ledger.Available(context.Background(), inventory.Item{ProductID: product.ID})
	require.NoError(t, err)
	assert.Equal(t, 40, qty)
}

func TestSetInventoryUnknownProduct(t *testing.T) {
	db := dbtest.Open(t, &models.Product{}, &models.ProductVariant{})
	req := withParam(httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"quantity":1}`)), "productId", uuid.NewString())

	resp := httptest.NewRecorder()
	SetInventory(inventory.NewLedger(db), nil).ServeHTTP(resp, req)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestSetInventoryRequiresQuantity(t *testing.T) {
	db := dbtest.Open(t, &models.Product{}, &models.ProductVariant{})
	req := withParam(httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{}`)), "productId", uuid.NewString())

	resp := httptest.NewRecorder()
	SetInventory(inventory.NewLedger(db), nil).ServeHTTP(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}
