package checkout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/internal/cart"
	checkoutsvc "github.com/angelmondragon/storefront-backend/internal/checkout"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

type stubCheckout struct {
	checkoutsvc.Service

	preview      *checkoutsvc.Preview
	receipt      *checkoutsvc.Receipt
	err          error
	lastIdentity cart.Identity
	lastInput    checkoutsvc.Input
	lastMethod   string
	lastPromo    string
}

func (s *stubCheckout) Preview(ctx context.Context, identity cart.Identity, shippingMethod, promotionCode string) (*checkoutsvc.Preview, error) {
	s.lastIdentity = identity
	s.lastMethod = shippingMethod
	s.lastPromo = promotionCode
	return s.preview, s.err
}

func (s *stubCheckout) Checkout(ctx context.Context, identity cart.Identity, input checkoutsvc.Input) (*checkoutsvc.Receipt, error) {
	s.lastIdentity = identity
	s.lastInput = input
	return s.receipt, s.err
}

func (s *stubCheckout) Refund(ctx context.Context, orderID uuid.UUID, amountCents int64, reason string) (*payments.Refund, error) {
	return nil, nil
}

func (s *stubCheckout) CancelOrder(ctx context.Context, orderID uuid.UUID, owner *cart.Identity, message string) (*models.Order, error) {
	return nil, nil
}

func (s *stubCheckout) ExpirePending(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	return 0, nil
}

const validBody = `{
	"shipping_address": {"name":"Ada","line1":"1 Main St","city":"Austin","state":"TX","postal_code":"78701"},
	"shipping_method": "standard",
	"promotion_code": " SAVE10 "
}`

func sessionRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	return req.WithContext(middleware.WithSessionID(req.Context(), "sess-1"))
}

func TestSubmitCreatesOrder(t *testing.T) {
	orderID := uuid.New()
	svc := &stubCheckout{receipt: &checkoutsvc.Receipt{
		Order:   orders.OrderDetail{ID: orderID},
		Payment: &checkoutsvc.PaymentHandle{IntentID: "pi_1", ClientSecret: "secret", AmountCents: 2599, Currency: "usd"},
	}}

	resp := httptest.NewRecorder()
	Submit(svc, nil).ServeHTTP(resp, sessionRequest(http.MethodPost, "/api/v1/checkout", validBody))

	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, "sess-1", svc.lastIdentity.SessionID)
	assert.Equal(t, "standard", svc.lastInput.ShippingMethod)
	assert.Equal(t, "SAVE10", svc.lastInput.PromotionCode)
	assert.Equal(t, "Austin", svc.lastInput.ShippingAddress.City)
	assert.Nil(t, svc.lastInput.BillingAddress)

	var envelope struct {
		Data struct {
			Order struct {
				ID uuid.UUID `json:"id"`
			} `json:"order"`
			Payment struct {
				ClientSecret string `json:"client_secret"`
			} `json:"payment"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.Equal(t, orderID, envelope.Data.Order.ID)
	assert.Equal(t, "secret", envelope.Data.Payment.ClientSecret)
}

func TestSubmitRejectsMissingAddressFields(t *testing.T) {
	svc := &stubCheckout{}
	body := `{"shipping_address":{"name":"Ada"},"shipping_method":"standard"}`

	resp := httptest.NewRecorder()
	Submit(svc, nil).ServeHTTP(resp, sessionRequest(http.MethodPost, "/api/v1/checkout", body))

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Empty(t, svc.lastInput.ShippingMethod)
}

func TestSubmitMapsServiceErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"empty cart", pkgerrors.New(pkgerrors.CodeCartEmpty, "cart is empty"), http.StatusBadRequest},
		{"insufficient", pkgerrors.New(pkgerrors.CodeInsufficientInventory, "sold out"), http.StatusBadRequest},
		{"persistence", pkgerrors.New(pkgerrors.CodePersistence, "write failed"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := httptest.NewRecorder()
			Submit(&stubCheckout{err: tt.err}, nil).ServeHTTP(resp, sessionRequest(http.MethodPost, "/api/v1/checkout", validBody))
			assert.Equal(t, tt.want, resp.Code)
		})
	}
}

func TestValidateAcceptsEmptyBody(t *testing.T) {
	svc := &stubCheckout{preview: &checkoutsvc.Preview{Validation: &checkoutsvc.Result{Valid: true}}}

	resp := httptest.NewRecorder()
	Validate(svc, nil).ServeHTTP(resp, sessionRequest(http.MethodPost, "/api/v1/checkout/validate", ""))

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Empty(t, svc.lastMethod)
}

func TestValidateForwardsShippingAndPromo(t *testing.T) {
	svc := &stubCheckout{preview: &checkoutsvc.Preview{Validation: &checkoutsvc.Result{Valid: true}}}

	resp := httptest.NewRecorder()
	Validate(svc, nil).ServeHTTP(resp, sessionRequest(http.MethodPost, "/api/v1/checkout/validate", `{"shipping_method":"express","promotion_code":"FALL"}`))

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "express", svc.lastMethod)
	assert.Equal(t, "FALL", svc.lastPromo)
}
