package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/pkg/auth"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

var testJWT = config.JWTConfig{Secret: "secret", Issuer: "storefront", ExpirationMinutes: 60}

type captured struct {
	user    string
	role    string
	session string
}

func capturingHandler(out *captured) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out.user = UserIDFromContext(r.Context())
		out.role = RoleFromContext(r.Context())
		out.session = SessionIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthRejectsMissingToken(t *testing.T) {
	var got captured
	handler := Auth(testJWT, nil)(capturingHandler(&got))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	var got captured
	handler := Auth(testJWT, nil)(capturingHandler(&got))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer invalid")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestAuthAllowsValidToken(t *testing.T) {
	userID := uuid.New()
	token := mintTestToken(t, userID, enums.UserRoleAdmin)

	var got captured
	handler := Auth(testJWT, nil)(capturingHandler(&got))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, userID.String(), got.user)
	assert.Equal(t, string(enums.UserRoleAdmin), got.role)
}

func TestIdentityAcceptsSessionHeader(t *testing.T) {
	var got captured
	handler := Identity(testJWT, nil)(capturingHandler(&got))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(SessionHeader, "sess-123")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Empty(t, got.user)
	assert.Equal(t, "sess-123", got.session)
}

func TestIdentityCarriesTokenAndSession(t *testing.T) {
	userID := uuid.New()
	token := mintTestToken(t, userID, enums.UserRoleCustomer)

	var got captured
	handler := Identity(testJWT, nil)(capturingHandler(&got))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(SessionHeader, "sess-merge")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, userID.String(), got.user)
	assert.Equal(t, "sess-merge", got.session)
}

func TestIdentityRejectsMalformedToken(t *testing.T) {
	var got captured
	handler := Identity(testJWT, nil)(capturingHandler(&got))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer nope")
	req.Header.Set(SessionHeader, "sess-123")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Empty(t, got.session)
}

func TestIdentityPassesAnonymousRequests(t *testing.T) {
	var got captured
	handler := Identity(testJWT, nil)(capturingHandler(&got))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Empty(t, got.user)
	assert.Empty(t, got.session)
}

func TestIdentityRejectsOversizedSession(t *testing.T) {
	var got captured
	handler := Identity(testJWT, nil)(capturingHandler(&got))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(SessionHeader, strings.Repeat("s", maxSessionIDLength+1))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestRequireRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	guard := RequireRole(nil, string(enums.UserRoleAdmin))(ok)

	tests := []struct {
		name string
		user string
		role string
		want int
	}{
		{"anonymous", "", "", http.StatusUnauthorized},
		{"customer", uuid.NewString(), string(enums.UserRoleCustomer), http.StatusForbidden},
		{"admin", uuid.NewString(), string(enums.UserRoleAdmin), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			ctx := req.Context()
			if tt.user != "" {
				ctx = WithUserID(ctx, tt.user)
				ctx = WithRole(ctx, tt.role)
			}
			resp := httptest.NewRecorder()
			guard.ServeHTTP(resp, req.WithContext(ctx))
			assert.Equal(t, tt.want, resp.Code)
		})
	}
}

func TestRequireRoleAcceptsAnyListedRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	guard := RequireRole(nil, string(enums.UserRoleAdmin), string(enums.UserRoleCustomer))(ok)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := WithRole(WithUserID(req.Context(), uuid.NewString()), string(enums.UserRoleCustomer))
	resp := httptest.NewRecorder()
	guard.ServeHTTP(resp, req.WithContext(ctx))
	assert.Equal(t, http.StatusNoContent, resp.Code)
}

func mintTestToken(t *testing.T, userID uuid.UUID, role enums.UserRole) string {
	t.Helper()
	token, err := auth.Issue(testJWT, time.Now(), userID, role)
	require.NoError(t, err)
	return token
}
