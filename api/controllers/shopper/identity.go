package shopper

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/internal/cart"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// Resolve returns the cart identity for the request. An authenticated user
// wins over the session header; the session is only used for merge.
func Resolve(r *http.Request) (cart.Identity, error) {
	ctx := r.Context()
	if raw := middleware.UserIDFromContext(ctx); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return cart.Identity{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
		}
		return cart.ForUser(id), nil
	}
	if session := middleware.SessionIDFromContext(ctx); session != "" {
		return cart.ForSession(session), nil
	}
	return cart.Identity{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user or session identity required")
}

// RequireUser returns the authenticated user id.
func RequireUser(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	return id, nil
}

// PathUUID parses a chi URL parameter as a UUID.
func PathUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, name+" is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+name)
	}
	return id, nil
}
