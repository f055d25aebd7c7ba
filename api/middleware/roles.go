package middleware

import (
	"net/http"
	"slices"

	"github.com/angelmondragon/storefront-backend/api/responses"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// RequireRole admits authenticated callers holding any of roles. It reads the
// claims Auth or Identity placed on the context, so it must run after them.
func RequireRole(logg *logger.Logger, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			switch {
			case UserIDFromContext(ctx) == "":
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			case !slices.Contains(roles, RoleFromContext(ctx)):
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "insufficient role"))
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}
