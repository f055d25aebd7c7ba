package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/angelmondragon/storefront-backend/api/responses"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// Recoverer turns a handler panic into a 500 envelope. http.ErrAbortHandler
// is re-raised so net/http can abort the connection as intended.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}
				err := fmt.Errorf("panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "handler panicked"))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
