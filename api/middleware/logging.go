package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// Logging writes one line per request once the response is complete. The
// request fields are attached to the context first, so handler log lines
// carry them too.
func Logging(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := logg.WithFields(r.Context(), map[string]any{
				"method":    r.Method,
				"path":      r.URL.Path,
				"client_ip": clientIP(r),
			})
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			ctx = logg.WithFields(ctx, map[string]any{
				"status":      status,
				"bytes":       ww.BytesWritten(),
				"duration_ms": time.Since(start).Milliseconds(),
			})
			if status >= http.StatusInternalServerError {
				logg.Warn(ctx, "request complete")
				return
			}
			logg.Info(ctx, "request complete")
		})
	}
}
