package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const (
	requestIDHeader   = "X-Request-Id"
	maxRequestIDBytes = 64
)

// RequestID adopts a well-formed inbound X-Request-Id (from the load balancer
// or a retrying client) or mints a new one, echoes it on the response and
// tags the request's log context with it.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(requestIDHeader))
			if !acceptableRequestID(id) {
				id = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, id)
			next.ServeHTTP(w, r.WithContext(logg.WithRequestID(r.Context(), id)))
		})
	}
}

// acceptableRequestID limits inbound ids to short printable tokens so they
// are safe to log and echo.
func acceptableRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDBytes {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.', c == ':':
		default:
			return false
		}
	}
	return true
}
