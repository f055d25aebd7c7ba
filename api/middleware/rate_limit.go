package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-backend/api/responses"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type rateLimiterStore interface {
	IncrWithTTL(context.Context, string, time.Duration) (int64, error)
	RateLimitKey(scope string) string
}

// RateLimitPolicy defines the throttling parameters for a traffic surface.
type RateLimitPolicy struct {
	name         string
	window       time.Duration
	ipLimit      int
	shopperLimit int
}

// NewRateLimitPolicy builds a policy with the supplied window and limits.
// A zero limit disables that dimension.
func NewRateLimitPolicy(name string, window time.Duration, ipLimit, shopperLimit int) RateLimitPolicy {
	return RateLimitPolicy{
		name:         strings.ToLower(strings.TrimSpace(name)),
		window:       window,
		ipLimit:      ipLimit,
		shopperLimit: shopperLimit,
	}
}

func (p RateLimitPolicy) enabled() bool {
	return p.window > 0 && (p.ipLimit > 0 || p.shopperLimit > 0)
}

func (p RateLimitPolicy) normalizedName() string {
	if p.name == "" {
		return "default"
	}
	return p.name
}

// RateLimit enforces per-IP and per-shopper fixed windows. Shopper counters
// key on the user id when authenticated and on a hash of the session otherwise.
func RateLimit(policy RateLimitPolicy, store rateLimiterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if policy.ipLimit > 0 {
				if ip := clientIP(r); ip != "" {
					key := store.RateLimitKey(policy.normalizedName() + ":ip:" + ip)
					if !enforce(ctx, w, logg, store, policy, key, "ip", policy.ipLimit) {
						return
					}
				}
			}

			if policy.shopperLimit > 0 {
				if shopper := shopperKey(ctx); shopper != "" {
					key := store.RateLimitKey(policy.normalizedName() + ":shopper:" + shopper)
					if !enforce(ctx, w, logg, store, policy, key, "shopper", policy.shopperLimit) {
						return
					}
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func enforce(ctx context.Context, w http.ResponseWriter, logg *logger.Logger, store rateLimiterStore, policy RateLimitPolicy, key, scope string, limit int) bool {
	count, err := store.IncrWithTTL(ctx, key, policy.window)
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
		return false
	}
	if count <= int64(limit) {
		return true
	}

	if logg != nil {
		logCtx := logg.WithFields(ctx, map[string]any{
			"scope":          scope,
			"policy":         policy.normalizedName(),
			"attempts":       count,
			"limit":          limit,
			"window_seconds": int(policy.window.Seconds()),
		})
		logg.Warn(logCtx, "rate_limit.blocked")
	}
	w.Header().Set("Retry-After", retryAfterSeconds(policy.window))
	responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
	return false
}

func shopperKey(ctx context.Context) string {
	if userID := UserIDFromContext(ctx); userID != "" {
		return "user:" + userID
	}
	if sessionID := SessionIDFromContext(ctx); sessionID != "" {
		return "session:" + hashValue(sessionID)
	}
	return ""
}

func retryAfterSeconds(window time.Duration) string {
	secs := int(window.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		for _, part := range strings.Split(header, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

func hashValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:16])
}
