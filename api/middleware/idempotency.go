package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/storefront-backend/api/responses"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/storefront-backend/pkg/redis"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"

	maxIdempotencyKeyLength = 255
	maxIdempotentBodyBytes  = 1 << 20
	// inFlightTTL bounds how long a crashed request can block its key.
	inFlightTTL = 2 * time.Minute
)

// IdempotencyStore is the redis surface the middleware needs.
type IdempotencyStore interface {
	pkgredis.IdempotencyStore
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// IdempotencyPolicy describes one protected route. Scope names the operation
// in the record key; TTL is how long a completed response can be replayed.
type IdempotencyPolicy struct {
	Scope    string
	TTL      time.Duration
	Required bool
}

// CriticalIdempotency keeps records for a week. Money-moving and order-state
// routes use it.
func CriticalIdempotency(scope string) IdempotencyPolicy {
	return IdempotencyPolicy{Scope: scope, TTL: 7 * 24 * time.Hour}
}

func StandardIdempotency(scope string) IdempotencyPolicy {
	return IdempotencyPolicy{Scope: scope, TTL: 24 * time.Hour}
}

// Require returns p with the header made mandatory.
func (p IdempotencyPolicy) Require() IdempotencyPolicy {
	p.Required = true
	return p
}

type idempotencyRecord struct {
	State       string `json:"state"`
	Fingerprint string `json:"fingerprint"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

const (
	recordInFlight = "in_flight"
	recordDone     = "done"
)

// Idempotency makes a route safe to retry. The first request with a given
// key runs; later requests with the same key and body replay its response.
// A key reused with a different body is rejected, as is a duplicate that
// arrives while the first request is still running. Outcomes the client is
// meant to retry (5xx, or an error body marked retryable) are not recorded.
func Idempotency(store IdempotencyStore, policy IdempotencyPolicy, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			clientKey := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			switch {
			case store == nil:
				next.ServeHTTP(w, r)
				return
			case clientKey == "" && !policy.Required:
				next.ServeHTTP(w, r)
				return
			case clientKey == "":
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, IdempotencyHeader+" header required"))
				return
			case len(clientKey) > maxIdempotencyKeyLength:
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, IdempotencyHeader+" too long"))
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIdempotentBodyBytes))
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unreadable request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			key := store.IdempotencyKey(policy.Scope, recordOwner(r)+":"+clientKey)
			fingerprint := fingerprintRequest(r, body)

			claimed, err := claimKey(r, store, key, fingerprint)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "idempotency store"))
				return
			}
			if !claimed {
				replayOrReject(w, r, store, key, fingerprint, logg)
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)
			status := capture.statusCode()

			if !replayable(status, capture.body.Bytes()) {
				if err := store.Del(ctx, key); err != nil {
					logg.Error(ctx, "release idempotency key", err)
				}
				return
			}
			done, _ := json.Marshal(idempotencyRecord{
				State:       recordDone,
				Fingerprint: fingerprint,
				Status:      status,
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.body.Bytes(),
			})
			if err := store.Set(ctx, key, string(done), policy.TTL); err != nil {
				logg.Error(logg.WithField(ctx, "idempotency_key", key), "store idempotent response", err)
			}
		})
	}
}

func claimKey(r *http.Request, store IdempotencyStore, key, fingerprint string) (bool, error) {
	marker, _ := json.Marshal(idempotencyRecord{State: recordInFlight, Fingerprint: fingerprint})
	return store.SetNX(r.Context(), key, string(marker), inFlightTTL)
}

func replayOrReject(w http.ResponseWriter, r *http.Request, store IdempotencyStore, key, fingerprint string, logg *logger.Logger) {
	ctx := r.Context()
	raw, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// The holder gave the key back between our claim and this read.
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this "+IdempotencyHeader+" is being retried; try again"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "idempotency store"))
		return
	}
	var rec idempotencyRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode idempotency record"))
		return
	}
	switch {
	case rec.Fingerprint != fingerprint:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, IdempotencyHeader+" reused with a different request"))
	case rec.State == recordInFlight:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this "+IdempotencyHeader+" is still in progress"))
	default:
		if rec.ContentType != "" {
			w.Header().Set("Content-Type", rec.ContentType)
		}
		w.Header().Set(replayedHeader, "true")
		w.WriteHeader(rec.Status)
		_, _ = w.Write(rec.Body)
	}
}

func replayable(status int, body []byte) bool {
	if status >= http.StatusInternalServerError {
		return false
	}
	if status < http.StatusBadRequest {
		return true
	}
	var env types.ErrorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return true
	}
	return !env.Error.Retryable
}

// recordOwner keeps shoppers from replaying each other's responses.
func recordOwner(r *http.Request) string {
	if id := UserIDFromContext(r.Context()); id != "" {
		return "user:" + id
	}
	if id := SessionIDFromContext(r.Context()); id != "" {
		return "session:" + id
	}
	return "anonymous"
}

func fingerprintRequest(r *http.Request, body []byte) string {
	h := sha256.New()
	_, _ = io.WriteString(h, r.Method+" "+r.URL.Path+"\n")
	_, _ = h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type responseCapture struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *responseCapture) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}
