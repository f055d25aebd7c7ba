package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const (
	keyNamespace      = "sf"
	idempotencyPrefix = "idempotency"
	rateLimitPrefix   = "rate_limit"
	lockPrefix        = "lock"
)

// incrWithTTLScript bumps a counter and arms its expiry on the first hit in
// one round trip, so a crash cannot leave a counter without a TTL.
const incrWithTTLScript = `
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n`

// compareAndDeleteScript removes a key only while it still holds the caller's
// token.
const compareAndDeleteScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0`

var errNotInitialized = errors.New("redis client not initialized")

type cmdable interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// Client wraps the redis operations the storefront relies on: replayable
// request results, webhook de-duplication, fixed-window throttles and the
// cron lock.
type Client struct {
	store cmdable
	raw   *redis.Client
}

// IdempotencyStore exposes minimal operations used by idempotency helpers.
type IdempotencyStore interface {
	Get(context.Context, string) (string, error)
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	IdempotencyKey(scope, id string) string
	Del(context.Context, ...string) error
}

// New dials redis with the configured pool and timeouts and pings once.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := optionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	raw := redis.NewClient(opts)
	if err := raw.Ping(ctx).Err(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"redis_addr": opts.Addr, "redis_db": opts.DB}), "redis connection established")
	}
	return &Client{store: raw, raw: raw}, nil
}

func optionsFromConfig(cfg config.RedisConfig) (*redis.Options, error) {
	var opts *redis.Options
	switch {
	case cfg.URL != "":
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
	case cfg.Address != "":
		opts = &redis.Options{Addr: cfg.Address, Password: cfg.Password}
	default:
		return nil, errors.New("redis url or address is required")
	}

	// Values in the URL win; the discrete settings fill the gaps.
	if opts.DB == 0 {
		opts.DB = cfg.DB
	}
	if opts.PoolSize == 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if opts.MinIdleConns == 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	return opts, nil
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if c.store == nil {
		return "", errNotInitialized
	}
	return c.store.Get(ctx, key).Result()
}

func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c.store == nil {
		return errNotInitialized
	}
	return c.store.Set(ctx, key, value, ttl).Err()
}

// SetNX stores value only if key is absent and reports whether it did.
func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if c.store == nil {
		return false, errNotInitialized
	}
	return c.store.SetNX(ctx, key, value, ttl).Result()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if c.store == nil {
		return errNotInitialized
	}
	return c.store.Del(ctx, keys...).Err()
}

// IncrWithTTL increments key and starts its ttl on the first increment.
func (c *Client) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if c.store == nil {
		return 0, errNotInitialized
	}
	if ttl <= 0 {
		return 0, fmt.Errorf("ttl must be positive for %s", key)
	}
	return c.store.Eval(ctx, incrWithTTLScript, []string{key}, ttl.Milliseconds()).Int64()
}

// CompareAndDelete deletes key only if it still holds token.
func (c *Client) CompareAndDelete(ctx context.Context, key, token string) (bool, error) {
	if c.store == nil {
		return false, errNotInitialized
	}
	n, err := c.store.Eval(ctx, compareAndDeleteScript, []string{key}, token).Int64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *Client) IdempotencyKey(scope, id string) string {
	return buildKey(idempotencyPrefix, scope, id)
}

func (c *Client) RateLimitKey(scope string) string {
	return buildKey(rateLimitPrefix, scope)
}

func (c *Client) LockKey(name string) string {
	return buildKey(lockPrefix, name)
}

func (c *Client) Ping(ctx context.Context) error {
	if c.store == nil {
		return errNotInitialized
	}
	return c.store.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c.raw == nil {
		return nil
	}
	return c.raw.Close()
}

// buildKey joins the namespace and the non-empty parts with colons.
func buildKey(parts ...string) string {
	clean := []string{keyNamespace}
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			clean = append(clean, part)
		}
	}
	return strings.Join(clean, ":")
}
