package redis

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/pkg/config"
)

func TestIncrWithTTLArmsExpiryOnFirstHit(t *testing.T) {
	ctx := context.Background()
	mock := newFakeStore()
	client := &Client{store: mock}
	key := client.RateLimitKey("checkout:ip:1.2.3.4")

	for want := int64(1); want <= 3; want++ {
		n, err := client.IncrWithTTL(ctx, key, 90*time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	assert.Equal(t, map[string]int64{key: 90000}, mock.ttlMillis)

	_, err := client.IncrWithTTL(ctx, key, 0)
	assert.Error(t, err)
}

func TestCompareAndDeleteRespectsOwner(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newFakeStore()}
	key := client.LockKey("cron-worker")

	ok, err := client.SetNX(ctx, key, "owner-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	deleted, err := client.CompareAndDelete(ctx, key, "owner-b")
	require.NoError(t, err)
	assert.False(t, deleted)
	value, err := client.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "owner-a", value)

	deleted, err = client.CompareAndDelete(ctx, key, "owner-a")
	require.NoError(t, err)
	assert.True(t, deleted)
	_, err = client.Get(ctx, key)
	assert.ErrorIs(t, err, redis.Nil)
}

func TestSetNXKeepsFirstValue(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newFakeStore()}
	key := client.IdempotencyKey("stripe-webhook", "evt_1")

	ok, err := client.SetNX(ctx, key, "1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = client.SetNX(ctx, key, "2", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	value, err := client.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "1", value)

	require.NoError(t, client.Set(ctx, key, "3", time.Hour))
	value, err = client.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "3", value)

	require.NoError(t, client.Del(ctx, key))
	_, err = client.Get(ctx, key)
	assert.ErrorIs(t, err, redis.Nil)
}

func TestZeroClientReportsNotInitialized(t *testing.T) {
	ctx := context.Background()
	client := &Client{}

	assert.ErrorIs(t, client.Ping(ctx), errNotInitialized)
	_, err := client.IncrWithTTL(ctx, "k", time.Second)
	assert.ErrorIs(t, err, errNotInitialized)
	_, err = client.CompareAndDelete(ctx, "k", "v")
	assert.ErrorIs(t, err, errNotInitialized)
	assert.NoError(t, client.Close())
}

func TestKeysAreNamespaced(t *testing.T) {
	client := &Client{}
	assert.Equal(t, "sf:idempotency:checkout:key-1", client.IdempotencyKey("checkout", "key-1"))
	assert.Equal(t, "sf:rate_limit:checkout:1.2.3.4", client.RateLimitKey("checkout:1.2.3.4"))
	assert.Equal(t, "sf:lock:cron", client.LockKey("cron"))
	assert.Equal(t, "sf:idempotency:checkout", client.IdempotencyKey("checkout", " "))
}

func TestOptionsFromConfig(t *testing.T) {
	_, err := optionsFromConfig(configFor("", ""))
	assert.Error(t, err)

	opts, err := optionsFromConfig(configFor("redis://:pw@cache:6380/3", ""))
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, 3, opts.DB)
	assert.Equal(t, 7, opts.PoolSize)

	opts, err = optionsFromConfig(configFor("", "localhost:6379"))
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 5, opts.DB)
}

func configFor(url, addr string) config.RedisConfig {
	return config.RedisConfig{URL: url, Address: addr, DB: 5, PoolSize: 7}
}

// fakeStore evaluates the two scripts the client sends by recognising their
// source.
type fakeStore struct {
	data      map[string]string
	counters  map[string]int64
	ttlMillis map[string]int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		data:      map[string]string{},
		counters:  map[string]int64{},
		ttlMillis: map[string]int64{},
	}
}

func (f *fakeStore) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (f *fakeStore) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeStore) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	f.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	if _, ok := f.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeStore) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, key := range keys {
		if _, ok := f.data[key]; ok {
			n++
		}
		delete(f.data, key)
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeStore) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	key := keys[0]
	switch {
	case strings.Contains(script, "'INCR'"):
		f.counters[key]++
		if f.counters[key] == 1 {
			f.ttlMillis[key] = args[0].(int64)
		}
		return redis.NewCmdResult(f.counters[key], nil)
	case strings.Contains(script, "'DEL'"):
		if f.data[key] != args[0] {
			return redis.NewCmdResult(int64(0), nil)
		}
		return redis.NewCmdResult(f.Del(ctx, key).Val(), nil)
	default:
		return redis.NewCmdResult(nil, fmt.Errorf("unexpected script %q", script))
	}
}
