package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const defaultLockTTL = 14 * time.Minute

// Lock coordinates exclusive cron runs across worker replicas.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
	TTL() time.Duration
}

type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, token string) (bool, error)
}

// RedisLock is a single-key lease. Each Acquire writes a fresh token so a
// replica can only release a lease it still holds.
type RedisLock struct {
	store lockStore
	key   string
	ttl   time.Duration
	token string
}

func NewRedisLock(store lockStore, key string, ttl time.Duration) (*RedisLock, error) {
	if store == nil {
		return nil, errors.New("redis client required for lock")
	}
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{store: store, key: key, ttl: ttl}, nil
}

func (l *RedisLock) TTL() time.Duration { return l.ttl }

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	ok, err := l.store.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if ok {
		l.token = token
	}
	return ok, nil
}

// Release drops the lease if this instance still owns it. A lease that
// already expired, or was taken over, is left alone.
func (l *RedisLock) Release(ctx context.Context) error {
	if l.token == "" {
		return nil
	}
	token := l.token
	l.token = ""
	if _, err := l.store.CompareAndDelete(ctx, l.key, token); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}
