package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DeliveryState is what the ledger knows about an event id.
type DeliveryState int

const (
	// DeliveryNew means this caller now owns processing of the event.
	DeliveryNew DeliveryState = iota
	// DeliveryInFlight means another worker is processing the same event.
	DeliveryInFlight
	// DeliveryDone means the event was already applied or deliberately skipped.
	DeliveryDone
)

const (
	markProcessing = "processing"
	markDone       = "done"

	defaultClaimTTL = 5 * time.Minute
)

// DeliveryStore is the redis surface the ledger needs.
type DeliveryStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// DeliveryLedger tracks gateway event ids across redeliveries. An event is
// claimed while it is processed and only marked done once it was applied, so
// a crash mid-apply lets the claim expire and the gateway's retry go through.
// Payment status checks in the service stay the source of truth; this only
// saves the database from repeated work.
type DeliveryLedger struct {
	store    DeliveryStore
	scope    string
	claimTTL time.Duration
	doneTTL  time.Duration
}

func NewDeliveryLedger(store DeliveryStore, doneTTL time.Duration, scope string) (*DeliveryLedger, error) {
	switch {
	case store == nil:
		return nil, errors.New("delivery store is required")
	case doneTTL <= 0:
		return nil, errors.New("done ttl must be positive")
	case scope == "":
		return nil, errors.New("scope is required")
	}
	return &DeliveryLedger{store: store, scope: scope, claimTTL: defaultClaimTTL, doneTTL: doneTTL}, nil
}

// Claim tries to take ownership of eventID.
func (l *DeliveryLedger) Claim(ctx context.Context, eventID string) (DeliveryState, error) {
	key, err := l.key(eventID)
	if err != nil {
		return DeliveryNew, err
	}
	claimed, err := l.store.SetNX(ctx, key, markProcessing, l.claimTTL)
	if err != nil {
		return DeliveryNew, fmt.Errorf("claim event %s: %w", eventID, err)
	}
	if claimed {
		return DeliveryNew, nil
	}

	mark, err := l.store.Get(ctx, key)
	switch {
	case errors.Is(err, goredis.Nil):
		// The holder released between our SETNX and GET.
		return DeliveryInFlight, nil
	case err != nil:
		return DeliveryNew, fmt.Errorf("read event %s: %w", eventID, err)
	case mark == markDone:
		return DeliveryDone, nil
	default:
		return DeliveryInFlight, nil
	}
}

// Complete records that eventID needs no further processing.
func (l *DeliveryLedger) Complete(ctx context.Context, eventID string) error {
	key, err := l.key(eventID)
	if err != nil {
		return err
	}
	return l.store.Set(ctx, key, markDone, l.doneTTL)
}

// Release drops the claim so the next delivery of eventID is processed.
func (l *DeliveryLedger) Release(ctx context.Context, eventID string) error {
	key, err := l.key(eventID)
	if err != nil {
		return err
	}
	return l.store.Del(ctx, key)
}

func (l *DeliveryLedger) key(eventID string) (string, error) {
	if eventID == "" {
		return "", errors.New("event id is required")
	}
	return l.store.IdempotencyKey(l.scope, eventID), nil
}
