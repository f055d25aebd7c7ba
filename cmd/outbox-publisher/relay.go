package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize   = 50
	defaultPoll        = 500 * time.Millisecond
	defaultMaxAttempts = 10
	publishTimeout     = 15 * time.Second
	maxIdleBackoff     = 10 * time.Second
	jitterWindow       = 250 * time.Millisecond
)

type txRunner interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type outboxRows interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type deadLetters interface {
	Park(tx *gorm.DB, row models.OutboxEvent, reason enums.DeadLetterReason, cause error, at time.Time) error
}

type resolver interface {
	Resolve(models.OutboxEvent) (*registry.Resolved, error)
}

type RelayParams struct {
	Config      config.OutboxConfig
	Logger      *logger.Logger
	DB          txRunner
	Rows        outboxRows
	DeadLetters deadLetters
	Registry    resolver
	Topics      topicSink
	Metrics     *metrics.OutboxMetrics
}

// Relay moves committed outbox rows onto Pub/Sub. Rows for the same order are
// published in commit order: once one fails, the rest of that order's rows
// wait for the next pass.
type Relay struct {
	logg        *logger.Logger
	db          txRunner
	rows        outboxRows
	parking     deadLetters
	registry    resolver
	topics      topicSink
	metrics     *metrics.OutboxMetrics
	batchSize   int
	maxAttempts int
	poll        time.Duration
	jitter      func(time.Duration) time.Duration
	now         func() time.Time
}

func NewRelay(params RelayParams) (*Relay, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.Rows == nil:
		return nil, errors.New("outbox repository is required")
	case params.DeadLetters == nil:
		return nil, errors.New("dead letter store is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	case params.Topics == nil:
		return nil, errors.New("topic sink is required")
	}

	r := &Relay{
		logg:        params.Logger,
		db:          params.DB,
		rows:        params.Rows,
		parking:     params.DeadLetters,
		registry:    params.Registry,
		topics:      params.Topics,
		metrics:     params.Metrics,
		batchSize:   params.Config.BatchSize,
		maxAttempts: params.Config.MaxAttempts,
		poll:        time.Duration(params.Config.PollIntervalMS) * time.Millisecond,
		jitter:      withJitter,
		now:         func() time.Time { return time.Now().UTC() },
	}
	if r.batchSize <= 0 {
		r.batchSize = defaultBatchSize
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = defaultMaxAttempts
	}
	if r.poll <= 0 {
		r.poll = defaultPoll
	}
	return r, nil
}

// Run drains the outbox until ctx is cancelled. Full batches are followed
// immediately by another pass; empty ones wait one poll interval and errors
// back off exponentially.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := r.topics.Ping(ctx); err != nil {
		return fmt.Errorf("pubsub ping failed: %w", err)
	}

	wait := r.poll
	for {
		if err := ctx.Err(); err != nil {
			r.logg.Info(ctx, "outbox relay context canceled")
			return err
		}

		handled, err := r.drain(ctx)
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox relay pass failed", err)
			wait = min(wait*2, maxIdleBackoff)
		case handled > 0:
			wait = r.poll
			continue
		default:
			wait = r.poll
		}

		if err := sleep(ctx, r.jitter(wait)); err != nil {
			return err
		}
	}
}

// drain runs one pass over the oldest unpublished rows inside a single
// transaction and reports how many rows it settled.
func (r *Relay) drain(ctx context.Context) (int, error) {
	handled := 0
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := r.rows.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("fetch outbox rows: %w", err)
		}

		held := map[uuid.UUID]struct{}{}
		for _, row := range rows {
			if _, wait := held[row.AggregateID]; wait {
				r.metrics.Inc("", metrics.OutboxDeferred)
				continue
			}
			settled, err := r.relay(ctx, tx, row)
			if err != nil {
				return err
			}
			if !settled {
				held[row.AggregateID] = struct{}{}
			}
			handled++
		}
		return nil
	})
	return handled, err
}

// relay publishes one row and records the result. It returns false when the
// row stays pending for a later pass.
func (r *Relay) relay(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) (bool, error) {
	resolved, err := r.registry.Resolve(row)
	if err != nil {
		return true, r.deadLetter(ctx, tx, row, "", enums.DeadLetterMalformed, err)
	}
	topic := resolved.Route.Topic
	ctx = r.logg.WithFields(ctx, rowFields(row, resolved))

	err = r.topics.Publish(ctx, topic, outboundMessage(row, resolved.Envelope))
	if err == nil {
		if err := r.rows.MarkPublishedTx(tx, row.ID); err != nil {
			return false, fmt.Errorf("mark published %s: %w", row.ID, err)
		}
		r.metrics.Inc(topic, metrics.OutboxPublished)
		r.logg.Info(ctx, "outbox event published")
		return true, nil
	}

	if registry.IsPermanent(err) {
		return true, r.deadLetter(ctx, tx, row, topic, enums.DeadLetterUnroutable, err)
	}
	if row.AttemptCount+1 >= r.maxAttempts {
		return true, r.deadLetter(ctx, tx, row, topic, enums.DeadLetterMaxAttempts, fmt.Errorf("max publish attempts reached: %w", err))
	}

	r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "outbox publish failed, will retry")
	if err := r.rows.MarkFailedTx(tx, row.ID, err); err != nil {
		return false, fmt.Errorf("mark failure %s: %w", row.ID, err)
	}
	r.metrics.Inc(topic, metrics.OutboxRetried)
	return false, nil
}

func (r *Relay) deadLetter(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, topic string, reason enums.DeadLetterReason, cause error) error {
	r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
		"outbox_id":    row.ID.String(),
		"event_type":   row.EventType,
		"error_reason": reason,
		"error":        cause.Error(),
	}), "outbox event dead-lettered")

	if err := r.parking.Park(tx, row, reason, cause, r.now()); err != nil {
		return fmt.Errorf("park %s: %w", row.ID, err)
	}
	if err := r.rows.MarkTerminalTx(tx, row.ID, cause, r.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", row.ID, err)
	}
	r.metrics.Inc(topic, metrics.OutboxDeadLettered)
	return nil
}

func rowFields(row models.OutboxEvent, resolved *registry.Resolved) map[string]any {
	fields := map[string]any{
		"outbox_id":     row.ID.String(),
		"event_type":    row.EventType,
		"order_id":      row.AggregateID.String(),
		"attempt_count": row.AttemptCount,
		"topic":         resolved.Route.Topic,
	}
	if resolved.Envelope.EventID != "" {
		fields["event_id"] = resolved.Envelope.EventID
	}
	return fields
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(rand.Int63n(int64(jitterWindow)))
}
