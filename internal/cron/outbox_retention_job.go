package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
)

const (
	outboxRetentionJobName   = "outbox-retention"
	defaultOutboxRetention   = 30 * 24 * time.Hour
	defaultOutboxMinAttempts = 10
	defaultOutboxPurgeBatch  = 1000
	maxOutboxBatchesByRun    = 50
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPurger interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount, limit int) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository outboxPurger
	Metrics    *metrics.CronJobMetrics
	// Retention is the age past which delivered or parked rows are removed.
	Retention time.Duration
	// MinAttempts must equal the publisher's attempt ceiling.
	MinAttempts int
	BatchSize   int
}

// NewOutboxRetentionJob builds the sweep that trims the outbox table.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.DB == nil:
		return nil, fmt.Errorf("db runner required")
	case params.Repository == nil:
		return nil, fmt.Errorf("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:        params.Logger,
		db:          params.DB,
		repo:        params.Repository,
		metrics:     params.Metrics,
		retention:   params.Retention,
		minAttempts: params.MinAttempts,
		batch:       params.BatchSize,
		now:         time.Now,
	}
	if job.retention <= 0 {
		job.retention = defaultOutboxRetention
	}
	if job.minAttempts <= 0 {
		job.minAttempts = defaultOutboxMinAttempts
	}
	if job.batch <= 0 {
		job.batch = defaultOutboxPurgeBatch
	}
	return job, nil
}

type outboxRetentionJob struct {
	logg        *logger.Logger
	db          txRunner
	repo        outboxPurger
	metrics     *metrics.CronJobMetrics
	retention   time.Duration
	minAttempts int
	batch       int
	now         func() time.Time
}

func (j *outboxRetentionJob) Name() string { return outboxRetentionJobName }

// Run deletes up to maxOutboxBatchesByRun batches, one transaction each.
func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var total int64
	for i := 0; i < maxOutboxBatchesByRun; i++ {
		if err := ctx.Err(); err != nil {
			j.metrics.AddAffected(outboxRetentionJobName, int(total))
			return fmt.Errorf("outbox retention stopped after %d rows: %w", total, err)
		}
		var deleted int64
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			n, err := j.repo.DeletePublishedBefore(ctx, tx, cutoff, j.minAttempts, j.batch)
			deleted = n
			return err
		})
		if err != nil {
			j.metrics.AddAffected(outboxRetentionJobName, int(total))
			return fmt.Errorf("outbox retention: %w", err)
		}
		total += deleted
		if deleted < int64(j.batch) {
			break
		}
	}
	j.metrics.AddAffected(outboxRetentionJobName, int(total))
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"min_attempts": j.minAttempts,
		"rows_deleted": total,
	}), "outbox retention sweep complete")
	return nil
}
