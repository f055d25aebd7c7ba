package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
)

const (
	cartExpiryJobName   = "anonymous-cart-expiry"
	defaultCartBatch    = 500
	maxCartBatchesByRun = 20
)

type expiredCartPurger interface {
	DeleteExpired(ctx context.Context, now time.Time, limit int) (int64, error)
}

type CartExpiryJobParams struct {
	Logger    *logger.Logger
	Carts     expiredCartPurger
	Metrics   *metrics.CronJobMetrics
	BatchSize int
}

// NewCartExpiryJob builds the job that purges anonymous carts past their TTL.
// User carts never expire and are never touched.
func NewCartExpiryJob(params CartExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Carts == nil {
		return nil, fmt.Errorf("cart service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultCartBatch
	}
	return &cartExpiryJob{
		logg:    params.Logger,
		carts:   params.Carts,
		metrics: params.Metrics,
		batch:   batch,
		now:     time.Now,
	}, nil
}

type cartExpiryJob struct {
	logg    *logger.Logger
	carts   expiredCartPurger
	metrics *metrics.CronJobMetrics
	batch   int
	now     func() time.Time
}

func (j *cartExpiryJob) Name() string { return cartExpiryJobName }

func (j *cartExpiryJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	var total int64
	for i := 0; i < maxCartBatchesByRun; i++ {
		deleted, err := j.carts.DeleteExpired(ctx, now, j.batch)
		if err != nil {
			return fmt.Errorf("purge expired carts: %w", err)
		}
		total += deleted
		if deleted < int64(j.batch) {
			break
		}
	}
	j.metrics.AddAffected(cartExpiryJobName, int(total))
	j.logg.Info(j.logg.WithField(ctx, "carts_deleted", total), "anonymous cart purge complete")
	return nil
}
