package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
)

const (
	paymentExpiryJobName     = "pending-payment-expiry"
	defaultPendingPaymentTTL = 24 * time.Hour
	defaultExpiryBatch       = 200
)

type pendingExpirer interface {
	ExpirePending(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

type PaymentExpiryJobParams struct {
	Logger    *logger.Logger
	Checkout  pendingExpirer
	Metrics   *metrics.CronJobMetrics
	TTL       time.Duration
	BatchSize int
}

// NewPaymentExpiryJob builds the job that cancels orders left unpaid past the
// payment window. Cancellation goes through checkout so held stock returns to
// the ledger.
func NewPaymentExpiryJob(params PaymentExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Checkout == nil {
		return nil, fmt.Errorf("checkout service required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultPendingPaymentTTL
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultExpiryBatch
	}
	return &paymentExpiryJob{
		logg:     params.Logger,
		checkout: params.Checkout,
		metrics:  params.Metrics,
		ttl:      ttl,
		batch:    batch,
		now:      time.Now,
	}, nil
}

type paymentExpiryJob struct {
	logg     *logger.Logger
	checkout pendingExpirer
	metrics  *metrics.CronJobMetrics
	ttl      time.Duration
	batch    int
	now      func() time.Time
}

func (j *paymentExpiryJob) Name() string { return paymentExpiryJobName }

func (j *paymentExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.ttl)
	cancelled, err := j.checkout.ExpirePending(ctx, cutoff, j.batch)
	j.metrics.AddAffected(paymentExpiryJobName, cancelled)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":          cutoff,
		"orders_canceled": cancelled,
	})
	if err != nil {
		return fmt.Errorf("expire pending orders: %w", err)
	}
	j.logg.Info(logCtx, "pending payment expiry complete")
	return nil
}
