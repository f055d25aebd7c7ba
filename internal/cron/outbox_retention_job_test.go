package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type recordingPurger struct {
	batches []int64
	cutoffs []time.Time
	limits  []int
	attempt int
	err     error
}

func (p *recordingPurger) DeletePublishedBefore(_ context.Context, _ *gorm.DB, cutoff time.Time, minAttempts, limit int) (int64, error) {
	p.cutoffs = append(p.cutoffs, cutoff)
	p.limits = append(p.limits, limit)
	p.attempt = minAttempts
	if p.err != nil {
		return 0, p.err
	}
	i := len(p.cutoffs) - 1
	if i >= len(p.batches) {
		return 0, nil
	}
	return p.batches[i], nil
}

type passthroughTx struct{ calls int }

func (p *passthroughTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	p.calls++
	return fn(nil)
}

func newRetentionJob(t *testing.T, purger *recordingPurger, tx *passthroughTx, params OutboxRetentionJobParams) *outboxRetentionJob {
	t.Helper()
	params.Logger = logger.Nop()
	params.DB = tx
	params.Repository = purger
	job, err := NewOutboxRetentionJob(params)
	require.NoError(t, err)
	return job.(*outboxRetentionJob)
}

func TestOutboxRetentionJobUsesDefaults(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	purger := &recordingPurger{batches: []int64{7}}
	job := newRetentionJob(t, purger, &passthroughTx{}, OutboxRetentionJobParams{})
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	require.Len(t, purger.cutoffs, 1)
	assert.True(t, purger.cutoffs[0].Equal(now.Add(-defaultOutboxRetention)))
	assert.Equal(t, defaultOutboxMinAttempts, purger.attempt)
	assert.Equal(t, []int{defaultOutboxPurgeBatch}, purger.limits)
}

func TestOutboxRetentionJobBatchesInSeparateTransactions(t *testing.T) {
	purger := &recordingPurger{batches: []int64{3, 3, 1}}
	tx := &passthroughTx{}
	job := newRetentionJob(t, purger, tx, OutboxRetentionJobParams{
		Retention:   48 * time.Hour,
		MinAttempts: 4,
		BatchSize:   3,
	})

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 3, tx.calls)
	assert.Equal(t, 4, purger.attempt)
	assert.Equal(t, purger.cutoffs[0], purger.cutoffs[2], "one cutoff per run")
}

func TestOutboxRetentionJobStopsOnError(t *testing.T) {
	purger := &recordingPurger{err: errors.New("boom")}
	job := newRetentionJob(t, purger, &passthroughTx{}, OutboxRetentionJobParams{})
	require.Error(t, job.Run(context.Background()))
	assert.Len(t, purger.cutoffs, 1)
}

func TestOutboxRetentionJobHonoursCancellation(t *testing.T) {
	purger := &recordingPurger{}
	job := newRetentionJob(t, purger, &passthroughTx{}, OutboxRetentionJobParams{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := job.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, purger.cutoffs)
}
