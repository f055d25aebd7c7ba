package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
)

type fakeLock struct {
	ttl        time.Duration
	held       bool
	acquireErr error
	releases   int
	releaseErr error // context error seen by the last Release
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.acquireErr != nil {
		return false, f.acquireErr
	}
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(ctx context.Context) error {
	f.releases++
	f.releaseErr = ctx.Err()
	f.held = false
	return nil
}

func (f *fakeLock) TTL() time.Duration { return f.ttl }

type scriptedJob struct {
	name string
	run  func(ctx context.Context) error
	runs int
}

func (j *scriptedJob) Name() string { return j.name }

func (j *scriptedJob) Run(ctx context.Context) error {
	j.runs++
	if j.run == nil {
		return nil
	}
	return j.run(ctx)
}

func newTestService(t *testing.T, lock Lock, jobs ...Job) (*Service, *prometheus.Registry) {
	t.Helper()
	registry, err := NewRegistry(jobs...)
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	svc, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(reg),
	})
	require.NoError(t, err)
	return svc, reg
}

func runsWithOutcome(t *testing.T, reg *prometheus.Registry, job, outcome string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != "storefront_cron_job_runs_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, p := range m.GetLabel() {
				labels[p.GetName()] = p.GetValue()
			}
			if labels["job"] == job && labels["outcome"] == outcome {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestRunOnceRunsEveryJobDespiteFailures(t *testing.T) {
	ok := &scriptedJob{name: "ok"}
	failing := &scriptedJob{name: "failing", run: func(context.Context) error { return errors.New("boom") }}
	panicking := &scriptedJob{name: "panicking", run: func(context.Context) error { panic("nil map") }}
	last := &scriptedJob{name: "last"}
	lock := &fakeLock{ttl: time.Minute}
	svc, reg := newTestService(t, lock, ok, failing, panicking, last)

	require.NoError(t, svc.RunOnce(context.Background()))

	for _, job := range []*scriptedJob{ok, failing, panicking, last} {
		assert.Equal(t, 1, job.runs, job.name)
	}
	assert.Equal(t, 1.0, runsWithOutcome(t, reg, "ok", metrics.CronJobSucceeded))
	assert.Equal(t, 1.0, runsWithOutcome(t, reg, "failing", metrics.CronJobFailed))
	assert.Equal(t, 1.0, runsWithOutcome(t, reg, "panicking", metrics.CronJobFailed))
	assert.Equal(t, 1, lock.releases)
	assert.False(t, lock.held)
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	job := &scriptedJob{name: "sweep"}
	lock := &fakeLock{ttl: time.Minute, held: true}
	svc, _ := newTestService(t, lock, job)

	require.NoError(t, svc.RunOnce(context.Background()))
	assert.Zero(t, job.runs)
	assert.Zero(t, lock.releases)
}

func TestRunOnceReturnsLockErrors(t *testing.T) {
	job := &scriptedJob{name: "sweep"}
	svc, _ := newTestService(t, &fakeLock{ttl: time.Minute, acquireErr: errors.New("redis down")}, job)

	require.Error(t, svc.RunOnce(context.Background()))
	assert.Zero(t, job.runs)
}

func TestRunOnceStopsAtLeaseBudget(t *testing.T) {
	slow := &scriptedJob{name: "slow", run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	next := &scriptedJob{name: "next"}
	lock := &fakeLock{ttl: 50 * time.Millisecond}
	svc, reg := newTestService(t, lock, slow, next)

	require.NoError(t, svc.RunOnce(context.Background()))
	assert.Equal(t, 1, slow.runs)
	assert.Zero(t, next.runs, "no job starts after the budget is spent")
	assert.Equal(t, 1.0, runsWithOutcome(t, reg, "slow", metrics.CronJobTimedOut))
	assert.NoError(t, lock.releaseErr, "release gets a live context")
}

func TestRunReturnsWhenCancelled(t *testing.T) {
	job := &scriptedJob{name: "sweep"}
	lock := &fakeLock{ttl: time.Minute}
	svc, _ := newTestService(t, lock, job)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := svc.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, job.runs, "a cancelled cycle starts no jobs")
	assert.Equal(t, 1, lock.releases)
}

func TestNewServiceValidates(t *testing.T) {
	registry, err := NewRegistry()
	require.NoError(t, err)
	_, err = NewService(ServiceParams{Registry: registry, Lock: &fakeLock{}})
	assert.Error(t, err)
	_, err = NewService(ServiceParams{Logger: logger.Nop(), Registry: registry})
	assert.Error(t, err)
	_, err = NewService(ServiceParams{Logger: logger.Nop(), Lock: &fakeLock{}})
	assert.Error(t, err)
}
