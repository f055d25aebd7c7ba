package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
)

const (
	defaultInterval = 15 * time.Minute
	releaseTimeout  = 5 * time.Second
)

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
}

// Service sweeps the registered jobs once per interval while holding the
// shared lock. A cycle stops starting jobs once nine tenths of the lock TTL
// has elapsed, so the sweep never runs past its lease.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration
	budget   time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	if params.Registry == nil {
		return nil, fmt.Errorf("registry required")
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	ttl := params.Lock.TTL()
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &Service{
		logg:     params.Logger,
		registry: params.Registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: interval,
		budget:   ttl - ttl/10,
	}, nil
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.RunOnce(ctx); err != nil {
			s.logg.Error(ctx, "cron cycle failed", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single locked sweep. Job failures are logged and
// counted; only a lock error is returned.
func (s *Service) RunOnce(ctx context.Context) error {
	ok, err := s.lock.Acquire(ctx)
	if err != nil {
		s.metrics.IncCycle(metrics.CronCycleLockError)
		return err
	}
	if !ok {
		s.metrics.IncCycle(metrics.CronCycleSkipped)
		s.logg.Info(ctx, "cron lock held elsewhere; skipping cycle")
		return nil
	}
	s.metrics.IncCycle(metrics.CronCycleRan)
	defer s.release(ctx)

	cycleCtx, cancel := context.WithTimeout(ctx, s.budget)
	defer cancel()

	jobs := s.registry.Jobs()
	for i, job := range jobs {
		if cycleCtx.Err() != nil {
			skipped := make([]string, 0, len(jobs)-i)
			for _, rest := range jobs[i:] {
				skipped = append(skipped, rest.Name())
			}
			s.logg.Warn(s.logg.WithField(ctx, "skipped_jobs", skipped), "cron cycle out of time")
			break
		}
		s.runJob(cycleCtx, job)
	}
	return nil
}

func (s *Service) release(ctx context.Context) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := s.lock.Release(releaseCtx); err != nil {
		s.logg.Error(ctx, "cron lock release failed", err)
	}
}

func (s *Service) runJob(ctx context.Context, job Job) {
	name := job.Name()
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": name, "event": "cron.job"})

	start := time.Now()
	err := runGuarded(jobCtx, job)
	took := time.Since(start)

	outcome := metrics.CronJobSucceeded
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil:
		outcome = metrics.CronJobTimedOut
	default:
		outcome = metrics.CronJobFailed
	}
	s.metrics.ObserveRun(name, outcome, took)

	jobCtx = s.logg.WithFields(jobCtx, map[string]any{"duration_ms": took.Milliseconds(), "outcome": outcome})
	if err != nil {
		s.logg.Error(jobCtx, "cron job did not complete", err)
		return
	}
	s.logg.Info(jobCtx, "cron job complete")
}

// runGuarded reports a panic inside job as an error.
func runGuarded(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cron job %s panicked: %v", job.Name(), r)
		}
	}()
	return job.Run(ctx)
}
