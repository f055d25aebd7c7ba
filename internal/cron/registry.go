package cron

import (
	"context"
	"fmt"
	"strings"
)

// Job is one unit of scheduled work. Name must be unique within a registry;
// it labels logs and metrics.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry holds jobs in the order they run each cycle.
type Registry struct {
	jobs  []Job
	names map[string]struct{}
}

// NewRegistry registers jobs in order and fails on a nil job, a blank name
// or a repeated name.
func NewRegistry(jobs ...Job) (*Registry, error) {
	r := &Registry{names: map[string]struct{}{}}
	for _, job := range jobs {
		if err := r.Register(job); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(job Job) error {
	if job == nil {
		return fmt.Errorf("cron job is nil")
	}
	name := strings.TrimSpace(job.Name())
	if name == "" {
		return fmt.Errorf("cron job %T has no name", job)
	}
	if _, dup := r.names[name]; dup {
		return fmt.Errorf("cron job %q registered twice", name)
	}
	r.names[name] = struct{}{}
	r.jobs = append(r.jobs, job)
	return nil
}

// Jobs returns a copy of the registered jobs.
func (r *Registry) Jobs() []Job {
	return append([]Job(nil), r.jobs...)
}
