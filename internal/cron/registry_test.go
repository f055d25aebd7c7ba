package cron

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedJob string

func (n namedJob) Name() string              { return string(n) }
func (n namedJob) Run(context.Context) error { return nil }

func TestRegistryKeepsRegistrationOrder(t *testing.T) {
	registry, err := NewRegistry(namedJob("a"), namedJob("b"))
	require.NoError(t, err)
	require.NoError(t, registry.Register(namedJob("c")))

	jobs := registry.Jobs()
	require.Len(t, jobs, 3)
	assert.Equal(t, []Job{namedJob("a"), namedJob("b"), namedJob("c")}, jobs)

	jobs[0] = nil
	assert.NotNil(t, registry.Jobs()[0], "callers get a copy")
}

func TestRegistryRejectsBadJobs(t *testing.T) {
	_, err := NewRegistry(namedJob("a"), namedJob("a"))
	assert.ErrorContains(t, err, "registered twice")

	registry, err := NewRegistry()
	require.NoError(t, err)
	assert.Error(t, registry.Register(nil))
	assert.Error(t, registry.Register(namedJob("  ")))
	assert.Empty(t, registry.Jobs())
}
