// Package saga keeps a stack of undo steps for multi-step operations that
// cannot share a single transaction.
package saga

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
)

// UndoFunc reverses one completed step.
type UndoFunc func(ctx context.Context) error

type step struct {
	name string
	undo UndoFunc
}

// Compensations is a LIFO stack of undo steps. It is not safe for concurrent use.
type Compensations struct {
	steps []step
}

// Push records the undo for a step that just succeeded.
func (c *Compensations) Push(name string, undo UndoFunc) {
	if undo == nil {
		return
	}
	c.steps = append(c.steps, step{name: name, undo: undo})
}

// Len reports how many steps are pending compensation.
func (c *Compensations) Len() int {
	return len(c.steps)
}

// Unwind runs every undo in reverse push order. A failing undo does not stop
// the remaining ones; all failures are returned together. The stack is empty
// afterwards.
func (c *Compensations) Unwind(ctx context.Context) error {
	var errs error
	for i := len(c.steps) - 1; i >= 0; i-- {
		s := c.steps[i]
		if err := s.undo(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("undo %s: %w", s.name, err))
		}
	}
	c.steps = nil
	return errs
}

// Discard drops all pending undos once the operation is committed.
func (c *Compensations) Discard() {
	c.steps = nil
}
