package provision

import (
	"context"

	"go.uber.org/zap"
)

// compensation accumulates undo actions as a multi-step provision
// progresses and runs them in reverse on failure. It generalizes the
// database BEGIN/ROLLBACK pattern to backing systems without
// transactions, like the admin cluster connection or the hypervisor.
type compensation struct {
	logger *zap.Logger
	steps  []compensationStep
}

type compensationStep struct {
	name string
	undo func(context.Context) error
}

func newCompensation(logger *zap.Logger) *compensation {
	return &compensation{logger: logger}
}

func (c *compensation) add(name string, undo func(context.Context) error) {
	c.steps = append(c.steps, compensationStep{name: name, undo: undo})
}

// run executes the undo stack in reverse order. A failing undo is
// logged and the rest of the stack still runs; there is nothing better
// to do once the forward path has already failed.
func (c *compensation) run(ctx context.Context) {
	for i := len(c.steps) - 1; i >= 0; i-- {
		step := c.steps[i]
		if err := step.undo(ctx); err != nil {
			c.logger.Error("provision_rollback_step_failed",
				zap.String("step", step.name),
				zap.Error(err),
			)
		}
	}
	c.steps = nil
}
