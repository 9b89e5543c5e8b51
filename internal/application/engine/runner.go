package engine

import (
	"context"
	"fmt"

	"github.com/aescanero/flowfarm/internal/domain"
	"go.uber.org/zap"
)

// DefaultMaxSteps bounds the number of dispatches in one entity run
const DefaultMaxSteps = 10000

// Runner walks a graph for one entity
type Runner struct {
	dispatcher *Dispatcher
	logger     *zap.Logger
	maxSteps   int
}

// NewRunner creates a runner; maxSteps <= 0 selects DefaultMaxSteps
func NewRunner(dispatcher *Dispatcher, logger *zap.Logger, maxSteps int) *Runner {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	return &Runner{
		dispatcher: dispatcher,
		logger:     logger,
		maxSteps:   maxSteps,
	}
}

// Run walks g from its start node until a node has no outgoing edge. The
// start node itself is not dispatched; the walk begins on the "true" branch.
func (r *Runner) Run(ctx context.Context, g *Graph, ec *Context) error {
	current := g.Start()
	branch := domain.BranchTrue

	for steps := 0; ; steps++ {
		next, ok := g.Next(current, branch)
		if !ok {
			return nil
		}
		if steps >= r.maxSteps {
			return &domain.StepExecutionError{
				NodeID: next.ID,
				Kind:   next.Kind,
				Err:    fmt.Errorf("walk exceeded %d steps", r.maxSteps),
			}
		}

		r.logger.Debug("dispatching step",
			zap.String("account", ec.Account.Key()),
			zap.String("node_id", next.ID),
			zap.String("kind", string(next.Kind)))

		out, err := r.dispatcher.Dispatch(ctx, ec, next)
		if err != nil {
			return err
		}
		current = next.ID
		branch = out.Branch()
	}
}
