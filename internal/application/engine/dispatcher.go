package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/aescanero/flowfarm/internal/domain"
	"github.com/aescanero/flowfarm/internal/ports"
	"go.uber.org/zap"
)

// DefaultStepTimeout applies to nodes without a "timeout" option
const DefaultStepTimeout = 60 * time.Second

// DefaultSettleGrace bounds how long a timed-out handler may keep running
// before the dispatcher stops waiting for it
const DefaultSettleGrace = 5 * time.Second

// Node options read by the dispatcher
const (
	OptTimeout         = "timeout"
	OptRetries         = "retries"
	OptRetryDelay      = "retry_delay"
	OptContinueOnError = "continue_on_error"
	OptDelayMin        = "delay_min"
	OptDelayMax        = "delay_max"
)

// Dispatcher looks up a node's handler and wraps the call with timeout,
// retry and post-step jitter
type Dispatcher struct {
	registry       *Registry
	metrics        ports.MetricsCollector
	logger         *zap.Logger
	defaultTimeout time.Duration
	grace          time.Duration
	random         func() float64
}

// NewDispatcher creates a dispatcher over registry
func NewDispatcher(registry *Registry, metrics ports.MetricsCollector, logger *zap.Logger, defaultTimeout time.Duration) *Dispatcher {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultStepTimeout
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &Dispatcher{
		registry:       registry,
		metrics:        metrics,
		logger:         logger,
		defaultTimeout: defaultTimeout,
		grace:          DefaultSettleGrace,
		random:         rand.Float64,
	}
}

// Dispatch executes node for the entity owning ec
func (d *Dispatcher) Dispatch(ctx context.Context, ec *Context, node domain.Node) (Outcome, error) {
	handler, ok := d.registry.Lookup(node.Kind)
	if !ok {
		d.logger.Warn("unknown step kind, skipping",
			zap.String("node_id", node.ID),
			zap.String("kind", string(node.Kind)))
		ec.Logf(domain.LogLevelWarn, "unknown step kind %q at node %s, skipping", node.Kind, node.ID)
		return OutcomeNone, nil
	}

	retries := ec.ResolveInt(node.Config, OptRetries, 0)
	retryDelay := ec.ResolveSeconds(node.Config, OptRetryDelay, time.Second)

	var (
		out     Outcome
		err     error
		settled bool
	)
	for attempt := 0; ; attempt++ {
		out, settled, err = d.invoke(ctx, ec, node, handler)
		if err == nil || domain.IsAbort(err) || attempt >= retries {
			break
		}
		if !settled {
			ec.Logf(domain.LogLevelWarn, "%v, previous attempt still running, not retrying", err)
			break
		}
		ec.Logf(domain.LogLevelWarn, "%v (attempt %d/%d), retrying", err, attempt+1, retries+1)
		if serr := ec.Sleep(ctx, retryDelay, "retry delay"); serr != nil {
			return OutcomeNone, serr
		}
	}

	if err != nil {
		if domain.IsAbort(err) {
			return OutcomeNone, err
		}
		d.metrics.IncStepFailures(string(node.Kind), failureReason(err))
		if ec.ResolveBool(node.Config, OptContinueOnError, false) {
			ec.Logf(domain.LogLevelWarn, "%v, continuing on false branch", err)
			return OutcomeFalse, nil
		}
		return OutcomeNone, err
	}

	if err := d.jitter(ctx, ec, node); err != nil {
		return OutcomeNone, err
	}
	return out, nil
}

type invokeResult struct {
	out Outcome
	err error
}

// invoke races the handler against the node timeout. On timeout it waits up
// to the settle grace for the handler to return; settled is false when the
// handler was still running afterwards.
func (d *Dispatcher) invoke(ctx context.Context, ec *Context, node domain.Node, h Handler) (out Outcome, settled bool, err error) {
	timeout := ec.ResolveSeconds(node.Config, OptTimeout, d.defaultTimeout)
	if timeout <= 0 {
		timeout = d.defaultTimeout
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan invokeResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- invokeResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		o, herr := h.Execute(stepCtx, ec, node)
		done <- invokeResult{out: o, err: herr}
	}()

	var res invokeResult
	settled = true
	select {
	case res = <-done:
	case <-stepCtx.Done():
		res = invokeResult{err: stepCtx.Err()}
		settled = d.settle(ec, node, done)
	}
	d.metrics.ObserveStepDuration(string(node.Kind), time.Since(start))

	if res.err == nil {
		return res.out, settled, nil
	}
	return OutcomeNone, settled, d.classify(ctx, stepCtx, node, timeout, res.err)
}

// settle waits for an interrupted handler so it never overlaps a retry or
// the entity's resource release
func (d *Dispatcher) settle(ec *Context, node domain.Node, done <-chan invokeResult) bool {
	grace := time.NewTimer(d.grace)
	defer grace.Stop()
	select {
	case <-done:
		return true
	case <-grace.C:
		d.logger.Warn("step handler ignored cancellation",
			zap.String("node_id", node.ID),
			zap.String("kind", string(node.Kind)),
			zap.Duration("grace", d.grace))
		ec.Logf(domain.LogLevelWarn, "step %s still running %s after cancellation", node.ID, d.grace)
		return false
	}
}

func (d *Dispatcher) classify(ctx, stepCtx context.Context, node domain.Node, timeout time.Duration, err error) error {
	if domain.IsAbort(err) {
		return err
	}
	var te *domain.StepTimeoutError
	var ee *domain.StepExecutionError
	if errors.As(err, &te) || errors.As(err, &ee) {
		return err
	}
	if ctx.Err() == nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
		return &domain.StepTimeoutError{NodeID: node.ID, Kind: node.Kind, Timeout: timeout}
	}
	return &domain.StepExecutionError{NodeID: node.ID, Kind: node.Kind, Err: err}
}

// jitter sleeps a uniform random duration in [delay_min, delay_max]
func (d *Dispatcher) jitter(ctx context.Context, ec *Context, node domain.Node) error {
	minDelay := ec.ResolveSeconds(node.Config, OptDelayMin, 0)
	maxDelay := ec.ResolveSeconds(node.Config, OptDelayMax, minDelay)
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	if maxDelay <= 0 {
		return nil
	}
	delay := minDelay + time.Duration(d.random()*float64(maxDelay-minDelay))
	return ec.Sleep(ctx, delay, "post-step delay")
}

func failureReason(err error) string {
	var te *domain.StepTimeoutError
	if errors.As(err, &te) {
		return "timeout"
	}
	return "error"
}
