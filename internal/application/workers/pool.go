package workers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aescanero/flowfarm/internal/application/engine"
	"github.com/aescanero/flowfarm/internal/ports"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Task runs one entity of a cohort. waitErr is non-nil when the stagger
// wait before the task was interrupted; the task still runs so it can
// record the outcome.
type Task func(ctx context.Context, index int, waitErr error)

// Config configures a chunked pool
type Config struct {
	Size    int
	Stagger time.Duration
	Signal  *engine.Signal
	Metrics ports.MetricsCollector
	Logger  *zap.Logger
}

// Pool runs a cohort in chunks of Size. All tasks of a chunk start
// together, each delayed by its cohort index times Stagger, and the next
// chunk starts only after every task of the current one has returned.
type Pool struct {
	size    int
	stagger time.Duration
	signal  *engine.Signal
	metrics ports.MetricsCollector
	logger  *zap.Logger

	busy   atomic.Int32
	mu     sync.RWMutex
	chunks int
}

// NewPool creates a new chunked pool
func NewPool(cfg Config) *Pool {
	if cfg.Size <= 0 {
		cfg.Size = 1
	}
	if cfg.Signal == nil {
		cfg.Signal = engine.NewSignal()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = ports.NopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Pool{
		size:    cfg.Size,
		stagger: cfg.Stagger,
		signal:  cfg.Signal,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
}

// Size returns the chunk size
func (p *Pool) Size() int {
	return p.size
}

// Busy returns the number of tasks currently executing
func (p *Pool) Busy() int {
	return int(p.busy.Load())
}

// Chunks returns the number of chunks started so far
func (p *Pool) Chunks() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.chunks
}

// Run schedules n tasks. Once the signal is stopped no further chunk is
// started; the chunk in flight is always awaited. Tasks contain their own
// failures; a task that panics anyway ends the cohort after its chunk and
// Run returns the panic as an error.
func (p *Pool) Run(ctx context.Context, n int, task Task) error {
	for start := 0; start < n; start += p.size {
		if p.signal.Stopped() {
			p.logger.Info("stop requested, skipping remaining chunks",
				zap.Int("remaining", n-start))
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		end := min(start+p.size, n)
		p.mu.Lock()
		p.chunks++
		chunk := p.chunks
		p.mu.Unlock()

		p.logger.Debug("starting chunk",
			zap.Int("chunk", chunk),
			zap.Int("from", start),
			zap.Int("to", end-1))

		chunkStart := time.Now()
		var g errgroup.Group
		for i := start; i < end; i++ {
			index := i
			g.Go(func() (err error) {
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("task %d panicked: %v", index, r)
					}
				}()
				waitErr := engine.Sleep(ctx, p.signal, time.Duration(index)*p.stagger, "stagger")
				p.metrics.ObserveStaggerWait(time.Since(chunkStart))

				p.busy.Add(1)
				defer p.busy.Add(-1)
				task(ctx, index, waitErr)
				return nil
			})
		}
		err := g.Wait()

		p.logger.Debug("chunk finished",
			zap.Int("chunk", chunk),
			zap.Duration("duration", time.Since(chunkStart)))
		if err != nil {
			p.logger.Error("task panicked, skipping remaining chunks",
				zap.Int("remaining", n-end),
				zap.Error(err))
			return err
		}
	}
	return nil
}
