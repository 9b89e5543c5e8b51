package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aescanero/flowfarm/internal/application/engine"
	"github.com/aescanero/flowfarm/internal/application/workers"
	"github.com/aescanero/flowfarm/internal/domain"
	"github.com/aescanero/flowfarm/internal/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Options tunes the manager
type Options struct {
	StepTimeout     time.Duration
	MaxSteps        int
	MaxLogEntries   int
	Retention       time.Duration
	JanitorInterval time.Duration
	ReleaseTimeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.StepTimeout <= 0 {
		o.StepTimeout = engine.DefaultStepTimeout
	}
	if o.MaxSteps <= 0 {
		o.MaxSteps = engine.DefaultMaxSteps
	}
	if o.MaxLogEntries <= 0 {
		o.MaxLogEntries = 1000
	}
	if o.Retention <= 0 {
		o.Retention = time.Hour
	}
	if o.JanitorInterval <= 0 {
		o.JanitorInterval = time.Minute
	}
	if o.ReleaseTimeout <= 0 {
		o.ReleaseTimeout = 30 * time.Second
	}
	return o
}

// Manager coordinates workflow runs
type Manager struct {
	workflows ports.WorkflowRepository
	entities  ports.EntityStore
	runStore  ports.RunStore
	sink      ports.EventSink
	metrics   ports.MetricsCollector
	validator *Validator
	runner    *engine.Runner
	logger    *zap.Logger
	opts      Options

	// Track runs, live and retained
	runs sync.Map // map[string]*runState

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once
	janitorCh chan struct{}
}

// NewManager creates a new run manager. runStore and sink may be nil.
func NewManager(
	workflows ports.WorkflowRepository,
	entities ports.EntityStore,
	runStore ports.RunStore,
	sink ports.EventSink,
	metrics ports.MetricsCollector,
	registry *engine.Registry,
	logger *zap.Logger,
	opts Options,
) *Manager {
	if sink == nil {
		sink = ports.NopSink{}
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	opts = opts.withDefaults()

	dispatcher := engine.NewDispatcher(registry, metrics, logger, opts.StepTimeout)
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		workflows: workflows,
		entities:  entities,
		runStore:  runStore,
		sink:      sink,
		metrics:   metrics,
		validator: NewValidator(),
		runner:    engine.NewRunner(dispatcher, logger, opts.MaxSteps),
		logger:    logger,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		janitorCh: make(chan struct{}),
	}
}

// Start validates the options, selects the cohort and launches the run in
// the background. It returns the run id as soon as the run is registered.
func (m *Manager) Start(ctx context.Context, workflowID string, opts domain.RunOptions) (string, error) {
	if err := validateOptions(&opts); err != nil {
		return "", err
	}

	wf, err := m.workflows.GetWorkflow(ctx, workflowID)
	if err != nil {
		return "", fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
	}
	if err := m.validator.Validate(wf); err != nil {
		m.logger.Error("workflow validation failed",
			zap.String("workflow_id", workflowID),
			zap.Error(err))
		return "", err
	}
	graph, err := engine.Compile(wf)
	if err != nil {
		return "", err
	}

	accounts, err := m.entities.ListAccounts(ctx, ports.AccountFilter{
		Group:    opts.Group,
		Statuses: opts.Statuses,
		Limit:    opts.Limit,
	})
	if err != nil {
		return "", fmt.Errorf("failed to list accounts: %w", err)
	}
	accounts = uniqueAccounts(accounts)

	run := &domain.ExecutionRun{
		ID:           uuid.New().String(),
		WorkflowID:   wf.ID,
		WorkflowName: wf.Name,
		Status:       domain.RunStatusRunning,
		StartedAt:    time.Now(),
		Options:      opts,
		Total:        len(accounts),
		Threads:      make(map[string]*domain.ThreadState, len(accounts)),
	}
	rs := newRunState(run, m.opts.MaxLogEntries)
	m.runs.Store(run.ID, rs)

	m.metrics.RecordRunStarted()
	m.sink.StatusChanged(rs.snapshot())
	m.logger.Info("run started",
		zap.String("run_id", run.ID),
		zap.String("workflow_id", wf.ID),
		zap.String("group", opts.Group),
		zap.Int("accounts", len(accounts)),
		zap.Int("concurrency", opts.Concurrency))
	m.appendLog(rs, "", domain.LogLevelInfo, fmt.Sprintf(
		"run started: %d accounts, concurrency %d, stagger %gs",
		len(accounts), opts.Concurrency, opts.StaggerSeconds))

	m.wg.Add(1)
	go m.execute(rs, graph, accounts)

	return run.ID, nil
}

func validateOptions(opts *domain.RunOptions) error {
	opts.Group = strings.TrimSpace(opts.Group)
	if opts.Group == "" {
		return &domain.ConfigError{Field: "group", Message: "account group is required"}
	}
	if opts.Concurrency < 0 {
		return &domain.ConfigError{Field: "concurrency", Message: "must not be negative"}
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = 1
	}
	if opts.StaggerSeconds < 0 {
		return &domain.ConfigError{Field: "stagger_seconds", Message: "must not be negative"}
	}
	if opts.Limit < 0 {
		return &domain.ConfigError{Field: "limit", Message: "must not be negative"}
	}
	return nil
}

func uniqueAccounts(accounts []domain.Account) []domain.Account {
	seen := make(map[string]bool, len(accounts))
	out := accounts[:0]
	for _, a := range accounts {
		if seen[a.Key()] {
			continue
		}
		seen[a.Key()] = true
		out = append(out, a)
	}
	return out
}

// execute drives the chunk loop of one run to a terminal status
func (m *Manager) execute(rs *runState, g *engine.Graph, accounts []domain.Account) {
	defer m.wg.Done()
	defer close(rs.done)
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("run panicked",
				zap.String("run_id", rs.id()),
				zap.Any("panic", r))
			m.finish(rs, domain.RunStatusFailed, fmt.Sprintf("panic: %v", r))
		}
	}()

	opts := rs.snapshot().Options
	pool := workers.NewPool(workers.Config{
		Size:    opts.Concurrency,
		Stagger: time.Duration(opts.StaggerSeconds * float64(time.Second)),
		Signal:  rs.signal,
		Metrics: m.metrics,
		Logger:  m.logger.With(zap.String("run_id", rs.id())),
	})

	err := pool.Run(m.ctx, len(accounts), func(ctx context.Context, index int, waitErr error) {
		m.runThread(ctx, rs, g, accounts[index], index, waitErr)
	})
	if err != nil {
		m.finish(rs, domain.RunStatusFailed, err.Error())
		return
	}

	if rs.status() == domain.RunStatusStopping {
		m.finish(rs, domain.RunStatusStopped, "")
		return
	}
	m.finish(rs, domain.RunStatusCompleted, "")
}

// runThread runs one entity and records its terminal thread state
func (m *Manager) runThread(ctx context.Context, rs *runState, g *engine.Graph, account domain.Account, index int, waitErr error) {
	key := account.Key()
	m.sink.ThreadUpdated(rs.id(), rs.startThread(key, index))
	m.appendLog(rs, key, domain.LogLevelInfo, fmt.Sprintf("started (%d/%d)", index+1, rs.run.Total))

	err := waitErr
	if err == nil {
		err = m.walk(ctx, rs, g, account)
	}

	th := rs.finishThread(key, err)
	switch {
	case err == nil:
		m.appendLog(rs, key, domain.LogLevelSuccess, "completed")
	case domain.IsAbort(err):
		m.appendLog(rs, key, domain.LogLevelWarn, domain.AbortedMarker)
	default:
		m.appendLog(rs, key, domain.LogLevelError, "failed: "+err.Error())
		m.logger.Warn("thread failed",
			zap.String("run_id", rs.id()),
			zap.String("account", key),
			zap.Error(err))
	}
	if th != nil {
		m.metrics.RecordThreadFinished(string(th.Status), th.EndedAt.Sub(th.StartedAt))
		m.sink.ThreadUpdated(rs.id(), th)
	}
}

// walk builds the entity context, runs the graph and releases every
// resource the steps acquired, whatever the outcome.
func (m *Manager) walk(ctx context.Context, rs *runState, g *engine.Graph, account domain.Account) (err error) {
	key := account.Key()

	var proxy *domain.Proxy
	if group := rs.run.Options.ProxyGroup; group != "" {
		p, perr := m.entities.PopProxy(ctx, group)
		switch {
		case errors.Is(perr, domain.ErrPoolEmpty):
			m.appendLog(rs, key, domain.LogLevelWarn, fmt.Sprintf("proxy pool %s is empty, running without proxy", group))
		case perr != nil:
			return fmt.Errorf("failed to take proxy from %s: %w", group, perr)
		default:
			proxy = p
			m.appendLog(rs, key, domain.LogLevelInfo, "using proxy "+p.Address())
		}
	}

	ec := engine.NewContext(account, proxy, rs.signal, func(level domain.LogLevel, msg string) {
		m.appendLog(rs, key, level, msg)
	})

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		relCtx, cancel := context.WithTimeout(context.Background(), m.opts.ReleaseTimeout)
		defer cancel()
		if rerr := ec.Release(relCtx); rerr != nil {
			m.appendLog(rs, key, domain.LogLevelWarn, "cleanup: "+rerr.Error())
			m.logger.Warn("failed to release entity resources",
				zap.String("run_id", rs.id()),
				zap.String("account", key),
				zap.Error(rerr))
		}
	}()

	return m.runner.Run(ctx, g, ec)
}

// finish moves the run to a terminal status and snapshots it
func (m *Manager) finish(rs *runState, status domain.RunStatus, errMsg string) {
	if !rs.transition(status, errMsg) {
		return
	}

	snap := rs.snapshot()
	m.metrics.RecordRunFinished(string(status), snap.EndedAt.Sub(snap.StartedAt))
	m.appendLog(rs, "", domain.LogLevelInfo, fmt.Sprintf("run %s: %d succeeded, %d failed",
		status, snap.CountThreads(domain.ThreadStatusSuccess), snap.CountThreads(domain.ThreadStatusError)))
	snap = rs.snapshot()
	m.sink.StatusChanged(snap)

	m.logger.Info("run finished",
		zap.String("run_id", snap.ID),
		zap.String("status", string(status)),
		zap.Duration("duration", snap.EndedAt.Sub(snap.StartedAt)))

	if m.runStore != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.runStore.SaveRun(ctx, snap); err != nil {
			m.logger.Error("failed to save run snapshot",
				zap.String("run_id", snap.ID),
				zap.Error(err))
		}
	}
}

// Cancel requests a cooperative stop. Returns false when the run is
// unknown or no longer running.
func (m *Manager) Cancel(ctx context.Context, runID string) bool {
	rs := m.lookup(runID)
	if rs == nil {
		return false
	}
	if !rs.transition(domain.RunStatusStopping, "") {
		return false
	}
	rs.signal.Stop()

	m.sink.StatusChanged(rs.snapshot())
	m.appendLog(rs, "", domain.LogLevelWarn, "stop requested")
	m.logger.Info("run stop requested", zap.String("run_id", runID))
	return true
}

// GetStatus returns a snapshot of the run, falling back to the run store
// for runs no longer retained in memory.
func (m *Manager) GetStatus(ctx context.Context, runID string) (*domain.ExecutionRun, error) {
	if rs := m.lookup(runID); rs != nil {
		return rs.snapshot(), nil
	}
	if m.runStore != nil {
		run, err := m.runStore.GetRun(ctx, runID)
		if err == nil {
			return run, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("failed to get run: %w", err)
		}
	}
	return nil, fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
}

// GetLogs returns the run's log, or one thread's log when thread is set
func (m *Manager) GetLogs(ctx context.Context, runID, thread string) ([]domain.LogEntry, error) {
	run, err := m.GetStatus(ctx, runID)
	if err != nil {
		return nil, err
	}
	if thread == "" {
		return run.Logs, nil
	}
	th, ok := run.Threads[thread]
	if !ok {
		return nil, fmt.Errorf("thread %s of run %s: %w", thread, runID, domain.ErrNotFound)
	}
	return th.Logs, nil
}

// ListRuns returns snapshots of every run held in memory, newest first
func (m *Manager) ListRuns() []*domain.ExecutionRun {
	var runs []*domain.ExecutionRun
	m.runs.Range(func(_, value any) bool {
		runs = append(runs, value.(*runState).snapshot())
		return true
	})
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs
}

// Wait blocks until the run reaches a terminal status
func (m *Manager) Wait(ctx context.Context, runID string) (*domain.ExecutionRun, error) {
	rs := m.lookup(runID)
	if rs == nil {
		return m.GetStatus(ctx, runID)
	}
	select {
	case <-rs.done:
		return rs.snapshot(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats reports engine load for the health monitor
func (m *Manager) Stats() workers.Stats {
	var s workers.Stats
	m.runs.Range(func(_, value any) bool {
		rs := value.(*runState)
		if rs.status().IsTerminal() {
			s.RetainedRuns++
			return true
		}
		s.ActiveRuns++
		s.RunningThreads += rs.runningThreads()
		return true
	})
	return s
}

func (m *Manager) lookup(runID string) *runState {
	val, ok := m.runs.Load(runID)
	if !ok {
		return nil
	}
	return val.(*runState)
}

func (m *Manager) appendLog(rs *runState, thread string, level domain.LogLevel, msg string) {
	entry := rs.appendLog(thread, level, msg)
	m.sink.LogAppended(rs.id(), entry)
	m.logger.Debug(msg,
		zap.String("run_id", rs.id()),
		zap.String("thread", thread),
		zap.String("level", string(level)))
}

// Shutdown stops every live run and waits for the runs to unwind. In-flight
// I/O is interrupted only once ctx expires, so threads that honour the stop
// signal finish as aborted.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down run manager")
	m.stopOnce.Do(func() { close(m.janitorCh) })
	defer m.cancel()

	m.runs.Range(func(key, value any) bool {
		m.Cancel(ctx, key.(string))
		return true
	})

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("run manager shut down complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}
