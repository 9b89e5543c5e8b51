package orchestrator

import (
	"sync"
	"time"

	"github.com/aescanero/flowfarm/internal/application/engine"
	"github.com/aescanero/flowfarm/internal/domain"
	"github.com/google/uuid"
)

// runState holds the live ExecutionRun of one run id. Every entity task
// writes only its own ThreadState slot; the mutex guards the shared map and
// log slice.
type runState struct {
	mu         sync.RWMutex
	run        *domain.ExecutionRun
	signal     *engine.Signal
	done       chan struct{}
	maxLogs    int
	finishedAt time.Time
}

func newRunState(run *domain.ExecutionRun, maxLogs int) *runState {
	return &runState{
		run:     run,
		signal:  engine.NewSignal(),
		done:    make(chan struct{}),
		maxLogs: maxLogs,
	}
}

func (rs *runState) id() string {
	return rs.run.ID
}

func (rs *runState) status() domain.RunStatus {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.run.Status
}

// transition applies a monotonic status change
func (rs *runState) transition(to domain.RunStatus, errMsg string) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if !rs.run.Status.CanTransition(to) {
		return false
	}
	rs.run.Status = to
	if errMsg != "" {
		rs.run.Error = errMsg
	}
	if to.IsTerminal() {
		now := time.Now()
		rs.run.EndedAt = &now
		rs.finishedAt = now
	}
	return true
}

func (rs *runState) snapshot() *domain.ExecutionRun {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.run.Clone()
}

// expired reports whether a terminal run has outlived retention
func (rs *runState) expired(now time.Time, retention time.Duration) bool {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.run.Status.IsTerminal() && now.Sub(rs.finishedAt) >= retention
}

func (rs *runState) startThread(key string, index int) *domain.ThreadState {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	th := &domain.ThreadState{
		Key:       key,
		Index:     index,
		Total:     rs.run.Total,
		Status:    domain.ThreadStatusRunning,
		StartedAt: time.Now(),
	}
	rs.run.Threads[key] = th
	return th.Clone()
}

func (rs *runState) finishThread(key string, err error) *domain.ThreadState {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	th, ok := rs.run.Threads[key]
	if !ok {
		return nil
	}
	now := time.Now()
	th.EndedAt = &now
	switch {
	case err == nil:
		th.Status = domain.ThreadStatusSuccess
	case domain.IsAbort(err):
		th.Status = domain.ThreadStatusError
		th.Aborted = true
		th.Error = domain.AbortedMarker
	default:
		th.Status = domain.ThreadStatusError
		th.Error = err.Error()
	}
	return th.Clone()
}

func (rs *runState) runningThreads() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.run.CountThreads(domain.ThreadStatusRunning)
}

// appendLog records an entry on the run and, when thread is set, on the
// thread. Both slices are capped at maxLogs, dropping the oldest entries.
func (rs *runState) appendLog(thread string, level domain.LogLevel, msg string) domain.LogEntry {
	entry := domain.LogEntry{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Message:   msg,
		Level:     level,
		Thread:    thread,
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.run.Logs = capLogs(append(rs.run.Logs, entry), rs.maxLogs)
	if thread != "" {
		if th, ok := rs.run.Threads[thread]; ok {
			th.Logs = capLogs(append(th.Logs, entry), rs.maxLogs)
		}
	}
	return entry
}

func capLogs(logs []domain.LogEntry, max int) []domain.LogEntry {
	if max <= 0 || len(logs) <= max {
		return logs
	}
	return append([]domain.LogEntry(nil), logs[len(logs)-max:]...)
}
