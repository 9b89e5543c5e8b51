package domain

import "time"

// RunStatus is the lifecycle state of an ExecutionRun
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusStopping  RunStatus = "stopping"
	RunStatusCompleted RunStatus = "completed"
	RunStatusStopped   RunStatus = "stopped"
	RunStatusFailed    RunStatus = "failed"
)

// IsTerminal reports whether the run can no longer change
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusStopped || s == RunStatusFailed
}

// CanTransition enforces running -> {stopping -> stopped | completed | failed}
func (s RunStatus) CanTransition(to RunStatus) bool {
	switch s {
	case RunStatusRunning:
		return to == RunStatusStopping || to == RunStatusCompleted || to == RunStatusFailed
	case RunStatusStopping:
		return to == RunStatusStopped || to == RunStatusFailed
	default:
		return false
	}
}

// ThreadStatus is the state of one entity's walk
type ThreadStatus string

const (
	ThreadStatusRunning ThreadStatus = "running"
	ThreadStatusSuccess ThreadStatus = "success"
	ThreadStatusError   ThreadStatus = "error"
)

// LogLevel is the severity of a LogEntry
type LogLevel string

const (
	LogLevelInfo    LogLevel = "info"
	LogLevelSuccess LogLevel = "success"
	LogLevelWarn    LogLevel = "warn"
	LogLevelError   LogLevel = "error"
)

// AbortedMarker is the error text recorded on threads unwound by cancellation
const AbortedMarker = "aborted"

// RunOptions selects the cohort and shapes scheduling
type RunOptions struct {
	Group          string   `json:"group"`
	Statuses       []string `json:"statuses,omitempty"`
	Limit          int      `json:"limit,omitempty"`
	Concurrency    int      `json:"concurrency,omitempty"`
	StaggerSeconds float64  `json:"stagger_seconds,omitempty"`
	ProxyGroup     string   `json:"proxy_group,omitempty"`
}

// ExecutionRun is one execution of a workflow against a cohort
type ExecutionRun struct {
	ID           string                  `json:"id"`
	WorkflowID   string                  `json:"workflow_id"`
	WorkflowName string                  `json:"workflow_name,omitempty"`
	Status       RunStatus               `json:"status"`
	StartedAt    time.Time               `json:"started_at"`
	EndedAt      *time.Time              `json:"ended_at,omitempty"`
	Options      RunOptions              `json:"options"`
	Total        int                     `json:"total"`
	Error        string                  `json:"error,omitempty"`
	Logs         []LogEntry              `json:"logs"`
	Threads      map[string]*ThreadState `json:"threads"`
}

// ThreadState is the recorded state of one entity within a run
type ThreadState struct {
	Key       string       `json:"key"`
	Index     int          `json:"index"`
	Total     int          `json:"total"`
	Status    ThreadStatus `json:"status"`
	StartedAt time.Time    `json:"started_at"`
	EndedAt   *time.Time   `json:"ended_at,omitempty"`
	Error     string       `json:"error,omitempty"`
	Aborted   bool         `json:"aborted,omitempty"`
	Logs      []LogEntry   `json:"logs"`
}

// LogEntry is one line of run or thread output
type LogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Level     LogLevel  `json:"level"`
	Thread    string    `json:"thread,omitempty"`
}

// Clone copies a thread state including its logs
func (t *ThreadState) Clone() *ThreadState {
	if t == nil {
		return nil
	}
	c := *t
	c.Logs = append([]LogEntry(nil), t.Logs...)
	if t.EndedAt != nil {
		ended := *t.EndedAt
		c.EndedAt = &ended
	}
	return &c
}

// Clone deep-copies the run so a snapshot can leave the registry lock
func (r *ExecutionRun) Clone() *ExecutionRun {
	if r == nil {
		return nil
	}
	c := *r
	c.Options.Statuses = append([]string(nil), r.Options.Statuses...)
	c.Logs = append([]LogEntry(nil), r.Logs...)
	if r.EndedAt != nil {
		ended := *r.EndedAt
		c.EndedAt = &ended
	}
	c.Threads = make(map[string]*ThreadState, len(r.Threads))
	for k, t := range r.Threads {
		c.Threads[k] = t.Clone()
	}
	return &c
}

// CountThreads returns the number of threads in the given status
func (r *ExecutionRun) CountThreads(status ThreadStatus) int {
	n := 0
	for _, t := range r.Threads {
		if t.Status == status {
			n++
		}
	}
	return n
}
