// Package ports declares the contracts between the execution engine and the
// outside world: event transport, run/workflow/entity storage, metrics, and
// the browser, profile-provisioning and mailbox capabilities.
package ports

import (
	"context"
	"time"

	"github.com/aescanero/flowfarm/internal/domain"
)

// EventHandler receives events from a subscription
type EventHandler func(ctx context.Context, event domain.Event) error

// EventBus is the pub/sub transport for run events
type EventBus interface {
	Publish(ctx context.Context, topic string, event domain.Event) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Close() error
}

// EventSink receives status, thread and log notifications from the orchestrator.
// Calls for one thread are made in emission order.
type EventSink interface {
	StatusChanged(run *domain.ExecutionRun)
	ThreadUpdated(runID string, thread *domain.ThreadState)
	LogAppended(runID string, entry domain.LogEntry)
}

// RunStore keeps snapshots of finished runs after they leave the registry
type RunStore interface {
	SaveRun(ctx context.Context, run *domain.ExecutionRun) error
	GetRun(ctx context.Context, runID string) (*domain.ExecutionRun, error)
	DeleteRun(ctx context.Context, runID string) error
}

// WorkflowRepository persists workflow definitions
type WorkflowRepository interface {
	SaveWorkflow(ctx context.Context, wf *domain.WorkflowDefinition) error
	GetWorkflow(ctx context.Context, id string) (*domain.WorkflowDefinition, error)
	ListWorkflows(ctx context.Context) ([]*domain.WorkflowDefinition, error)
	DeleteWorkflow(ctx context.Context, id string) error
}

// AccountFilter selects a run cohort
type AccountFilter struct {
	Group    string
	Statuses []string
	Limit    int
}

// EntityStore is the record store for accounts and proxy pools
type EntityStore interface {
	ListAccounts(ctx context.Context, filter AccountFilter) ([]domain.Account, error)
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	SaveAccounts(ctx context.Context, accounts []domain.Account) error
	UpdateAccountStatus(ctx context.Context, id, status string) error
	PushProxies(ctx context.Context, proxies []domain.Proxy) error
	// PopProxy atomically removes and returns one proxy of the group,
	// or domain.ErrPoolEmpty.
	PopProxy(ctx context.Context, group string) (*domain.Proxy, error)
}

// MetricsCollector records engine metrics
type MetricsCollector interface {
	RecordRunStarted()
	RecordRunFinished(status string, duration time.Duration)
	RecordThreadFinished(status string, duration time.Duration)
	ObserveStepDuration(kind string, duration time.Duration)
	IncStepFailures(kind, reason string)
	ObserveStaggerWait(duration time.Duration)
	SetActiveRuns(count int)
	SetRunningThreads(count int)
}

// ProfileSpec describes an ephemeral browser profile
type ProfileSpec struct {
	Name     string
	Proxy    *domain.Proxy
	StartURL string
}

// ProfileProvisioner creates and drives remote browser profiles
type ProfileProvisioner interface {
	CreateProfile(ctx context.Context, spec ProfileSpec) (string, error)
	// StartProfile returns a connectable DevTools endpoint
	StartProfile(ctx context.Context, profileID string) (string, error)
	StopProfile(ctx context.Context, profileID string) error
	// DeleteProfile removes the profile remotely and its local data
	DeleteProfile(ctx context.Context, profileID string) error
}

// HTTPRequest is issued from inside a page's session
type HTTPRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

// HTTPResponse is the result of a page-side request
type HTTPResponse struct {
	Status int
	Body   string
}

// Browser connects to a running browser endpoint
type Browser interface {
	Connect(ctx context.Context, endpoint string) (Page, error)
}

// Page is one automation session
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, selector string) error
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	Text(ctx context.Context, selector string) (string, error)
	Exists(ctx context.Context, selector string) (bool, error)
	Content(ctx context.Context) (string, error)
	Fetch(ctx context.Context, req HTTPRequest) (*HTTPResponse, error)
	Close() error
}

// MailCredentials authenticate a mailbox session
type MailCredentials struct {
	Address      string
	ClientID     string
	RefreshToken string
}

// MailQuery filters messages by recency, sender and subject
type MailQuery struct {
	Since   time.Time
	From    string
	Subject string
	Limit   int
}

// MailMessage is a fetched and parsed message
type MailMessage struct {
	Folder  string
	UID     uint32
	From    string
	Subject string
	Date    time.Time
	Body    string
}

// MailboxProvider opens mailbox sessions
type MailboxProvider interface {
	Open(ctx context.Context, creds MailCredentials) (MailSession, error)
}

// MailSession searches the fixed folder set of one mailbox
type MailSession interface {
	// Search returns matching messages, newest first
	Search(ctx context.Context, query MailQuery) ([]MailMessage, error)
	// Delete marks matching messages deleted and expunges them
	Delete(ctx context.Context, query MailQuery) (int, error)
	Close() error
}
