package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/aescanero/flowfarm/internal/domain"
	"github.com/aescanero/flowfarm/internal/ports"
	"github.com/google/uuid"
)

// RunStore implements ports.RunStore using an in-memory map
type RunStore struct {
	runs map[string]*domain.ExecutionRun
	mu   sync.RWMutex
}

// NewRunStore creates a new in-memory run store
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]*domain.ExecutionRun)}
}

// SaveRun stores a copy of the run
func (s *RunStore) SaveRun(ctx context.Context, run *domain.ExecutionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.ID] = run.Clone()
	return nil
}

// GetRun retrieves a copy of the run
func (s *RunStore) GetRun(ctx context.Context, runID string) (*domain.ExecutionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
	}
	return run.Clone(), nil
}

// DeleteRun removes a run
func (s *RunStore) DeleteRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.runs, runID)
	return nil
}

// WorkflowRepository implements ports.WorkflowRepository in memory
type WorkflowRepository struct {
	workflows map[string]*domain.WorkflowDefinition
	mu        sync.RWMutex
}

// NewWorkflowRepository creates a new in-memory workflow repository
func NewWorkflowRepository() *WorkflowRepository {
	return &WorkflowRepository{workflows: make(map[string]*domain.WorkflowDefinition)}
}

// SaveWorkflow stores a copy of the workflow, stamping its timestamps
func (r *WorkflowRepository) SaveWorkflow(ctx context.Context, wf *domain.WorkflowDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := wf.Clone()
	now := time.Now()
	if prev, ok := r.workflows[c.ID]; ok {
		c.CreatedAt = prev.CreatedAt
	} else if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	r.workflows[c.ID] = c
	return nil
}

// GetWorkflow retrieves a copy of the workflow
func (r *WorkflowRepository) GetWorkflow(ctx context.Context, id string) (*domain.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wf, ok := r.workflows[id]
	if !ok {
		return nil, fmt.Errorf("workflow %s: %w", id, domain.ErrNotFound)
	}
	return wf.Clone(), nil
}

// ListWorkflows returns every workflow ordered by id
func (r *WorkflowRepository) ListWorkflows(ctx context.Context) ([]*domain.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.WorkflowDefinition, 0, len(r.workflows))
	for _, wf := range r.workflows {
		out = append(out, wf.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteWorkflow removes a workflow
func (r *WorkflowRepository) DeleteWorkflow(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.workflows[id]; !ok {
		return fmt.Errorf("workflow %s: %w", id, domain.ErrNotFound)
	}
	delete(r.workflows, id)
	return nil
}

// EntityStore implements ports.EntityStore in memory. Accounts keep their
// insertion order.
type EntityStore struct {
	accounts map[string]*domain.Account
	order    []string
	proxies  map[string][]domain.Proxy
	mu       sync.Mutex
}

// NewEntityStore creates a new in-memory entity store
func NewEntityStore() *EntityStore {
	return &EntityStore{
		accounts: make(map[string]*domain.Account),
		proxies:  make(map[string][]domain.Proxy),
	}
}

// ListAccounts returns the accounts of a group, filtered by status
func (s *EntityStore) ListAccounts(ctx context.Context, filter ports.AccountFilter) ([]domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Account
	for _, id := range s.order {
		a := s.accounts[id]
		if a.Group != filter.Group {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, a.Status) {
			continue
		}
		out = append(out, *a)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// GetAccount retrieves an account by id
func (s *EntityStore) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
	}
	c := *a
	return &c, nil
}

// SaveAccounts upserts accounts, assigning ids where missing
func (s *EntityStore) SaveAccounts(ctx context.Context, accounts []domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, a := range accounts {
		a := a // per-iteration copy; &a is stored below (pre-Go 1.22 loop semantics)
		if a.ID == "" {
			a.ID = uuid.New().String()
		}
		if prev, ok := s.accounts[a.ID]; ok {
			a.CreatedAt = prev.CreatedAt
		} else {
			s.order = append(s.order, a.ID)
			if a.CreatedAt.IsZero() {
				a.CreatedAt = now
			}
		}
		a.UpdatedAt = now
		s.accounts[a.ID] = &a
	}
	return nil
}

// UpdateAccountStatus sets the status of an account
func (s *EntityStore) UpdateAccountStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
	}
	a.Status = status
	a.UpdatedAt = time.Now()
	return nil
}

// PushProxies appends proxies to their group's pool
func (s *EntityStore) PushProxies(ctx context.Context, proxies []domain.Proxy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range proxies {
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
		s.proxies[p.Group] = append(s.proxies[p.Group], p)
	}
	return nil
}

// PopProxy removes and returns the oldest proxy of the group
func (s *EntityStore) PopProxy(ctx context.Context, group string) (*domain.Proxy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pool := s.proxies[group]
	if len(pool) == 0 {
		return nil, domain.ErrPoolEmpty
	}
	p := pool[0]
	s.proxies[group] = pool[1:]
	return &p, nil
}
