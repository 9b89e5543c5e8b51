package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/aescanero/flowfarm/internal/domain"
	"github.com/aescanero/flowfarm/internal/ports"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix     = "flowfarm:"
	accountSeqKey = keyPrefix + "account_seq"
)

// RunStore implements ports.RunStore using Redis
type RunStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewRunStore creates a new Redis run store. Snapshots expire after ttl
// (never when ttl is zero).
func NewRunStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RunStore {
	return &RunStore{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// SaveRun persists a run snapshot
func (s *RunStore) SaveRun(ctx context.Context, run *domain.ExecutionRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	if err := s.client.Set(ctx, runKey(run.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	s.logger.Debug("run saved",
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)))

	return nil
}

// GetRun retrieves a run snapshot
func (s *RunStore) GetRun(ctx context.Context, runID string) (*domain.ExecutionRun, error) {
	var run domain.ExecutionRun
	if err := getJSON(ctx, s.client, runKey(runID), &run); err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	return &run, nil
}

// DeleteRun deletes a run snapshot
func (s *RunStore) DeleteRun(ctx context.Context, runID string) error {
	if err := s.client.Del(ctx, runKey(runID)).Err(); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}

// WorkflowRepository implements ports.WorkflowRepository using Redis
type WorkflowRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewWorkflowRepository creates a new Redis workflow repository
func NewWorkflowRepository(client *redis.Client, logger *zap.Logger) *WorkflowRepository {
	return &WorkflowRepository{client: client, logger: logger}
}

// SaveWorkflow persists a workflow, keeping the original creation time
func (r *WorkflowRepository) SaveWorkflow(ctx context.Context, wf *domain.WorkflowDefinition) error {
	c := wf.Clone()
	now := time.Now()

	var prev domain.WorkflowDefinition
	err := getJSON(ctx, r.client, workflowKey(c.ID), &prev)
	switch {
	case err == nil:
		c.CreatedAt = prev.CreatedAt
	case errors.Is(err, domain.ErrNotFound):
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
	default:
		return err
	}
	c.UpdatedAt = now

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}
	if err := r.client.Set(ctx, workflowKey(c.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}

	r.logger.Debug("workflow saved", zap.String("workflow_id", c.ID))
	return nil
}

// GetWorkflow retrieves a workflow
func (r *WorkflowRepository) GetWorkflow(ctx context.Context, id string) (*domain.WorkflowDefinition, error) {
	var wf domain.WorkflowDefinition
	if err := getJSON(ctx, r.client, workflowKey(id), &wf); err != nil {
		return nil, fmt.Errorf("workflow %s: %w", id, err)
	}
	return &wf, nil
}

// ListWorkflows lists all workflows
func (r *WorkflowRepository) ListWorkflows(ctx context.Context) ([]*domain.WorkflowDefinition, error) {
	keys, err := scanKeys(ctx, r.client, workflowKey("*"))
	if err != nil {
		return nil, err
	}
	slices.Sort(keys)

	workflows := make([]*domain.WorkflowDefinition, 0, len(keys))
	for _, key := range keys {
		var wf domain.WorkflowDefinition
		if err := getJSON(ctx, r.client, key, &wf); err != nil {
			r.logger.Warn("skipping unreadable workflow",
				zap.String("key", key),
				zap.Error(err))
			continue
		}
		workflows = append(workflows, &wf)
	}
	return workflows, nil
}

// DeleteWorkflow deletes a workflow
func (r *WorkflowRepository) DeleteWorkflow(ctx context.Context, id string) error {
	n, err := r.client.Del(ctx, workflowKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("workflow %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// EntityStore implements ports.EntityStore using Redis. Accounts are JSON
// strings indexed per group by a sorted set scored on creation time; proxy
// pools are lists consumed with LPOP.
type EntityStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewEntityStore creates a new Redis entity store
func NewEntityStore(client *redis.Client, logger *zap.Logger) *EntityStore {
	return &EntityStore{client: client, logger: logger}
}

// ListAccounts returns the accounts of a group in creation order
func (s *EntityStore) ListAccounts(ctx context.Context, filter ports.AccountFilter) ([]domain.Account, error) {
	ids, err := s.client.ZRange(ctx, groupKey(filter.Group), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read group index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = accountKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read accounts: %w", err)
	}

	var out []domain.Account
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var a domain.Account
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			s.logger.Warn("skipping unreadable account",
				zap.String("account_id", ids[i]),
				zap.Error(err))
			continue
		}
		if a.Group != filter.Group {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, a.Status) {
			continue
		}
		out = append(out, a)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// GetAccount retrieves an account by id
func (s *EntityStore) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	var a domain.Account
	if err := getJSON(ctx, s.client, accountKey(id), &a); err != nil {
		return nil, fmt.Errorf("account %s: %w", id, err)
	}
	return &a, nil
}

// SaveAccounts upserts accounts and their group index entries. Index scores
// come from a sequence so a group lists in insertion order.
func (s *EntityStore) SaveAccounts(ctx context.Context, accounts []domain.Account) error {
	if len(accounts) == 0 {
		return nil
	}
	last, err := s.client.IncrBy(ctx, accountSeqKey, int64(len(accounts))).Result()
	if err != nil {
		return fmt.Errorf("failed to reserve account sequence: %w", err)
	}
	first := last - int64(len(accounts)) + 1

	now := time.Now()
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, a := range accounts {
			if a.ID == "" {
				a.ID = uuid.New().String()
			}
			if a.CreatedAt.IsZero() {
				a.CreatedAt = now
			}
			a.UpdatedAt = now

			data, err := json.Marshal(a)
			if err != nil {
				return fmt.Errorf("failed to marshal account: %w", err)
			}
			pipe.Set(ctx, accountKey(a.ID), data, 0)
			pipe.ZAddNX(ctx, groupKey(a.Group), redis.Z{
				Score:  float64(first + int64(i)),
				Member: a.ID,
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save accounts: %w", err)
	}
	return nil
}

// UpdateAccountStatus sets the status of an account with an optimistic
// WATCH transaction
func (s *EntityStore) UpdateAccountStatus(ctx context.Context, id, status string) error {
	key := accountKey(id)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		var a domain.Account
		if err := getJSON(ctx, tx, key, &a); err != nil {
			return fmt.Errorf("account %s: %w", id, err)
		}
		a.Status = status
		a.UpdatedAt = time.Now()

		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("failed to marshal account: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)
}

// PushProxies appends proxies to their group's pool
func (s *EntityStore) PushProxies(ctx context.Context, proxies []domain.Proxy) error {
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range proxies {
			if p.ID == "" {
				p.ID = uuid.New().String()
			}
			data, err := json.Marshal(p)
			if err != nil {
				return fmt.Errorf("failed to marshal proxy: %w", err)
			}
			pipe.RPush(ctx, proxyKey(p.Group), data)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to push proxies: %w", err)
	}
	return nil
}

// PopProxy atomically removes and returns the oldest proxy of the group
func (s *EntityStore) PopProxy(ctx context.Context, group string) (*domain.Proxy, error) {
	data, err := s.client.LPop(ctx, proxyKey(group)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrPoolEmpty
		}
		return nil, fmt.Errorf("failed to pop proxy: %w", err)
	}

	var p domain.Proxy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal proxy: %w", err)
	}
	return &p, nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getJSON(ctx context.Context, c getter, key string, v any) error {
	data, err := c.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

func scanKeys(ctx context.Context, c *redis.Client, pattern string) ([]string, error) {
	var cursor uint64
	var keys []string

	for {
		var batch []string
		var err error

		batch, cursor, err = c.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}

		keys = append(keys, batch...)

		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

func runKey(id string) string      { return keyPrefix + "run:" + id }
func workflowKey(id string) string { return keyPrefix + "workflow:" + id }
func accountKey(id string) string  { return keyPrefix + "account:" + id }
func groupKey(g string) string     { return keyPrefix + "group:" + g }
func proxyKey(g string) string     { return keyPrefix + "proxies:" + g }
