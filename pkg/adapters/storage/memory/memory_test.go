package memory

import (
	"context"
	"testing"

	"github.com/aescanero/flowfarm/internal/domain"
	"github.com/aescanero/flowfarm/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStoreCopies(t *testing.T) {
	store := NewRunStore()
	ctx := context.Background()

	run := &domain.ExecutionRun{ID: "r1", Status: domain.RunStatusCompleted, Threads: map[string]*domain.ThreadState{}}
	require.NoError(t, store.SaveRun(ctx, run))
	run.Status = domain.RunStatusFailed

	got, err := store.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, got.Status)

	require.NoError(t, store.DeleteRun(ctx, "r1"))
	_, err = store.GetRun(ctx, "r1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWorkflowRepository(t *testing.T) {
	repo := NewWorkflowRepository()
	ctx := context.Background()

	require.NoError(t, repo.SaveWorkflow(ctx, &domain.WorkflowDefinition{ID: "b", Name: "first"}))
	require.NoError(t, repo.SaveWorkflow(ctx, &domain.WorkflowDefinition{ID: "a"}))
	first, err := repo.GetWorkflow(ctx, "b")
	require.NoError(t, err)

	require.NoError(t, repo.SaveWorkflow(ctx, &domain.WorkflowDefinition{ID: "b", Name: "second"}))
	second, err := repo.GetWorkflow(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "second", second.Name)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)

	list, err := repo.ListWorkflows(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)

	require.NoError(t, repo.DeleteWorkflow(ctx, "a"))
	assert.ErrorIs(t, repo.DeleteWorkflow(ctx, "a"), domain.ErrNotFound)
}

func TestEntityStore(t *testing.T) {
	store := NewEntityStore()
	ctx := context.Background()

	require.NoError(t, store.SaveAccounts(ctx, []domain.Account{
		{ID: "3", Group: "g", Status: "new"},
		{ID: "1", Group: "g", Status: "banned"},
		{ID: "2", Group: "g", Status: "new"},
		{Group: "other", Status: "new"},
	}))

	all, err := store.ListAccounts(ctx, ports.AccountFilter{Group: "g"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "3", all[0].ID)
	assert.Equal(t, "1", all[1].ID)

	fresh, err := store.ListAccounts(ctx, ports.AccountFilter{Group: "g", Statuses: []string{"new"}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, "3", fresh[0].ID)

	other, err := store.ListAccounts(ctx, ports.AccountFilter{Group: "other"})
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.NotEmpty(t, other[0].ID)

	require.NoError(t, store.UpdateAccountStatus(ctx, "1", "new"))
	got, err := store.GetAccount(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Status)
	assert.ErrorIs(t, store.UpdateAccountStatus(ctx, "nope", "x"), domain.ErrNotFound)
}

func TestProxyPool(t *testing.T) {
	store := NewEntityStore()
	ctx := context.Background()

	require.NoError(t, store.PushProxies(ctx, []domain.Proxy{
		{Group: "p", Host: "a", Port: 1},
		{Group: "p", Host: "b", Port: 2},
	}))

	first, err := store.PopProxy(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, "a", first.Host)

	second, err := store.PopProxy(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, "b", second.Host)

	_, err = store.PopProxy(ctx, "p")
	assert.ErrorIs(t, err, domain.ErrPoolEmpty)
}
