package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/aescanero/flowfarm/internal/domain"
	"github.com/aescanero/flowfarm/internal/ports"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *EntityStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("flowfarm"),
		postgres.WithUsername("flowfarm"),
		postgres.WithPassword("flowfarm"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Errorf("failed to terminate container: %s", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store := NewEntityStore(pool, zap.NewNop())
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx), "schema is idempotent")
	return store
}

func TestPostgresEntityStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("accounts", func(t *testing.T) {
		require.NoError(t, store.SaveAccounts(ctx, []domain.Account{
			{ID: "z", Email: "z@example.com", Group: "g1", Status: "new", RefreshToken: "rt"},
			{ID: "a", Email: "a@example.com", Group: "g1", Status: "banned"},
			{ID: "m", Email: "m@example.com", Group: "g1", Status: "new"},
			{Email: "o@example.com", Group: "g2", Status: "new"},
		}))

		all, err := store.ListAccounts(ctx, ports.AccountFilter{Group: "g1"})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"z", "a", "m"}, []string{all[0].ID, all[1].ID, all[2].ID})
		assert.Equal(t, "rt", all[0].RefreshToken)

		fresh, err := store.ListAccounts(ctx, ports.AccountFilter{Group: "g1", Statuses: []string{"new"}, Limit: 1})
		require.NoError(t, err)
		require.Len(t, fresh, 1)
		assert.Equal(t, "z", fresh[0].ID)

		other, err := store.ListAccounts(ctx, ports.AccountFilter{Group: "g2"})
		require.NoError(t, err)
		require.Len(t, other, 1)
		assert.NotEmpty(t, other[0].ID)

		require.NoError(t, store.UpdateAccountStatus(ctx, "a", "new"))
		got, err := store.GetAccount(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "new", got.Status)

		assert.ErrorIs(t, store.UpdateAccountStatus(ctx, "ghost", "x"), domain.ErrNotFound)
		_, err = store.GetAccount(ctx, "ghost")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("upsert keeps creation order", func(t *testing.T) {
		require.NoError(t, store.SaveAccounts(ctx, []domain.Account{
			{ID: "z", Email: "z2@example.com", Group: "g1", Status: "done"},
		}))
		all, err := store.ListAccounts(ctx, ports.AccountFilter{Group: "g1"})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "z", all[0].ID)
		assert.Equal(t, "z2@example.com", all[0].Email)
	})

	t.Run("proxies", func(t *testing.T) {
		require.NoError(t, store.PushProxies(ctx, []domain.Proxy{
			{Group: "res", Host: "10.0.0.1", Port: 8000},
			{Group: "res", Host: "10.0.0.2", Port: 8001, Username: "u", Password: "p"},
		}))

		p1, err := store.PopProxy(ctx, "res")
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.1", p1.Host)

		p2, err := store.PopProxy(ctx, "res")
		require.NoError(t, err)
		assert.Equal(t, 8001, p2.Port)
		assert.Equal(t, "u", p2.Username)

		_, err = store.PopProxy(ctx, "res")
		assert.ErrorIs(t, err, domain.ErrPoolEmpty)
	})

	t.Run("concurrent pops hand out each proxy once", func(t *testing.T) {
		var proxies []domain.Proxy
		for i := 0; i < 20; i++ {
			proxies = append(proxies, domain.Proxy{Group: "race", Host: fmt.Sprintf("10.1.0.%d", i), Port: 8000})
		}
		require.NoError(t, store.PushProxies(ctx, proxies))

		var mu sync.Mutex
		seen := map[string]int{}
		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					p, err := store.PopProxy(ctx, "race")
					if err != nil {
						return
					}
					mu.Lock()
					seen[p.Host]++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Len(t, seen, 20)
		for host, n := range seen {
			assert.Equal(t, 1, n, host)
		}
	})
}
