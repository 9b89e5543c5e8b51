package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aescanero/flowfarm/internal/application/orchestrator"
	"github.com/aescanero/flowfarm/internal/application/steps"
	"github.com/aescanero/flowfarm/internal/domain"
	"github.com/aescanero/flowfarm/pkg/adapters/events"
	"github.com/aescanero/flowfarm/pkg/adapters/events/memory"
	storage "github.com/aescanero/flowfarm/pkg/adapters/storage/memory"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type streamFixture struct {
	server  *httptest.Server
	manager *orchestrator.Manager
}

func newStreamFixture(t *testing.T) *streamFixture {
	t.Helper()
	logger := zap.NewNop()
	bus := memory.NewInMemoryEventBus(logger)
	workflows := storage.NewWorkflowRepository()
	entities := storage.NewEntityStore()

	ctx := context.Background()
	require.NoError(t, workflows.SaveWorkflow(ctx, &domain.WorkflowDefinition{
		ID: "slow",
		Nodes: []domain.Node{
			{ID: "start", Kind: domain.KindStart},
			{ID: "wait", Kind: domain.KindWait, Config: domain.NodeConfig{"seconds": 0.3}},
		},
		Edges: []domain.Edge{{ID: "e1", Source: "start", Target: "wait"}},
	}))
	require.NoError(t, entities.SaveAccounts(ctx, []domain.Account{
		{ID: "a1", Group: "batch"},
		{ID: "a2", Group: "batch"},
	}))

	manager := orchestrator.NewManager(workflows, entities, nil, events.NewBusSink(bus, "", logger), nil,
		steps.NewRegistry(steps.Deps{Store: entities}), logger, orchestrator.Options{})

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/runs/:id/ws", NewHandler(bus, manager, logger).HandleRunStream)
	server := httptest.NewServer(router)

	t.Cleanup(func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
		_ = bus.Close()
	})
	return &streamFixture{server: server, manager: manager}
}

func (f *streamFixture) dial(t *testing.T, runID string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/runs/" + runID + "/ws"
	return websocket.DefaultDialer.Dial(url, nil)
}

// readAll collects events until the server ends the stream
func readAll(t *testing.T, conn *websocket.Conn) []domain.Event {
	t.Helper()
	var out []domain.Event
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return out
		}
		var ev domain.Event
		require.NoError(t, json.Unmarshal(data, &ev))
		out = append(out, ev)
	}
}

func TestRunStreamFollowsRun(t *testing.T) {
	f := newStreamFixture(t)

	runID, err := f.manager.Start(context.Background(), "slow", domain.RunOptions{Group: "batch", Concurrency: 2})
	require.NoError(t, err)

	conn, _, err := f.dial(t, runID)
	require.NoError(t, err)
	defer conn.Close()

	got := readAll(t, conn)
	require.NotEmpty(t, got)

	assert.Equal(t, "snapshot", got[0].ID)
	assert.Equal(t, domain.EventTypeStatusChanged, got[0].Type)
	for _, ev := range got {
		assert.Equal(t, runID, ev.RunID)
	}

	last := got[len(got)-1]
	assert.Equal(t, domain.EventTypeStatusChanged, last.Type)
	assert.Equal(t, string(domain.RunStatusCompleted), last.Data["status"])
}

func TestRunStreamOfFinishedRun(t *testing.T) {
	f := newStreamFixture(t)

	runID, err := f.manager.Start(context.Background(), "slow", domain.RunOptions{Group: "batch", Concurrency: 2})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = f.manager.Wait(ctx, runID)
	require.NoError(t, err)

	conn, _, err := f.dial(t, runID)
	require.NoError(t, err)
	defer conn.Close()

	got := readAll(t, conn)
	require.Len(t, got, 1)
	assert.Equal(t, "snapshot", got[0].ID)
	assert.Equal(t, string(domain.RunStatusCompleted), got[0].Data["status"])
}

func TestRunStreamUnknownRun(t *testing.T) {
	f := newStreamFixture(t)

	_, resp, err := f.dial(t, "missing")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, isTerminal(domain.Event{Type: domain.EventTypeStatusChanged, Data: map[string]any{"status": "stopped"}}))
	assert.False(t, isTerminal(domain.Event{Type: domain.EventTypeStatusChanged, Data: map[string]any{"status": "stopping"}}))
	assert.False(t, isTerminal(domain.Event{Type: domain.EventTypeThreadUpdated, Data: map[string]any{"status": "failed"}}))
	assert.False(t, isTerminal(domain.Event{Type: domain.EventTypeStatusChanged}))
}
